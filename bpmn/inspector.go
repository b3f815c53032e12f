// Package bpmn discovers inbound correlation points in BPMN process models.
package bpmn

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/goliatone/go-connectors/core"
)

// PropertyConnectorType marks an element as an inbound correlation point.
const PropertyConnectorType = "inbound.type"

// ModelSource returns the BPMN XML of a deployed definition.
type ModelSource interface {
	ProcessModel(ctx context.Context, ref core.ProcessDefinitionRef) ([]byte, error)
}

type ModelSourceFunc func(ctx context.Context, ref core.ProcessDefinitionRef) ([]byte, error)

func (f ModelSourceFunc) ProcessModel(ctx context.Context, ref core.ProcessDefinitionRef) ([]byte, error) {
	return f(ctx, ref)
}

type definitions struct {
	Messages  []message `xml:"message"`
	Processes []process `xml:"process"`
}

type message struct {
	ID           string       `xml:"id,attr"`
	Name         string       `xml:"name,attr"`
	Subscription subscription `xml:"extensionElements>subscription"`
}

type subscription struct {
	CorrelationKey string `xml:"correlationKey,attr"`
}

type process struct {
	ID                 string    `xml:"id,attr"`
	StartEvents        []event   `xml:"startEvent"`
	IntermediateEvents []event   `xml:"intermediateCatchEvent"`
	BoundaryEvents     []event   `xml:"boundaryEvent"`
	SubProcesses       []process `xml:"subProcess"`
}

type event struct {
	ID               string            `xml:"id,attr"`
	AttachedToRef    string            `xml:"attachedToRef,attr"`
	Properties       []property        `xml:"extensionElements>properties>property"`
	MessageReference *messageReference `xml:"messageEventDefinition"`
}

type messageReference struct {
	MessageRef string `xml:"messageRef,attr"`
}

type property struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Inspector extracts correlation points from BPMN models. Only events that
// declare an inbound connector type are returned. Intermediate and boundary
// events must be message events.
type Inspector struct {
	source ModelSource
}

func NewInspector(source ModelSource) (*Inspector, error) {
	if source == nil {
		return nil, fmt.Errorf("bpmn: model source is required")
	}
	return &Inspector{source: source}, nil
}

func (i *Inspector) Extract(ctx context.Context, ref core.ProcessDefinitionRef) ([]core.PointConfig, error) {
	model, err := i.source.ProcessModel(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("bpmn: load model for %s: %w", ref, err)
	}
	return Parse(model, ref.ProcessID)
}

// Parse reads the inbound correlation points of processID from model.
func Parse(model []byte, processID string) ([]core.PointConfig, error) {
	var doc definitions
	decoder := xml.NewDecoder(bytes.NewReader(model))
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("bpmn: decode model: %w", err)
	}

	messages := make(map[string]message, len(doc.Messages))
	for _, msg := range doc.Messages {
		messages[msg.ID] = msg
	}

	var target *process
	for index := range doc.Processes {
		if doc.Processes[index].ID == processID {
			target = &doc.Processes[index]
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("bpmn: process %q not found in model", processID)
	}

	var points []core.PointConfig
	collect(*target, messages, &points)
	sort.SliceStable(points, func(a, b int) bool {
		return points[a].Point.ElementID < points[b].Point.ElementID
	})
	return points, nil
}

func collect(proc process, messages map[string]message, out *[]core.PointConfig) {
	for _, evt := range proc.StartEvents {
		if cfg, ok := evt.config(messages); ok {
			*out = append(*out, core.PointConfig{Point: core.StartEventPoint(evt.ID), Config: cfg})
		}
	}
	for _, evt := range proc.IntermediateEvents {
		if evt.MessageReference == nil {
			continue
		}
		if cfg, ok := evt.config(messages); ok {
			*out = append(*out, core.PointConfig{Point: core.MessageIntermediatePoint(evt.ID), Config: cfg})
		}
	}
	for _, evt := range proc.BoundaryEvents {
		if evt.MessageReference == nil || evt.AttachedToRef == "" {
			continue
		}
		if cfg, ok := evt.config(messages); ok {
			*out = append(*out, core.PointConfig{Point: core.MessageBoundaryPoint(evt.ID, evt.AttachedToRef), Config: cfg})
		}
	}
	for _, sub := range proc.SubProcesses {
		collect(sub, messages, out)
	}
}

// config builds the subscription configuration from the element properties.
// The referenced message supplies the message name unless the properties set
// it. Its subscription key is kept apart from the payload side
// correlationKeyExpression since the engine evaluates it against process
// variables.
func (e event) config(messages map[string]message) (core.SubscriptionConfig, bool) {
	flat := make(map[string]string, len(e.Properties)+2)
	for _, prop := range e.Properties {
		name := strings.TrimSpace(prop.Name)
		if name != "" {
			flat[name] = prop.Value
		}
	}
	connectorType := strings.TrimSpace(flat[PropertyConnectorType])
	if connectorType == "" {
		return core.SubscriptionConfig{}, false
	}
	if e.MessageReference != nil {
		if msg, ok := messages[e.MessageReference.MessageRef]; ok {
			if _, set := flat[core.PropertyMessageName]; !set && msg.Name != "" {
				flat[core.PropertyMessageName] = msg.Name
			}
			if key := strings.TrimSpace(msg.Subscription.CorrelationKey); key != "" {
				flat[core.PropertySubscriptionCorrelationKey] = key
			}
		}
	}
	return core.NewSubscriptionConfig(connectorType, flat), true
}

var _ core.CorrelationPointExtractor = (*Inspector)(nil)
