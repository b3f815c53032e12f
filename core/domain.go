package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidCorrelationPoint           = errors.New("core: invalid correlation point")
	ErrInvalidActivationStateTransition  = errors.New("core: invalid activation state transition")
	ErrInvalidProcessDefinitionReference = errors.New("core: invalid process definition reference")
	ErrNoMatchingInstance                = errors.New("core: no matching process instance")
	ErrEngineThrottled                   = errors.New("core: engine is throttling correlation requests")
	ErrAmbiguousMatch                    = errors.New("core: multiple matching process instances")
)

// ProcessKey groups definitions that are versions of the same process.
type ProcessKey struct {
	TenantID  string
	ProcessID string
}

func (k ProcessKey) String() string {
	if k.TenantID == "" {
		return k.ProcessID
	}
	return k.TenantID + "/" + k.ProcessID
}

// ProcessDefinitionRef identifies a deployed process definition. It is
// immutable once observed.
type ProcessDefinitionRef struct {
	TenantID      string
	ProcessID     string
	Version       int
	DefinitionKey int64
}

func (r ProcessDefinitionRef) Key() ProcessKey {
	return ProcessKey{TenantID: r.TenantID, ProcessID: r.ProcessID}
}

func (r ProcessDefinitionRef) Validate() error {
	if strings.TrimSpace(r.ProcessID) == "" {
		return fmt.Errorf("%w: process id is required", ErrInvalidProcessDefinitionReference)
	}
	if r.Version <= 0 {
		return fmt.Errorf("%w: version must be positive for %s", ErrInvalidProcessDefinitionReference, r.ProcessID)
	}
	return nil
}

func (r ProcessDefinitionRef) String() string {
	return fmt.Sprintf("%s@v%d#%d", r.Key().String(), r.Version, r.DefinitionKey)
}

// SortDefinitionRefs orders refs by tenant, process id, version and key.
func SortDefinitionRefs(refs []ProcessDefinitionRef) {
	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.TenantID != b.TenantID {
			return a.TenantID < b.TenantID
		}
		if a.ProcessID != b.ProcessID {
			return a.ProcessID < b.ProcessID
		}
		if a.Version != b.Version {
			return a.Version < b.Version
		}
		return a.DefinitionKey < b.DefinitionKey
	})
}

type CorrelationPointKind string

const (
	CorrelationPointStartEvent               CorrelationPointKind = "start_event"
	CorrelationPointMessageBoundaryEvent     CorrelationPointKind = "message_boundary_event"
	CorrelationPointMessageIntermediateEvent CorrelationPointKind = "message_intermediate_event"
)

// CorrelationPoint describes where in a process definition an inbound event
// attaches. AttachedToElementID is only set for boundary events.
type CorrelationPoint struct {
	Kind                CorrelationPointKind
	ElementID           string
	AttachedToElementID string
}

func StartEventPoint(elementID string) CorrelationPoint {
	return CorrelationPoint{Kind: CorrelationPointStartEvent, ElementID: elementID}
}

func MessageBoundaryPoint(elementID, attachedTo string) CorrelationPoint {
	return CorrelationPoint{
		Kind:                CorrelationPointMessageBoundaryEvent,
		ElementID:           elementID,
		AttachedToElementID: attachedTo,
	}
}

func MessageIntermediatePoint(elementID string) CorrelationPoint {
	return CorrelationPoint{Kind: CorrelationPointMessageIntermediateEvent, ElementID: elementID}
}

func (p CorrelationPoint) Validate() error {
	if strings.TrimSpace(p.ElementID) == "" {
		return fmt.Errorf("%w: element id is required", ErrInvalidCorrelationPoint)
	}
	switch p.Kind {
	case CorrelationPointStartEvent, CorrelationPointMessageIntermediateEvent:
		if p.AttachedToElementID != "" {
			return fmt.Errorf("%w: %s cannot be attached to %s", ErrInvalidCorrelationPoint, p.Kind, p.AttachedToElementID)
		}
	case CorrelationPointMessageBoundaryEvent:
		if strings.TrimSpace(p.AttachedToElementID) == "" {
			return fmt.Errorf("%w: boundary event %s requires an attached activity", ErrInvalidCorrelationPoint, p.ElementID)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCorrelationPoint, p.Kind)
	}
	return nil
}

// RequiresExistingInstance reports whether a correlation at this point must
// match a running process instance.
func (p CorrelationPoint) RequiresExistingInstance() bool {
	switch p.Kind {
	case CorrelationPointMessageBoundaryEvent, CorrelationPointMessageIntermediateEvent:
		return true
	case CorrelationPointStartEvent:
		return false
	default:
		return false
	}
}

func (p CorrelationPoint) String() string {
	if p.AttachedToElementID != "" {
		return fmt.Sprintf("%s:%s@%s", p.Kind, p.ElementID, p.AttachedToElementID)
	}
	return fmt.Sprintf("%s:%s", p.Kind, p.ElementID)
}

// PointConfig pairs a correlation point with the raw configuration declared
// on it in the process model.
type PointConfig struct {
	Point  CorrelationPoint
	Config SubscriptionConfig
}

type ActivationState string

const (
	ActivationStateActivating   ActivationState = "activating"
	ActivationStateActive       ActivationState = "active"
	ActivationStateDeactivating ActivationState = "deactivating"
	ActivationStateFailed       ActivationState = "failed"
)

func activationTransitionAllowed(current, next ActivationState) bool {
	allowed := map[ActivationState]map[ActivationState]struct{}{
		"": {
			ActivationStateActivating: {},
		},
		ActivationStateActivating: {
			ActivationStateActive: {},
			ActivationStateFailed: {},
		},
		ActivationStateActive: {
			ActivationStateDeactivating: {},
		},
		ActivationStateFailed: {
			ActivationStateActivating:   {},
			ActivationStateDeactivating: {},
		},
		ActivationStateDeactivating: {},
	}
	_, ok := allowed[current][next]
	return ok
}

// SubscriptionKey is the logical trigger point a subscription serves. At most
// one active subscription exists per key.
type SubscriptionKey struct {
	TenantID  string
	ProcessID string
	Point     CorrelationPoint
}

func (k SubscriptionKey) String() string {
	return ProcessKey{TenantID: k.TenantID, ProcessID: k.ProcessID}.String() + "/" + k.Point.String()
}

type HealthStatus string

const (
	HealthStatusUp      HealthStatus = "up"
	HealthStatusDown    HealthStatus = "down"
	HealthStatusUnknown HealthStatus = "unknown"
)

type Health struct {
	Status  HealthStatus
	Details map[string]any
}

func HealthUp() Health {
	return Health{Status: HealthStatusUp}
}

func HealthDown(err error) Health {
	details := map[string]any{}
	if err != nil {
		details["error"] = err.Error()
	}
	return Health{Status: HealthStatusDown, Details: details}
}

// InboundSubscription binds a correlation point of a definition to a live
// inbound trigger.
type InboundSubscription struct {
	Definition  ProcessDefinitionRef
	Point       CorrelationPoint
	Config      SubscriptionConfig
	Executable  Executable
	State       ActivationState
	ContextPath string
	Health      Health
	ActivatedAt time.Time
	UpdatedAt   time.Time
	LastError   string
}

func (s InboundSubscription) Key() SubscriptionKey {
	return SubscriptionKey{
		TenantID:  s.Definition.TenantID,
		ProcessID: s.Definition.ProcessID,
		Point:     s.Point,
	}
}

func (s *InboundSubscription) TransitionTo(state ActivationState, now time.Time) error {
	if s == nil {
		return nil
	}
	if s.State == state {
		s.UpdatedAt = now
		return nil
	}
	if !activationTransitionAllowed(s.State, state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidActivationStateTransition, s.State, state)
	}
	s.State = state
	s.UpdatedAt = now
	return nil
}

type DeregistrationKind string

const (
	DeregisterByVersion       DeregistrationKind = "by_version"
	DeregisterByDefinitionKey DeregistrationKind = "by_definition_key"
)

// DeregistrationKey selects subscriptions to tear down, either a superseded
// version of a process or every subscription of a definition key.
type DeregistrationKey struct {
	Kind          DeregistrationKind
	TenantID      string
	ProcessID     string
	Version       int
	DefinitionKey int64
}

func DeregisterVersion(ref ProcessDefinitionRef) DeregistrationKey {
	return DeregistrationKey{
		Kind:      DeregisterByVersion,
		TenantID:  ref.TenantID,
		ProcessID: ref.ProcessID,
		Version:   ref.Version,
	}
}

func DeregisterDefinitionKey(ref ProcessDefinitionRef) DeregistrationKey {
	return DeregistrationKey{
		Kind:          DeregisterByDefinitionKey,
		TenantID:      ref.TenantID,
		ProcessID:     ref.ProcessID,
		DefinitionKey: ref.DefinitionKey,
	}
}

func (k DeregistrationKey) Matches(ref ProcessDefinitionRef) bool {
	switch k.Kind {
	case DeregisterByVersion:
		return ref.TenantID == k.TenantID && ref.ProcessID == k.ProcessID && ref.Version == k.Version
	case DeregisterByDefinitionKey:
		return ref.DefinitionKey == k.DefinitionKey
	default:
		return false
	}
}

func (k DeregistrationKey) String() string {
	switch k.Kind {
	case DeregisterByVersion:
		return fmt.Sprintf("%s@v%d", ProcessKey{TenantID: k.TenantID, ProcessID: k.ProcessID}.String(), k.Version)
	default:
		return fmt.Sprintf("#%d", k.DefinitionKey)
	}
}
