package core

import (
	"fmt"
	"sort"
	"strings"
)

const (
	PropertyActivationCondition = "activationCondition"
	PropertyResultVariable      = "resultVariable"
	PropertyResultExpression    = "resultExpression"
	PropertyCorrelationKey      = "correlationKeyExpression"
	PropertyMessageName         = "messageName"
	PropertyMessageIDExpression = "messageIdExpression"

	// PropertySubscriptionCorrelationKey holds the process side key of a
	// message subscription. It is evaluated by the engine against process
	// variables, never against an inbound payload.
	PropertySubscriptionCorrelationKey = "subscription.correlationKey"
)

// SubscriptionConfig is the raw configuration declared on a correlation point.
// Properties is a nested map; dotted keys are expanded by NewSubscriptionConfig.
type SubscriptionConfig struct {
	Type       string
	Properties map[string]any
}

// NewSubscriptionConfig expands flat dotted property names such as
// "inbound.auth.type" into nested maps. A name that is also the prefix of
// another name, like "inbound.auth" next to "inbound.auth.type", is dropped
// in favour of the nested properties.
func NewSubscriptionConfig(connectorType string, flat map[string]string) SubscriptionConfig {
	names := make([]string, 0, len(flat))
	for name := range flat {
		names = append(names, name)
	}
	sort.Strings(names)
	props := map[string]any{}
	for _, name := range names {
		setPath(props, strings.Split(strings.TrimSpace(name), "."), flat[name])
	}
	return SubscriptionConfig{Type: strings.TrimSpace(connectorType), Properties: props}
}

func setPath(target map[string]any, parts []string, value any) {
	if len(parts) == 0 {
		return
	}
	if len(parts) == 1 {
		if _, nested := target[parts[0]].(map[string]any); !nested {
			target[parts[0]] = value
		}
		return
	}
	child, ok := target[parts[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		target[parts[0]] = child
	}
	setPath(child, parts[1:], value)
}

// Lookup resolves a dotted path inside the properties.
func (c SubscriptionConfig) Lookup(path string) (any, bool) {
	var current any = c.Properties
	for _, part := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func (c SubscriptionConfig) Text(path string) string {
	value, ok := c.Lookup(path)
	if !ok || value == nil {
		return ""
	}
	if text, ok := value.(string); ok {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func (c SubscriptionConfig) ActivationCondition() string {
	return c.Text(PropertyActivationCondition)
}

func (c SubscriptionConfig) ResultVariable() string {
	return c.Text(PropertyResultVariable)
}

func (c SubscriptionConfig) ResultExpression() string {
	return c.Text(PropertyResultExpression)
}

func (c SubscriptionConfig) CorrelationKeyExpression() string {
	return c.Text(PropertyCorrelationKey)
}

func (c SubscriptionConfig) SubscriptionCorrelationKey() string {
	return c.Text(PropertySubscriptionCorrelationKey)
}

func (c SubscriptionConfig) MessageName() string {
	return c.Text(PropertyMessageName)
}

func (c SubscriptionConfig) MessageIDExpression() string {
	return c.Text(PropertyMessageIDExpression)
}

func (c SubscriptionConfig) Clone() SubscriptionConfig {
	return SubscriptionConfig{Type: c.Type, Properties: cloneTree(c.Properties)}
}

func cloneTree(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		if nested, ok := value.(map[string]any); ok {
			out[key] = cloneTree(nested)
			continue
		}
		out[key] = value
	}
	return out
}
