package query

import (
	"strings"

	"github.com/goliatone/go-connectors/core"
)

const (
	TypeListSubscriptions            = "connectors.query.subscriptions.list"
	TypeGetSubscriptionByContextPath = "connectors.query.subscriptions.by_context_path"
	TypeListDefinitions              = "connectors.query.definitions.list"
)

// SubscriptionFilter narrows ListSubscriptions. Zero values match everything.
type SubscriptionFilter struct {
	TenantID  string
	ProcessID string
	State     core.ActivationState
}

func (f SubscriptionFilter) Matches(sub core.InboundSubscription) bool {
	if f.TenantID != "" && sub.Definition.TenantID != f.TenantID {
		return false
	}
	if f.ProcessID != "" && sub.Definition.ProcessID != f.ProcessID {
		return false
	}
	if f.State != "" && sub.State != f.State {
		return false
	}
	return true
}

type ListSubscriptionsMessage struct {
	Filter SubscriptionFilter
}

func (ListSubscriptionsMessage) Type() string { return TypeListSubscriptions }

func (ListSubscriptionsMessage) Validate() error { return nil }

type GetSubscriptionByContextPathMessage struct {
	ContextPath string
}

func (GetSubscriptionByContextPathMessage) Type() string { return TypeGetSubscriptionByContextPath }

func (m GetSubscriptionByContextPathMessage) Validate() error {
	if strings.TrimSpace(m.ContextPath) == "" {
		return queryValidationError("context_path", "context path is required")
	}
	return nil
}

type ListDefinitionsMessage struct {
	IncludeUndeployed bool
}

func (ListDefinitionsMessage) Type() string { return TypeListDefinitions }

func (ListDefinitionsMessage) Validate() error { return nil }
