package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-connectors/core"
)

// SubscriptionReader exposes the active subscription registry.
type SubscriptionReader interface {
	Subscriptions() []core.InboundSubscription
	Subscription(contextPath string) (core.InboundSubscription, bool)
}

type DefinitionReader interface {
	List(ctx context.Context, includeDeleted bool) ([]core.DeployedDefinition, error)
}

type ListSubscriptionsQuery struct {
	reader SubscriptionReader
}

func NewListSubscriptionsQuery(reader SubscriptionReader) *ListSubscriptionsQuery {
	return &ListSubscriptionsQuery{reader: reader}
}

func (q *ListSubscriptionsQuery) Query(_ context.Context, msg ListSubscriptionsMessage) ([]core.InboundSubscription, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: subscription reader is required")
	}
	all := q.reader.Subscriptions()
	out := make([]core.InboundSubscription, 0, len(all))
	for _, sub := range all {
		if msg.Filter.Matches(sub) {
			out = append(out, sub)
		}
	}
	return out, nil
}

type GetSubscriptionByContextPathQuery struct {
	reader SubscriptionReader
}

func NewGetSubscriptionByContextPathQuery(reader SubscriptionReader) *GetSubscriptionByContextPathQuery {
	return &GetSubscriptionByContextPathQuery{reader: reader}
}

func (q *GetSubscriptionByContextPathQuery) Query(
	_ context.Context,
	msg GetSubscriptionByContextPathMessage,
) (core.InboundSubscription, error) {
	if q == nil || q.reader == nil {
		return core.InboundSubscription{}, queryDependencyError("query: subscription reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.InboundSubscription{}, err
	}
	contextPath := strings.TrimSpace(msg.ContextPath)
	sub, ok := q.reader.Subscription(contextPath)
	if !ok {
		return core.InboundSubscription{}, subscriptionNotFoundError(contextPath)
	}
	return sub, nil
}

type ListDefinitionsQuery struct {
	reader DefinitionReader
}

func NewListDefinitionsQuery(reader DefinitionReader) *ListDefinitionsQuery {
	return &ListDefinitionsQuery{reader: reader}
}

func (q *ListDefinitionsQuery) Query(ctx context.Context, msg ListDefinitionsMessage) ([]core.DeployedDefinition, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: definition reader is required")
	}
	return q.reader.List(ctx, msg.IncludeUndeployed)
}
