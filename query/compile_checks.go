package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-connectors/core"
)

var (
	_ gocmd.Querier[ListSubscriptionsMessage, []core.InboundSubscription]          = (*ListSubscriptionsQuery)(nil)
	_ gocmd.Querier[GetSubscriptionByContextPathMessage, core.InboundSubscription] = (*GetSubscriptionByContextPathQuery)(nil)
	_ gocmd.Querier[ListDefinitionsMessage, []core.DeployedDefinition]             = (*ListDefinitionsQuery)(nil)
)
