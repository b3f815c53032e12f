package sqlstore

import (
	"github.com/goliatone/go-connectors/bpmn"
	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/webhooks"
)

var (
	_ core.DefinitionRepository = (*DefinitionStore)(nil)
	_ bpmn.ModelSource          = (*DefinitionStore)(nil)
	_ webhooks.DeliveryLedger   = (*WebhookDeliveryStore)(nil)
)
