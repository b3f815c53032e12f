package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-connectors/core"
)

type processDefinitionRecord struct {
	bun.BaseModel `bun:"table:connector_process_definitions,alias:cpd"`

	ID            string     `bun:"id,pk"`
	TenantID      string     `bun:"tenant_id,notnull"`
	ProcessID     string     `bun:"process_id,notnull"`
	Version       int        `bun:"version,notnull"`
	DefinitionKey int64      `bun:"definition_key,notnull"`
	Model         []byte     `bun:"model"`
	DeployedAt    time.Time  `bun:"deployed_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt     *time.Time `bun:"deleted_at,nullzero"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *processDefinitionRecord) ref() core.ProcessDefinitionRef {
	if r == nil {
		return core.ProcessDefinitionRef{}
	}
	return core.ProcessDefinitionRef{
		TenantID:      r.TenantID,
		ProcessID:     r.ProcessID,
		Version:       r.Version,
		DefinitionKey: r.DefinitionKey,
	}
}

func (r *processDefinitionRecord) toDomain() core.DeployedDefinition {
	if r == nil {
		return core.DeployedDefinition{}
	}
	out := core.DeployedDefinition{
		Ref:        r.ref(),
		DeployedAt: r.DeployedAt,
	}
	if r.DeletedAt != nil {
		value := *r.DeletedAt
		out.DeletedAt = &value
	}
	return out
}

type webhookDeliveryRecord struct {
	bun.BaseModel `bun:"table:connector_webhook_deliveries,alias:cwd"`

	ID             string     `bun:"id,pk"`
	DeliveryKey    string     `bun:"delivery_key,notnull"`
	ClaimID        string     `bun:"claim_id,notnull"`
	Status         string     `bun:"status,notnull"`
	Attempts       int        `bun:"attempts,notnull"`
	LeaseExpiresAt time.Time  `bun:"lease_expires_at,notnull"`
	RetainUntil    *time.Time `bun:"retain_until,nullzero"`
	LastError      string     `bun:"last_error"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
