package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-connectors/core"
)

// DefinitionStore keeps deployed process definitions. Undeploy is a soft
// delete; Poll only returns definitions that are still deployed.
type DefinitionStore struct {
	db   *bun.DB
	repo repository.Repository[*processDefinitionRecord]
}

func NewDefinitionStore(db *bun.DB) (*DefinitionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	// Poll must see every deployed definition, so List is left unpaginated.
	repo := repository.NewRepositoryWithConfig[*processDefinitionRecord](db, processDefinitionHandlers(), nil)
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid process definition repository wiring: %w", err)
		}
	}
	return &DefinitionStore{db: db, repo: repo}, nil
}

// Deploy stores in as the next version of its process. Definition keys are
// allocated across all processes.
func (s *DefinitionStore) Deploy(ctx context.Context, in core.DeployDefinitionInput) (core.ProcessDefinitionRef, error) {
	if s == nil || s.repo == nil || s.db == nil {
		return core.ProcessDefinitionRef{}, fmt.Errorf("sqlstore: definition store is not configured")
	}
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.ProcessID = strings.TrimSpace(in.ProcessID)
	if err := in.Validate(); err != nil {
		return core.ProcessDefinitionRef{}, err
	}

	now := time.Now().UTC()
	var deployed core.ProcessDefinitionRef
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var maxVersion sql.NullInt64
		if err := tx.NewSelect().
			Model((*processDefinitionRecord)(nil)).
			ColumnExpr("MAX(version)").
			Where("tenant_id = ?", in.TenantID).
			Where("process_id = ?", in.ProcessID).
			Scan(ctx, &maxVersion); err != nil {
			return err
		}
		var maxKey sql.NullInt64
		if err := tx.NewSelect().
			Model((*processDefinitionRecord)(nil)).
			ColumnExpr("MAX(definition_key)").
			Scan(ctx, &maxKey); err != nil {
			return err
		}

		record := &processDefinitionRecord{
			ID:            uuid.NewString(),
			TenantID:      in.TenantID,
			ProcessID:     in.ProcessID,
			Version:       int(maxVersion.Int64) + 1,
			DefinitionKey: maxKey.Int64 + 1,
			Model:         append([]byte(nil), in.Model...),
			DeployedAt:    now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		created, err := s.repo.CreateTx(ctx, tx, record)
		if err != nil {
			return err
		}
		deployed = created.ref()
		return nil
	})
	if err != nil {
		return core.ProcessDefinitionRef{}, err
	}
	return deployed, nil
}

func (s *DefinitionStore) Undeploy(ctx context.Context, ref core.ProcessDefinitionRef) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: definition store is not configured")
	}
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model((*processDefinitionRecord)(nil)).
		Set("deleted_at = ?", now).
		Set("updated_at = ?", now).
		Where("tenant_id = ?", strings.TrimSpace(ref.TenantID)).
		Where("definition_key = ?", ref.DefinitionKey).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, rowsErr := res.RowsAffected(); rowsErr == nil && affected == 0 {
		return fmt.Errorf("sqlstore: deployed definition %s not found", ref)
	}
	return nil
}

func (s *DefinitionStore) Poll(ctx context.Context) ([]core.ProcessDefinitionRef, error) {
	definitions, err := s.List(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]core.ProcessDefinitionRef, 0, len(definitions))
	for _, definition := range definitions {
		out = append(out, definition.Ref)
	}
	return out, nil
}

func (s *DefinitionStore) List(ctx context.Context, includeDeleted bool) ([]core.DeployedDefinition, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: definition store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.ExcludeColumn("model").Order("tenant_id ASC", "process_id ASC", "version ASC")
		}),
	}
	if !includeDeleted {
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.DeployedDefinition, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// ProcessModel returns the stored model, including for undeployed
// definitions so their correlation points can still be inspected.
func (s *DefinitionStore) ProcessModel(ctx context.Context, ref core.ProcessDefinitionRef) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: definition store is not configured")
	}
	record := &processDefinitionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.tenant_id = ?", strings.TrimSpace(ref.TenantID)).
		Where("?TableAlias.definition_key = ?", ref.DefinitionKey).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlstore: process definition %s not found", ref)
		}
		return nil, err
	}
	return append([]byte(nil), record.Model...), nil
}
