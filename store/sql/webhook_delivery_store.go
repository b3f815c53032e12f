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

	"github.com/goliatone/go-connectors/webhooks"
)

const (
	deliveryStatusProcessing = "processing"
	deliveryStatusCompleted  = "completed"
	deliveryStatusFailed     = "failed"
)

// WebhookDeliveryStore is a DeliveryLedger shared by every node that uses
// the same database. Failed claims keep their row so the next claim counts
// as another attempt.
type WebhookDeliveryStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookDeliveryRecord]

	Retention time.Duration
	Now       func() time.Time
}

func NewWebhookDeliveryStore(db *bun.DB) (*WebhookDeliveryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookDeliveryRecord](db, webhookDeliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook delivery repository wiring: %w", err)
		}
	}
	return &WebhookDeliveryStore{
		db:        db,
		repo:      repo,
		Retention: webhooks.DefaultDeliveryRetention,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *WebhookDeliveryStore) Claim(ctx context.Context, key string, lease time.Duration) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, fmt.Errorf("sqlstore: delivery key is required")
	}
	if lease <= 0 {
		lease = webhooks.DefaultDeliveryLease
	}
	now := s.now()
	claimID := uuid.NewString()

	record := &webhookDeliveryRecord{
		ID:             uuid.NewString(),
		DeliveryKey:    key,
		ClaimID:        claimID,
		Status:         deliveryStatusProcessing,
		Attempts:       1,
		LeaseExpiresAt: now.Add(lease),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	res, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (delivery_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return "", false, err
	}
	if affected, rowsErr := res.RowsAffected(); rowsErr == nil && affected == 1 {
		return claimID, true, nil
	}

	existing, err := s.get(ctx, key)
	if err != nil {
		return "", false, err
	}
	if !claimable(existing, now) {
		return "", false, nil
	}

	// Only the caller that still sees the previous claim id takes over.
	res, err = s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("claim_id = ?", claimID).
		Set("status = ?", deliveryStatusProcessing).
		Set("attempts = ?", existing.Attempts+1).
		Set("lease_expires_at = ?", now.Add(lease)).
		Set("retain_until = NULL").
		Set("updated_at = ?", now).
		Where("delivery_key = ?", key).
		Where("claim_id = ?", existing.ClaimID).
		Exec(ctx)
	if err != nil {
		return "", false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}
	if affected != 1 {
		return "", false, nil
	}
	return claimID, true, nil
}

func (s *WebhookDeliveryStore) Complete(ctx context.Context, claimID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	now := s.now()
	retention := s.Retention
	if retention <= 0 {
		retention = webhooks.DefaultDeliveryRetention
	}
	return s.updateClaim(ctx, claimID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("status = ?", deliveryStatusCompleted).
			Set("retain_until = ?", now.Add(retention)).
			Set("last_error = ''").
			Set("updated_at = ?", now)
	})
}

func (s *WebhookDeliveryStore) Fail(ctx context.Context, claimID string, cause error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	now := s.now()
	return s.updateClaim(ctx, claimID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("status = ?", deliveryStatusFailed).
			Set("last_error = ?", reason).
			Set("updated_at = ?", now)
	})
}

// Attempts reports how often key was claimed. It returns zero for unknown
// keys.
func (s *WebhookDeliveryStore) Attempts(ctx context.Context, key string) (int, error) {
	if s == nil || s.repo == nil {
		return 0, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("delivery_key", "=", strings.TrimSpace(key)),
	)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	return records[0].Attempts, nil
}

// Purge removes completed deliveries past their retention and returns the
// number of rows deleted.
func (s *WebhookDeliveryStore) Purge(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*webhookDeliveryRecord)(nil)).
		Where("status = ?", deliveryStatusCompleted).
		Where("retain_until <= ?", s.now()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *WebhookDeliveryStore) updateClaim(
	ctx context.Context,
	claimID string,
	apply func(q *bun.UpdateQuery) *bun.UpdateQuery,
) error {
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("sqlstore: claim id is required")
	}
	res, err := apply(s.db.NewUpdate().Model((*webhookDeliveryRecord)(nil))).
		Where("claim_id = ?", claimID).
		Where("status = ?", deliveryStatusProcessing).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, rowsErr := res.RowsAffected(); rowsErr == nil && affected == 0 {
		return fmt.Errorf("sqlstore: delivery claim %q is not in flight", claimID)
	}
	return nil
}

func (s *WebhookDeliveryStore) get(ctx context.Context, key string) (*webhookDeliveryRecord, error) {
	record := &webhookDeliveryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.delivery_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlstore: webhook delivery %q not found", key)
		}
		return nil, err
	}
	return record, nil
}

func (s *WebhookDeliveryStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func claimable(record *webhookDeliveryRecord, now time.Time) bool {
	switch record.Status {
	case deliveryStatusFailed:
		return true
	case deliveryStatusProcessing:
		return !now.Before(record.LeaseExpiresAt)
	case deliveryStatusCompleted:
		return record.RetainUntil != nil && !now.Before(*record.RetainUntil)
	default:
		return true
	}
}
