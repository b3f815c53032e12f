package webhooks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultDeliveryLease     = 30 * time.Second
	DefaultDeliveryRetention = 24 * time.Hour
)

// DeliveryLedger remembers which deliveries were already claimed. Claim
// returns accepted=false while another claim for key is in flight or after
// it completed; Fail releases the claim so a retry is accepted.
type DeliveryLedger interface {
	Claim(ctx context.Context, key string, lease time.Duration) (claimID string, accepted bool, err error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error) error
}

type deliveryStatus string

const (
	deliveryStatusProcessing deliveryStatus = "processing"
	deliveryStatusCompleted  deliveryStatus = "completed"
)

type deliveryEntry struct {
	Key       string
	ClaimID   string
	Status    deliveryStatus
	ExpiresAt time.Time
}

type InMemoryDeliveryLedger struct {
	mu        sync.Mutex
	entries   map[string]deliveryEntry
	claims    map[string]string
	Retention time.Duration
	Now       func() time.Time
}

func NewInMemoryDeliveryLedger() *InMemoryDeliveryLedger {
	return &InMemoryDeliveryLedger{
		entries:   map[string]deliveryEntry{},
		claims:    map[string]string{},
		Retention: DefaultDeliveryRetention,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *InMemoryDeliveryLedger) Claim(_ context.Context, key string, lease time.Duration) (string, bool, error) {
	if l == nil {
		return "", false, fmt.Errorf("webhooks: delivery ledger is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, fmt.Errorf("webhooks: delivery key is required")
	}
	if lease <= 0 {
		lease = DefaultDeliveryLease
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.evictExpiredLocked(now)
	if _, exists := l.entries[key]; exists {
		return "", false, nil
	}
	claimID := uuid.NewString()
	l.entries[key] = deliveryEntry{
		Key:       key,
		ClaimID:   claimID,
		Status:    deliveryStatusProcessing,
		ExpiresAt: now.Add(lease),
	}
	l.claims[claimID] = key
	return claimID, true, nil
}

func (l *InMemoryDeliveryLedger) Complete(_ context.Context, claimID string) error {
	if l == nil {
		return fmt.Errorf("webhooks: delivery ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key, entry, ok := l.claimedLocked(claimID)
	if !ok {
		return nil
	}
	entry.Status = deliveryStatusCompleted
	entry.ExpiresAt = l.now().Add(l.retention())
	l.entries[key] = entry
	delete(l.claims, entry.ClaimID)
	return nil
}

func (l *InMemoryDeliveryLedger) Fail(_ context.Context, claimID string, _ error) error {
	if l == nil {
		return fmt.Errorf("webhooks: delivery ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key, entry, ok := l.claimedLocked(claimID)
	if !ok {
		return nil
	}
	delete(l.entries, key)
	delete(l.claims, entry.ClaimID)
	return nil
}

// claimedLocked resolves a claim that is still processing. Stale claims
// whose lease expired and was taken over resolve to false.
func (l *InMemoryDeliveryLedger) claimedLocked(claimID string) (string, deliveryEntry, bool) {
	claimID = strings.TrimSpace(claimID)
	key, ok := l.claims[claimID]
	if !ok {
		return "", deliveryEntry{}, false
	}
	entry, exists := l.entries[key]
	if !exists || entry.ClaimID != claimID || entry.Status != deliveryStatusProcessing {
		delete(l.claims, claimID)
		return "", deliveryEntry{}, false
	}
	return key, entry, true
}

func (l *InMemoryDeliveryLedger) evictExpiredLocked(now time.Time) {
	for key, entry := range l.entries {
		if now.Before(entry.ExpiresAt) {
			continue
		}
		delete(l.claims, entry.ClaimID)
		delete(l.entries, key)
	}
}

func (l *InMemoryDeliveryLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *InMemoryDeliveryLedger) retention() time.Duration {
	if l != nil && l.Retention > 0 {
		return l.Retention
	}
	return DefaultDeliveryRetention
}

var _ DeliveryLedger = (*InMemoryDeliveryLedger)(nil)
