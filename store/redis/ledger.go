// Package redis provides a webhook delivery ledger backed by Redis so
// several nodes can share deduplication state.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/goliatone/go-connectors/webhooks"
)

// Key prefixes.
const (
	prefixDelivery = "connectors:delivery:"
	prefixClaim    = "connectors:claim:"
)

const (
	stateProcessing = "processing"
	stateCompleted  = "completed"
)

// completeScript marks a delivery completed when the caller still owns it.
// KEYS[1] delivery key, KEYS[2] claim key, ARGV[1] claim id, ARGV[2] retention ms.
var completeScript = goredis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current ~= ARGV[1] .. "|processing" then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1] .. "|completed", "PX", ARGV[2])
redis.call("DEL", KEYS[2])
return 1
`)

// releaseScript drops a delivery when the caller still owns it.
var releaseScript = goredis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current ~= ARGV[1] .. "|processing" then
	return 0
end
redis.call("DEL", KEYS[1], KEYS[2])
return 1
`)

// Ledger implements webhooks.DeliveryLedger. A claim is a SET NX with the
// lease as expiry, so an abandoned claim frees itself.
type Ledger struct {
	rdb       goredis.UniversalClient
	retention time.Duration
}

type Option func(*Ledger)

func WithRetention(retention time.Duration) Option {
	return func(l *Ledger) {
		if retention > 0 {
			l.retention = retention
		}
	}
}

func NewLedger(rdb goredis.UniversalClient, opts ...Option) (*Ledger, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis: client is required")
	}
	ledger := &Ledger{rdb: rdb, retention: webhooks.DefaultDeliveryRetention}
	for _, opt := range opts {
		if opt != nil {
			opt(ledger)
		}
	}
	return ledger, nil
}

func (l *Ledger) Claim(ctx context.Context, key string, lease time.Duration) (string, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, fmt.Errorf("redis: delivery key is required")
	}
	if lease <= 0 {
		lease = webhooks.DefaultDeliveryLease
	}
	claimID := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, deliveryKey(key), claimValue(claimID, stateProcessing), lease).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	if err := l.rdb.Set(ctx, claimKey(claimID), key, lease).Err(); err != nil {
		return "", false, err
	}
	return claimID, true, nil
}

func (l *Ledger) Complete(ctx context.Context, claimID string) error {
	key, err := l.claimedKey(ctx, claimID)
	if err != nil {
		return err
	}
	owned, err := completeScript.Run(ctx, l.rdb,
		[]string{deliveryKey(key), claimKey(claimID)},
		claimID, l.retention.Milliseconds(),
	).Int()
	if err != nil {
		return err
	}
	if owned == 0 {
		return fmt.Errorf("redis: delivery claim %q is not in flight", claimID)
	}
	return nil
}

func (l *Ledger) Fail(ctx context.Context, claimID string, _ error) error {
	key, err := l.claimedKey(ctx, claimID)
	if err != nil {
		return err
	}
	owned, err := releaseScript.Run(ctx, l.rdb,
		[]string{deliveryKey(key), claimKey(claimID)},
		claimID,
	).Int()
	if err != nil {
		return err
	}
	if owned == 0 {
		return fmt.Errorf("redis: delivery claim %q is not in flight", claimID)
	}
	return nil
}

func (l *Ledger) claimedKey(ctx context.Context, claimID string) (string, error) {
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return "", fmt.Errorf("redis: claim id is required")
	}
	key, err := l.rdb.Get(ctx, claimKey(claimID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", fmt.Errorf("redis: delivery claim %q is not in flight", claimID)
		}
		return "", err
	}
	return key, nil
}

func deliveryKey(key string) string {
	return prefixDelivery + key
}

func claimKey(claimID string) string {
	return prefixClaim + claimID
}

func claimValue(claimID, state string) string {
	return claimID + "|" + state
}

var _ webhooks.DeliveryLedger = (*Ledger)(nil)
