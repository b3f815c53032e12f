package lifecycle

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-connectors/core"
)

// Registry holds the inbound subscriptions known to the runtime. It is safe
// for concurrent readers; the Manager is its only writer. Only active
// subscriptions are reachable by context path.
type Registry struct {
	mu            sync.RWMutex
	byKey         map[core.SubscriptionKey]core.InboundSubscription
	byContextPath map[string]core.SubscriptionKey
}

func NewRegistry() *Registry {
	return &Registry{
		byKey:         make(map[core.SubscriptionKey]core.InboundSubscription),
		byContextPath: make(map[string]core.SubscriptionKey),
	}
}

// Upsert stores sub under its key, replacing any previous entry for the same
// key. Publishing an active subscription fails when another definition is
// still active for the key or when its context path belongs to another key.
func (r *Registry) Upsert(sub core.InboundSubscription) error {
	key := sub.Key()
	path := normalizeContextPath(sub.ContextPath)

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.byKey[key]
	if sub.State == core.ActivationStateActive {
		if exists && existing.State == core.ActivationStateActive && existing.Definition != sub.Definition {
			return fmt.Errorf("lifecycle: %s is still active for %s", existing.Definition, key)
		}
		if path != "" {
			if owner, taken := r.byContextPath[path]; taken && owner != key {
				return fmt.Errorf("lifecycle: context path %q is already served by %s", path, owner)
			}
		}
	}

	if exists {
		r.unindex(existing)
	}
	r.byKey[key] = sub
	if sub.State == core.ActivationStateActive && path != "" {
		r.byContextPath[path] = key
	}
	return nil
}

// Remove deletes every subscription for which match returns true and returns
// the removed entries.
func (r *Registry) Remove(match func(core.InboundSubscription) bool) []core.InboundSubscription {
	if match == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []core.InboundSubscription
	for key, sub := range r.byKey {
		if !match(sub) {
			continue
		}
		r.unindex(sub)
		delete(r.byKey, key)
		removed = append(removed, sub)
	}
	sortSubscriptions(removed)
	return removed
}

func (r *Registry) Get(key core.SubscriptionKey) (core.InboundSubscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.byKey[key]
	return sub, ok
}

// FindByContextPath resolves an active webhook subscription.
func (r *Registry) FindByContextPath(path string) (core.InboundSubscription, bool) {
	path = normalizeContextPath(path)
	if path == "" {
		return core.InboundSubscription{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byContextPath[path]
	if !ok {
		return core.InboundSubscription{}, false
	}
	sub, ok := r.byKey[key]
	return sub, ok
}

// List returns the subscriptions accepted by filter, or all of them when
// filter is nil, ordered by key.
func (r *Registry) List(filter func(core.InboundSubscription) bool) []core.InboundSubscription {
	r.mu.RLock()
	out := make([]core.InboundSubscription, 0, len(r.byKey))
	for _, sub := range r.byKey {
		if filter == nil || filter(sub) {
			out = append(out, sub)
		}
	}
	r.mu.RUnlock()
	sortSubscriptions(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

func (r *Registry) unindex(sub core.InboundSubscription) {
	path := normalizeContextPath(sub.ContextPath)
	if path == "" {
		return
	}
	if owner, ok := r.byContextPath[path]; ok && owner == sub.Key() {
		delete(r.byContextPath, path)
	}
}

func normalizeContextPath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}

func sortSubscriptions(subs []core.InboundSubscription) {
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].Key().String() < subs[j].Key().String()
	})
}
