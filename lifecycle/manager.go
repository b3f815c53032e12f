// Package lifecycle activates and deactivates inbound subscriptions and keeps
// the registry of active ones.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/reconcile"
	"go.uber.org/multierr"
)

// ExecutableBuilder creates executables for subscription configurations.
// *core.ExecutableRegistry satisfies it.
type ExecutableBuilder interface {
	Build(cfg core.SubscriptionConfig) (core.Executable, error)
}

type Manager struct {
	mu        sync.Mutex
	registry  *Registry
	extractor core.CorrelationPointExtractor
	builder   ExecutableBuilder
	observer  core.Observer
	now       func() time.Time
	// pending holds definitions with at least one failed point.
	pending   map[core.ProcessDefinitionRef]struct{}
}

type Option func(*Manager)

func WithLogger(logger core.Logger) Option {
	return func(m *Manager) {
		m.observer = core.NewObserver("connectors.lifecycle", logger, nil)
	}
}

func WithObserver(observer core.Observer) Option {
	return func(m *Manager) {
		m.observer = observer
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(
	registry *Registry,
	extractor core.CorrelationPointExtractor,
	builder ExecutableBuilder,
	opts ...Option,
) (*Manager, error) {
	if registry == nil {
		return nil, fmt.Errorf("lifecycle: registry is required")
	}
	if extractor == nil {
		return nil, fmt.Errorf("lifecycle: correlation point extractor is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("lifecycle: executable builder is required")
	}
	m := &Manager{
		registry:  registry,
		extractor: extractor,
		builder:   builder,
		observer:  core.NewObserver("connectors.lifecycle", nil, nil),
		now:       func() time.Time { return time.Now().UTC() },
		pending:   map[core.ProcessDefinitionRef]struct{}{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

// Apply executes a reconciliation result, deregistrations first.
func (m *Manager) Apply(ctx context.Context, result reconcile.Result) error {
	var errs error
	if len(result.Deregister) > 0 {
		errs = multierr.Append(errs, m.HandleDeletedProcessDefinitions(ctx, result.Deregister))
	}
	if len(result.Register) > 0 {
		errs = multierr.Append(errs, m.HandleNewProcessDefinitions(ctx, result.Register))
	}
	return errs
}

// HandleNewProcessDefinitions activates a subscription for every inbound
// correlation point of each definition. A subscription of another version
// for the same point is deactivated before the new one is activated. Failures
// are isolated per point: the failed subscription is kept in the failed state
// and the combined error is returned once every point was processed.
func (m *Manager) HandleNewProcessDefinitions(ctx context.Context, refs []core.ProcessDefinitionRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := append([]core.ProcessDefinitionRef(nil), refs...)
	core.SortDefinitionRefs(sorted)

	var errs error
	for _, ref := range sorted {
		startedAt := time.Now()
		points, err := m.extractor.Extract(ctx, ref)
		if err != nil {
			err = fmt.Errorf("lifecycle: extract correlation points for %s: %w", ref, err)
			m.observer.Observe(ctx, startedAt, "extract_correlation_points", err, definitionFields(ref))
			errs = multierr.Append(errs, err)
			m.pending[ref] = struct{}{}
			continue
		}
		var refErr error
		for _, point := range points {
			refErr = multierr.Append(refErr, m.activate(ctx, ref, point))
		}
		if refErr != nil {
			m.pending[ref] = struct{}{}
		} else {
			delete(m.pending, ref)
		}
		errs = multierr.Append(errs, refErr)
	}
	return errs
}

// Pending returns the definitions that still have a failed point.
func (m *Manager) Pending() []core.ProcessDefinitionRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs := make([]core.ProcessDefinitionRef, 0, len(m.pending))
	for ref := range m.pending {
		refs = append(refs, ref)
	}
	core.SortDefinitionRefs(refs)
	return refs
}

// HandleDeletedProcessDefinitions deactivates and removes every subscription
// whose definition matches one of keys.
func (m *Manager) HandleDeletedProcessDefinitions(ctx context.Context, keys []core.DeregistrationKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs error
	for _, key := range keys {
		for ref := range m.pending {
			if key.Matches(ref) {
				delete(m.pending, ref)
			}
		}
		matches := m.registry.List(func(sub core.InboundSubscription) bool {
			return key.Matches(sub.Definition)
		})
		for _, sub := range matches {
			errs = multierr.Append(errs, m.deactivate(ctx, sub))
		}
	}
	return errs
}

func (m *Manager) activate(ctx context.Context, ref core.ProcessDefinitionRef, pc core.PointConfig) (err error) {
	startedAt := time.Now()
	sub := core.InboundSubscription{
		Definition: ref,
		Point:      pc.Point,
		Config:     pc.Config.Clone(),
		Health:     core.Health{Status: core.HealthStatusUnknown},
	}
	key := sub.Key()
	fields := subscriptionFields(sub)
	defer func() {
		m.observer.Observe(ctx, startedAt, "activate_subscription", err, fields)
	}()

	if existing, ok := m.registry.Get(key); ok {
		if existing.Definition == ref && existing.State == core.ActivationStateActive {
			return nil
		}
		if existing.Definition != ref || existing.State == core.ActivationStateFailed {
			if deactivateErr := m.deactivate(ctx, existing); deactivateErr != nil {
				return m.fail(ctx, sub, deactivateErr)
			}
		}
	}

	if err := pc.Point.Validate(); err != nil {
		return m.fail(ctx, sub, err)
	}
	if err := sub.TransitionTo(core.ActivationStateActivating, m.now()); err != nil {
		return m.fail(ctx, sub, err)
	}

	executable, err := m.builder.Build(sub.Config)
	if err != nil {
		return m.fail(ctx, sub, err)
	}
	sub.Executable = executable
	if owner, ok := executable.(core.ContextPathOwner); ok {
		sub.ContextPath = owner.ContextPath()
		fields["context_path"] = sub.ContextPath
		if conflict, taken := m.registry.FindByContextPath(sub.ContextPath); taken && conflict.Key() != key {
			return m.fail(ctx, sub, fmt.Errorf("lifecycle: context path %q is already served by %s", sub.ContextPath, conflict.Definition))
		}
	}

	if err := executable.Activate(ctx, sub); err != nil {
		return m.fail(ctx, sub, err)
	}
	if err := sub.TransitionTo(core.ActivationStateActive, m.now()); err != nil {
		return m.fail(ctx, sub, err)
	}
	sub.ActivatedAt = sub.UpdatedAt
	sub.Health = reportHealth(executable)
	if err := m.registry.Upsert(sub); err != nil {
		if deactivateErr := executable.Deactivate(ctx); deactivateErr != nil {
			err = multierr.Append(err, fmt.Errorf("lifecycle: deactivate unpublished %s: %w", key, deactivateErr))
		}
		return m.fail(ctx, sub, err)
	}
	return nil
}

// fail records sub as failed so it is visible but unreachable, and returns an
// activation error.
func (m *Manager) fail(ctx context.Context, sub core.InboundSubscription, cause error) error {
	activationErr := core.NewActivationError(sub.Key(), cause)
	sub.State = core.ActivationStateFailed
	sub.UpdatedAt = m.now()
	sub.Executable = nil
	sub.LastError = cause.Error()
	sub.Health = core.HealthDown(cause)
	if err := m.registry.Upsert(sub); err != nil {
		m.observer.LogError(ctx, "record failed subscription", map[string]any{
			"subscription": sub.Key().String(),
			"error":        err.Error(),
		})
	}
	return activationErr
}

func (m *Manager) deactivate(ctx context.Context, sub core.InboundSubscription) (err error) {
	startedAt := time.Now()
	defer func() {
		m.observer.Observe(ctx, startedAt, "deactivate_subscription", err, subscriptionFields(sub))
	}()

	key := sub.Key()
	if sub.State == core.ActivationStateActive {
		_ = sub.TransitionTo(core.ActivationStateDeactivating, m.now())
		// Unpublish first so no request reaches an executable being torn down.
		if upsertErr := m.registry.Upsert(sub); upsertErr != nil {
			return upsertErr
		}
	}
	m.registry.Remove(func(candidate core.InboundSubscription) bool {
		return candidate.Key() == key && candidate.Definition == sub.Definition
	})
	if sub.Executable == nil {
		return nil
	}
	if err := sub.Executable.Deactivate(ctx); err != nil {
		return fmt.Errorf("lifecycle: deactivate %s: %w", key, err)
	}
	return nil
}

// RefreshHealth re-reads the health of every active executable. A snapshot
// that can no longer be stored is logged and skipped.
func (m *Manager) RefreshHealth(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.registry.List(nil) {
		if sub.State != core.ActivationStateActive || sub.Executable == nil {
			continue
		}
		sub.Health = reportHealth(sub.Executable)
		if err := m.registry.Upsert(sub); err != nil {
			fields := subscriptionFields(sub)
			fields["error"] = err.Error()
			m.observer.LogError(ctx, "refresh subscription health", fields)
		}
	}
}

func reportHealth(executable core.Executable) core.Health {
	if reporter, ok := executable.(core.HealthReporter); ok {
		return reporter.Health()
	}
	return core.HealthUp()
}

func definitionFields(ref core.ProcessDefinitionRef) map[string]any {
	return map[string]any{
		"tenant_id":      ref.TenantID,
		"process_id":     ref.ProcessID,
		"version":        ref.Version,
		"definition_key": ref.DefinitionKey,
	}
}

func subscriptionFields(sub core.InboundSubscription) map[string]any {
	fields := definitionFields(sub.Definition)
	fields["point_kind"] = string(sub.Point.Kind)
	fields["element_id"] = sub.Point.ElementID
	if sub.ContextPath != "" {
		fields["context_path"] = sub.ContextPath
	}
	return fields
}
