// Package poller periodically imports deployed process definitions and
// applies the reconciled changes to the lifecycle manager.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/reconcile"
)

const DefaultInterval = 5 * time.Second

// ErrCycleInProgress is returned by RunOnce while another cycle is running.
var ErrCycleInProgress = errors.New("poller: import cycle already in progress")

// Applier executes a reconciliation result. *lifecycle.Manager satisfies it.
type Applier interface {
	Apply(ctx context.Context, result reconcile.Result) error
}

// Retrier is implemented by appliers that keep definitions whose
// activation failed. *lifecycle.Manager satisfies it.
type Retrier interface {
	Pending() []core.ProcessDefinitionRef
	HandleNewProcessDefinitions(ctx context.Context, refs []core.ProcessDefinitionRef) error
}

// Status describes the last completed cycle.
type Status struct {
	Cycles     int64
	Skipped    int64
	LastRunAt  time.Time
	LastError  string
	Registered int
}

// Importer runs single-flight import cycles: poll the source, reconcile
// against the previous state, apply the result. A cycle that fails before
// apply leaves the previous state in place.
type Importer struct {
	source   core.DefinitionSource
	applier  Applier
	interval time.Duration
	observer core.Observer
	tracer   core.Tracer
	now      func() time.Time

	flight *semaphore.Weighted

	mu     sync.Mutex
	state  reconcile.State
	status Status
}

type Option func(*Importer)

func WithInterval(interval time.Duration) Option {
	return func(i *Importer) {
		if interval > 0 {
			i.interval = interval
		}
	}
}

func WithObserver(observer core.Observer) Option {
	return func(i *Importer) {
		i.observer = observer
	}
}

func WithTracer(tracer core.Tracer) Option {
	return func(i *Importer) {
		if tracer != nil {
			i.tracer = tracer
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(i *Importer) {
		if now != nil {
			i.now = now
		}
	}
}

func NewImporter(source core.DefinitionSource, applier Applier, opts ...Option) (*Importer, error) {
	if source == nil {
		return nil, fmt.Errorf("poller: definition source is required")
	}
	if applier == nil {
		return nil, fmt.Errorf("poller: applier is required")
	}
	i := &Importer{
		source:   source,
		applier:  applier,
		interval: DefaultInterval,
		observer: core.NewObserver("connectors.poller", nil, nil),
		tracer:   core.NopTracer{},
		now:      func() time.Time { return time.Now().UTC() },
		flight:   semaphore.NewWeighted(1),
		state:    reconcile.NewState(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i, nil
}

// Run starts a cycle immediately and then on every tick until ctx is done.
// A tick that finds the previous cycle still running is skipped.
func (i *Importer) Run(ctx context.Context) error {
	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	i.tick(ctx, &wg)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			i.tick(ctx, &wg)
		}
	}
}

func (i *Importer) tick(ctx context.Context, wg *sync.WaitGroup) {
	if !i.flight.TryAcquire(1) {
		i.skip(ctx)
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer i.flight.Release(1)
		// Cycle errors are observed inside cycle.
		_, _ = i.cycle(ctx)
	}()
}

// RunOnce runs a single cycle now and returns what it applied. It returns
// ErrCycleInProgress without waiting when a cycle is already running.
func (i *Importer) RunOnce(ctx context.Context) (reconcile.Result, error) {
	if !i.flight.TryAcquire(1) {
		i.skip(ctx)
		return reconcile.Result{}, ErrCycleInProgress
	}
	defer i.flight.Release(1)
	return i.cycle(ctx)
}

func (i *Importer) cycle(ctx context.Context) (result reconcile.Result, err error) {
	startedAt := time.Now()
	ctx, end := i.tracer.Start(ctx, "importer.cycle", nil)
	fields := map[string]any{}
	defer func() {
		end(err)
		i.record(err)
		i.observer.Observe(ctx, startedAt, "importer.cycle", err, fields)
	}()

	refs, err := i.source.Poll(ctx)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("poller: poll definitions: %w", err)
	}
	fields["definitions"] = len(refs)

	i.mu.Lock()
	previous := i.state
	i.mu.Unlock()

	result, next, err := reconcile.Reconcile(previous, refs)
	if err != nil {
		return reconcile.Result{}, err
	}
	fields["register"] = len(result.Register)
	fields["deregister"] = len(result.Deregister)

	// The reconciled state is kept even when some activations fail; failed
	// definitions stay pending in the applier and are retried next cycle.
	i.mu.Lock()
	i.state = next
	i.mu.Unlock()

	retrier, canRetry := i.applier.(Retrier)
	var pending []core.ProcessDefinitionRef
	if canRetry {
		pending = retrier.Pending()
	}
	if !result.Empty() {
		err = i.applier.Apply(ctx, result)
	}
	if retry := retryable(pending, next, result); len(retry) > 0 {
		fields["retried"] = len(retry)
		err = multierr.Append(err, retrier.HandleNewProcessDefinitions(ctx, retry))
	}
	return result, err
}

// retryable keeps the pending definitions that are still the registered
// version of their process and were not just registered by result.
func retryable(pending []core.ProcessDefinitionRef, state reconcile.State, result reconcile.Result) []core.ProcessDefinitionRef {
	if len(pending) == 0 {
		return nil
	}
	fresh := make(map[core.ProcessDefinitionRef]struct{}, len(result.Register))
	for _, ref := range result.Register {
		fresh[ref] = struct{}{}
	}
	out := make([]core.ProcessDefinitionRef, 0, len(pending))
	for _, ref := range pending {
		if _, ok := fresh[ref]; ok {
			continue
		}
		if current, ok := state.Lookup(ref.Key()); ok && current == ref {
			out = append(out, ref)
		}
	}
	return out
}

func (i *Importer) skip(ctx context.Context) {
	i.mu.Lock()
	i.status.Skipped++
	i.mu.Unlock()
	i.observer.Count(ctx, "connectors.importer.skipped.total", 1, nil)
	i.observer.LogDebug(ctx, "import cycle skipped", map[string]any{"reason": "cycle in progress"})
}

func (i *Importer) record(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.status.Cycles++
	i.status.LastRunAt = i.now()
	i.status.LastError = ""
	if err != nil {
		i.status.LastError = err.Error()
	}
	i.status.Registered = len(i.state.Registered())
}

// State returns the reconciler state after the last cycle.
func (i *Importer) State() reconcile.State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Importer) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}
