package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/reconcile"
)

type scriptedSource struct {
	mu      sync.Mutex
	batches [][]core.ProcessDefinitionRef
	err     error
	block   chan struct{}
	entered chan struct{}
	polls   int
}

func (s *scriptedSource) Poll(context.Context) ([]core.ProcessDefinitionRef, error) {
	s.mu.Lock()
	s.polls++
	block, entered := s.block, s.entered
	var batch []core.ProcessDefinitionRef
	if len(s.batches) > 0 {
		batch = s.batches[0]
		if len(s.batches) > 1 {
			s.batches = s.batches[1:]
		}
	}
	err := s.err
	s.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return batch, err
}

type recordingApplier struct {
	mu      sync.Mutex
	results []reconcile.Result
	err     error
	pending []core.ProcessDefinitionRef
	retried [][]core.ProcessDefinitionRef
}

func (a *recordingApplier) Apply(_ context.Context, result reconcile.Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, result)
	return a.err
}

func (a *recordingApplier) Pending() []core.ProcessDefinitionRef {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]core.ProcessDefinitionRef(nil), a.pending...)
}

func (a *recordingApplier) HandleNewProcessDefinitions(_ context.Context, refs []core.ProcessDefinitionRef) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retried = append(a.retried, refs)
	return nil
}

type countingRecorder struct {
	mu       sync.Mutex
	counters map[string]int64
}

func (r *countingRecorder) IncCounter(_ context.Context, name string, value int64, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counters == nil {
		r.counters = map[string]int64{}
	}
	r.counters[name] += value
}

func (r *countingRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func ref(processID string, version int, key int64) core.ProcessDefinitionRef {
	return core.ProcessDefinitionRef{ProcessID: processID, Version: version, DefinitionKey: key}
}

func TestRunOnceAppliesReconciledChanges(t *testing.T) {
	source := &scriptedSource{batches: [][]core.ProcessDefinitionRef{
		{ref("orders", 1, 1)},
		{ref("orders", 1, 1), ref("orders", 2, 2)},
		{ref("orders", 1, 1), ref("orders", 2, 2)},
	}}
	applier := &recordingApplier{}
	importer, err := NewImporter(source, applier)
	if err != nil {
		t.Fatalf("new importer: %v", err)
	}

	first, err := importer.RunOnce(context.Background())
	if err != nil || len(first.Register) != 1 {
		t.Fatalf("expected first registration, got %+v %v", first, err)
	}
	second, err := importer.RunOnce(context.Background())
	if err != nil || len(second.Register) != 1 || len(second.Deregister) != 1 {
		t.Fatalf("expected supersede, got %+v %v", second, err)
	}
	third, err := importer.RunOnce(context.Background())
	if err != nil || !third.Empty() {
		t.Fatalf("expected unchanged batch to be a no-op, got %+v %v", third, err)
	}
	if len(applier.results) != 2 {
		t.Fatalf("expected empty results not to be applied, got %d", len(applier.results))
	}
	if got, _ := importer.State().Lookup(core.ProcessKey{ProcessID: "orders"}); got.Version != 2 {
		t.Fatalf("expected state to track version 2, got %+v", got)
	}
	if status := importer.Status(); status.Cycles != 3 || status.Registered != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestRunOnceKeepsStateOnPollOrInputFailure(t *testing.T) {
	source := &scriptedSource{batches: [][]core.ProcessDefinitionRef{{ref("orders", 1, 1)}}}
	applier := &recordingApplier{}
	importer, _ := NewImporter(source, applier)
	if _, err := importer.RunOnce(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	source.err = errors.New("source down")
	if _, err := importer.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected poll error")
	}
	source.err = nil
	source.batches = [][]core.ProcessDefinitionRef{{ref("orders", 2, 2), ref("orders", 2, 3)}}
	if _, err := importer.RunOnce(context.Background()); !core.HasTextCode(err, core.ErrorReconciliationInputViolation) {
		t.Fatalf("expected input violation, got %v", err)
	}
	if got, _ := importer.State().Lookup(core.ProcessKey{ProcessID: "orders"}); got.Version != 1 {
		t.Fatalf("expected previous state to survive failed cycles, got %+v", got)
	}
	if importer.Status().LastError == "" {
		t.Fatalf("expected last error to be recorded")
	}
}

func TestRunOnceIsSingleFlight(t *testing.T) {
	source := &scriptedSource{
		batches: [][]core.ProcessDefinitionRef{{ref("orders", 1, 1)}},
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	recorder := &countingRecorder{}
	importer, _ := NewImporter(source, &recordingApplier{},
		WithObserver(core.NewObserver("test", nil, recorder)))

	done := make(chan error, 1)
	go func() {
		_, err := importer.RunOnce(context.Background())
		done <- err
	}()
	<-source.entered

	if _, err := importer.RunOnce(context.Background()); !errors.Is(err, ErrCycleInProgress) {
		t.Fatalf("expected overlapping cycle to be skipped, got %v", err)
	}
	close(source.block)
	if err := <-done; err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if importer.Status().Skipped != 1 {
		t.Fatalf("expected one skipped cycle")
	}
	recorder.mu.Lock()
	skipped := recorder.counters["connectors.importer.skipped.total"]
	recorder.mu.Unlock()
	if skipped != 1 {
		t.Fatalf("expected skip to be counted, got %d", skipped)
	}
}

func TestRunOnceRetriesPendingDefinitions(t *testing.T) {
	current := ref("orders", 1, 1)
	stale := ref("billing", 1, 5)
	source := &scriptedSource{batches: [][]core.ProcessDefinitionRef{{current}}}
	applier := &recordingApplier{}
	importer, _ := NewImporter(source, applier)

	if _, err := importer.RunOnce(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if len(applier.retried) != 0 {
		t.Fatalf("nothing should be retried before a failure is known")
	}

	applier.pending = []core.ProcessDefinitionRef{current, stale}
	if _, err := importer.RunOnce(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if len(applier.retried) != 1 || len(applier.retried[0]) != 1 || applier.retried[0][0] != current {
		t.Fatalf("expected only the registered pending definition to be retried, got %v", applier.retried)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	source := &scriptedSource{batches: [][]core.ProcessDefinitionRef{{ref("orders", 1, 1)}}}
	applier := &recordingApplier{}
	importer, _ := NewImporter(source, applier, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- importer.Run(ctx) }()

	deadline := time.After(time.Second)
	for importer.Status().Cycles < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected repeated cycles")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected run to stop after cancel")
	}
	applier.mu.Lock()
	defer applier.mu.Unlock()
	if len(applier.results) != 1 {
		t.Fatalf("expected a single applied change across cycles, got %d", len(applier.results))
	}
}

func TestNewImporterRequiresDependencies(t *testing.T) {
	if _, err := NewImporter(nil, &recordingApplier{}); err == nil {
		t.Fatalf("expected missing source error")
	}
	if _, err := NewImporter(&scriptedSource{}, nil); err == nil {
		t.Fatalf("expected missing applier error")
	}
}
