package reconcile

import (
	"testing"

	"github.com/goliatone/go-connectors/core"
)

func ref(processID string, version int, key int64) core.ProcessDefinitionRef {
	return core.ProcessDefinitionRef{ProcessID: processID, Version: version, DefinitionKey: key}
}

func mustReconcile(t *testing.T, state State, batch ...core.ProcessDefinitionRef) (Result, State) {
	t.Helper()
	result, next, err := Reconcile(state, batch)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	return result, next
}

func TestReconcileRegistersOnlyLatestVersion(t *testing.T) {
	result, state := mustReconcile(t, NewState(), ref("p1", 1, 1), ref("p1", 2, 2))

	if len(result.Register) != 1 || result.Register[0] != ref("p1", 2, 2) {
		t.Fatalf("expected only p1 v2 to register, got %+v", result.Register)
	}
	if len(result.Deregister) != 0 {
		t.Fatalf("expected no deregistration, got %+v", result.Deregister)
	}
	if registered, ok := state.Lookup(core.ProcessKey{ProcessID: "p1"}); !ok || registered.Version != 2 {
		t.Fatalf("expected state to track v2, got %+v", registered)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	batch := []core.ProcessDefinitionRef{ref("p1", 1, 1), ref("p2", 3, 7)}
	_, state := mustReconcile(t, NewState(), batch...)

	result, again := mustReconcile(t, state, batch...)
	if !result.Empty() {
		t.Fatalf("expected no changes on repeated batch, got %+v", result)
	}
	result, _ = mustReconcile(t, again, batch...)
	if !result.Empty() {
		t.Fatalf("expected no changes on third batch, got %+v", result)
	}
}

func TestReconcileSupersedesOlderVersion(t *testing.T) {
	_, state := mustReconcile(t, NewState(), ref("p1", 1, 1))

	result, state := mustReconcile(t, state, ref("p1", 1, 1), ref("p1", 2, 2))
	if len(result.Deregister) != 1 {
		t.Fatalf("expected one deregistration, got %+v", result.Deregister)
	}
	got := result.Deregister[0]
	if got.Kind != core.DeregisterByVersion || got.ProcessID != "p1" || got.Version != 1 {
		t.Fatalf("expected deregistration of p1 v1 by version, got %+v", got)
	}
	if len(result.Register) != 1 || result.Register[0] != ref("p1", 2, 2) {
		t.Fatalf("expected p1 v2 registration, got %+v", result.Register)
	}

	result, _ = mustReconcile(t, state, ref("p1", 1, 1), ref("p1", 2, 2))
	if !result.Empty() {
		t.Fatalf("expected supersession to happen exactly once, got %+v", result)
	}
}

func TestReconcileResurrectsOlderVersionWhenNewerDeleted(t *testing.T) {
	_, state := mustReconcile(t, NewState(), ref("p1", 1, 1))
	_, state = mustReconcile(t, state, ref("p1", 1, 1), ref("p1", 2, 2))

	result, state := mustReconcile(t, state, ref("p1", 1, 1))
	if len(result.Deregister) != 1 {
		t.Fatalf("expected one deregistration, got %+v", result.Deregister)
	}
	if got := result.Deregister[0]; got.Kind != core.DeregisterByVersion || got.Version != 2 {
		t.Fatalf("expected v2 deregistered by version, got %+v", got)
	}
	if len(result.Register) != 1 || result.Register[0] != ref("p1", 1, 1) {
		t.Fatalf("expected v1 re-registration, got %+v", result.Register)
	}
	if registered, _ := state.Lookup(core.ProcessKey{ProcessID: "p1"}); registered.Version != 1 {
		t.Fatalf("expected state to track v1, got %+v", registered)
	}
}

func TestReconcileFirstBatchThenOlderOnly(t *testing.T) {
	_, state := mustReconcile(t, NewState(), ref("p1", 1, 1), ref("p1", 2, 2))

	result, _ := mustReconcile(t, state, ref("p1", 1, 1))
	if len(result.Deregister) != 1 || result.Deregister[0].Version != 2 {
		t.Fatalf("expected v2 deregistered, got %+v", result.Deregister)
	}
	if len(result.Register) != 1 || result.Register[0].Version != 1 {
		t.Fatalf("expected v1 registered, got %+v", result.Register)
	}
}

func TestReconcileFullDeletionUsesDefinitionKey(t *testing.T) {
	_, state := mustReconcile(t, NewState(), ref("p1", 1, 1), ref("p2", 1, 2))

	result, state := mustReconcile(t, state, ref("p1", 1, 1))
	if len(result.Register) != 0 {
		t.Fatalf("expected no registration, got %+v", result.Register)
	}
	if len(result.Deregister) != 1 {
		t.Fatalf("expected one deregistration, got %+v", result.Deregister)
	}
	got := result.Deregister[0]
	if got.Kind != core.DeregisterByDefinitionKey || got.DefinitionKey != 2 {
		t.Fatalf("expected p2 deregistered by definition key, got %+v", got)
	}
	if !state.Retired(2) {
		t.Fatalf("expected definition key 2 to be retired")
	}
}

func TestReconcileIgnoresIdenticalReappearanceAfterDeletion(t *testing.T) {
	_, state := mustReconcile(t, NewState(), ref("p1", 1, 1))
	_, state = mustReconcile(t, state)

	result, state := mustReconcile(t, state, ref("p1", 1, 1))
	if !result.Empty() {
		t.Fatalf("expected oscillating definition to stay deregistered, got %+v", result)
	}

	result, _ = mustReconcile(t, state, ref("p1", 1, 9))
	if len(result.Register) != 1 || result.Register[0].DefinitionKey != 9 {
		t.Fatalf("expected redeployment under a new key to register, got %+v", result)
	}
}

func TestReconcileRejectsDuplicateVersionInBatch(t *testing.T) {
	_, state := mustReconcile(t, NewState(), ref("p1", 1, 1))

	_, next, err := Reconcile(state, []core.ProcessDefinitionRef{ref("p1", 2, 2), ref("p1", 2, 3)})
	if !core.HasTextCode(err, core.ErrorReconciliationInputViolation) {
		t.Fatalf("expected reconciliation input violation, got %v", err)
	}
	if registered, _ := next.Lookup(core.ProcessKey{ProcessID: "p1"}); registered.Version != 1 {
		t.Fatalf("expected previous state to be kept, got %+v", registered)
	}
}

func TestReconcileDoesNotMutatePreviousState(t *testing.T) {
	_, state := mustReconcile(t, NewState(), ref("p1", 1, 1))
	_, _ = mustReconcile(t, state, ref("p1", 2, 2))

	if registered, _ := state.Lookup(core.ProcessKey{ProcessID: "p1"}); registered.Version != 1 {
		t.Fatalf("expected previous state to be immutable, got %+v", registered)
	}
}

func TestReconcileTenantsAreIndependent(t *testing.T) {
	a := core.ProcessDefinitionRef{TenantID: "a", ProcessID: "p1", Version: 1, DefinitionKey: 1}
	b := core.ProcessDefinitionRef{TenantID: "b", ProcessID: "p1", Version: 1, DefinitionKey: 2}

	result, state := mustReconcile(t, NewState(), a, b)
	if len(result.Register) != 2 {
		t.Fatalf("expected both tenants to register, got %+v", result.Register)
	}
	if len(state.Registered()) != 2 {
		t.Fatalf("expected two registered entries")
	}
}

func TestReconcileZeroStateIsUsable(t *testing.T) {
	result, _, err := Reconcile(State{}, []core.ProcessDefinitionRef{ref("p1", 1, 1)})
	if err != nil || len(result.Register) != 1 {
		t.Fatalf("expected zero state to behave like NewState, got %+v %v", result, err)
	}
}
