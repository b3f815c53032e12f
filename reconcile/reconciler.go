// Package reconcile diffs successive snapshots of deployed process definitions
// into register and deregister decisions. It performs no I/O.
package reconcile

import (
	"sort"

	"github.com/goliatone/go-connectors/core"
)

// State is the reconciler's working set: the definition currently registered
// for each process and the definition keys retired by a full deletion.
// Values are never mutated in place; Reconcile returns a new State.
type State struct {
	registered map[core.ProcessKey]core.ProcessDefinitionRef
	retired    map[int64]core.ProcessDefinitionRef
}

func NewState() State {
	return State{
		registered: map[core.ProcessKey]core.ProcessDefinitionRef{},
		retired:    map[int64]core.ProcessDefinitionRef{},
	}
}

// Registered returns the registered definitions sorted by process key.
func (s State) Registered() []core.ProcessDefinitionRef {
	out := make([]core.ProcessDefinitionRef, 0, len(s.registered))
	for _, ref := range s.registered {
		out = append(out, ref)
	}
	core.SortDefinitionRefs(out)
	return out
}

func (s State) Lookup(key core.ProcessKey) (core.ProcessDefinitionRef, bool) {
	ref, ok := s.registered[key]
	return ref, ok
}

func (s State) Retired(definitionKey int64) bool {
	_, ok := s.retired[definitionKey]
	return ok
}

func (s State) clone() State {
	next := NewState()
	for key, ref := range s.registered {
		next.registered[key] = ref
	}
	for key, ref := range s.retired {
		next.retired[key] = ref
	}
	return next
}

// Result lists the definitions to activate and the subscriptions to tear
// down. Callers apply Deregister before Register.
type Result struct {
	Register   []core.ProcessDefinitionRef
	Deregister []core.DeregistrationKey
}

func (r Result) Empty() bool {
	return len(r.Register) == 0 && len(r.Deregister) == 0
}

// Reconcile compares batch, a full snapshot of deployed definitions, with the
// previous state. Only the latest version of each process is registered. A
// process whose registered version changed is deregistered by version; a
// process that vanished is deregistered by definition key and remembered so an
// identical reappearance is ignored. A batch holding the same process version
// twice is rejected and the previous state is returned unchanged.
func Reconcile(previous State, batch []core.ProcessDefinitionRef) (Result, State, error) {
	if previous.registered == nil {
		previous = NewState()
	}

	latest, err := latestByProcess(batch)
	if err != nil {
		return Result{}, previous, err
	}

	next := previous.clone()
	result := Result{}

	for key, incoming := range latest {
		current, known := previous.registered[key]
		switch {
		case !known:
			if previous.Retired(incoming.DefinitionKey) {
				continue
			}
			result.Register = append(result.Register, incoming)
			next.registered[key] = incoming
		case current.Version == incoming.Version:
			// (processId, version) already seen
		default:
			result.Deregister = append(result.Deregister, core.DeregisterVersion(current))
			result.Register = append(result.Register, incoming)
			next.registered[key] = incoming
		}
	}

	for key, current := range previous.registered {
		if _, present := latest[key]; present {
			continue
		}
		result.Deregister = append(result.Deregister, core.DeregisterDefinitionKey(current))
		next.retired[current.DefinitionKey] = current
		delete(next.registered, key)
	}

	core.SortDefinitionRefs(result.Register)
	sortDeregistrations(result.Deregister)
	return result, next, nil
}

func latestByProcess(batch []core.ProcessDefinitionRef) (map[core.ProcessKey]core.ProcessDefinitionRef, error) {
	type versionKey struct {
		process core.ProcessKey
		version int
	}
	seen := make(map[versionKey]struct{}, len(batch))
	latest := make(map[core.ProcessKey]core.ProcessDefinitionRef)
	for _, ref := range batch {
		if err := ref.Validate(); err != nil {
			return nil, core.MapError(err)
		}
		vk := versionKey{process: ref.Key(), version: ref.Version}
		if _, dup := seen[vk]; dup {
			return nil, core.NewReconciliationInputError(ref)
		}
		seen[vk] = struct{}{}
		if current, ok := latest[ref.Key()]; !ok || ref.Version > current.Version {
			latest[ref.Key()] = ref
		}
	}
	return latest, nil
}

func sortDeregistrations(keys []core.DeregistrationKey) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.TenantID != b.TenantID {
			return a.TenantID < b.TenantID
		}
		if a.ProcessID != b.ProcessID {
			return a.ProcessID < b.ProcessID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Version != b.Version {
			return a.Version < b.Version
		}
		return a.DefinitionKey < b.DefinitionKey
	})
}
