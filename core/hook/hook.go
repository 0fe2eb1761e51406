// Package hook provides priority-ordered dispatch chains for protocol
// events. Each hook type is a Table with its own strongly-typed callable
// signature; the core invokes a table at a fixed point and walks the
// registered handlers in priority order.
package hook

import (
	"sort"
	"sync"

	"github.com/artpar/ircmod/core/module"
	"github.com/rs/zerolog"
)

// Result is the return value convention shared by most hook signatures.
type Result int

const (
	// Continue lets the walk proceed to the next handler.
	Continue Result = 0
	// Allow short-circuits with an explicit permit.
	Allow Result = -1
	// Deny short-circuits with a veto.
	Deny Result = 1
)

// Table is one dispatch chain. F is the handler signature for this hook
// type; registering a function of any other type is a compile error, which
// replaces the source language's registration-time signature check.
type Table[F any] struct {
	mu      sync.RWMutex
	name    string
	entries []*entry[F]
	nextID  int
	seq     int
	set     *Set
}

type entry[F any] struct {
	id       int
	priority int
	seq      int
	owner    *module.Module
	fn       F
}

// NewTable creates a dispatch chain and registers it with the set (which
// may be nil for standalone tables, e.g. module-declared custom hooks kept
// private).
func NewTable[F any](set *Set, name string) *Table[F] {
	t := &Table[F]{name: name, set: set}
	if set != nil {
		set.register(t)
	}
	return t
}

// Name returns the hook type name.
func (t *Table[F]) Name() string { return t.name }

// Len returns the number of registered handlers.
func (t *Table[F]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Handle identifies one registered handler so it can be removed.
type Handle struct {
	remove func()
	once   sync.Once
}

// Remove unregisters the handler and detaches it from its owner. Hook
// removal is always immediate; unlike named registry entries, hooks are
// never kept in an unloaded shadow state.
func (h *Handle) Remove() { h.once.Do(h.remove) }

// hookObject adapts a Handle to the module.Object teardown contract.
type hookObject struct {
	table  string
	handle *Handle
}

func (o *hookObject) Kind() string { return "hook:" + o.table }

func (o *hookObject) Remove(bool) { o.handle.Remove() }

// Add registers fn at the given priority. Lower priorities run first;
// equal priorities run in registration order. owner may be nil for
// core-provided handlers.
func (t *Table[F]) Add(owner *module.Module, priority int, fn F) *Handle {
	t.mu.Lock()
	t.nextID++
	t.seq++
	e := &entry[F]{
		id:       t.nextID,
		priority: priority,
		seq:      t.seq,
		owner:    owner,
		fn:       fn,
	}
	t.entries = append(t.entries, e)
	sort.SliceStable(t.entries, func(i, j int) bool {
		if t.entries[i].priority != t.entries[j].priority {
			return t.entries[i].priority < t.entries[j].priority
		}
		return t.entries[i].seq < t.entries[j].seq
	})
	t.mu.Unlock()

	h := &Handle{}
	var obj *hookObject
	h.remove = func() {
		t.removeEntry(e.id)
		if owner != nil && obj != nil {
			owner.Detach(obj)
		}
	}
	if owner != nil {
		obj = &hookObject{table: t.name, handle: h}
		owner.Attach(obj)
		owner.SetLastError(nil)
	}
	return h
}

func (t *Table[F]) removeEntry(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		if e.id == id {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// Handlers returns a snapshot of the chain in dispatch order. The snapshot
// is taken under the read lock but invoked without it, so a handler may
// safely register or remove hooks while the walk is in progress.
func (t *Table[F]) Handlers() []F {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]F, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.fn
	}
	return out
}

// Run invokes every handler regardless of what it returns: the
// fire-and-continue convention used by pure notification hooks.
func (t *Table[F]) Run(invoke func(F)) {
	t.observe()
	for _, fn := range t.Handlers() {
		invoke(fn)
	}
}

// RunUntil walks the chain until stop(result) reports true, returning that
// result. This is the short-circuit convention: veto semantics when the
// caller checks for Deny, override semantics when it checks for any
// non-Continue value. ok is false if no handler triggered the predicate.
func RunUntil[F any, R any](t *Table[F], invoke func(F) R, stop func(R) bool) (result R, ok bool) {
	t.observe()
	for _, fn := range t.Handlers() {
		r := invoke(fn)
		if stop(r) {
			return r, true
		}
	}
	return result, false
}

// FirstResult walks the chain and propagates the first non-zero value a
// handler produces back to the caller (the accumulate-and-return
// convention, e.g. the first hook to supply a rejection reason wins).
func FirstResult[F any, R comparable](t *Table[F], invoke func(F) R) (result R, ok bool) {
	var zero R
	return RunUntil(t, invoke, func(r R) bool { return r != zero })
}

func (t *Table[F]) observe() {
	if t.set != nil && t.set.observer != nil {
		t.set.observer(t.name)
	}
}

// purge removes every handler owned by m, returning how many were dropped.
func (t *Table[F]) purge(m *module.Module) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.entries[:0]
	dropped := 0
	for _, e := range t.entries {
		if e.owner == m {
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	t.entries = kept
	return dropped
}

// NamedTable is the type-erased view of a Table used by Set.
type NamedTable interface {
	Name() string
	Len() int
	purge(m *module.Module) int
}

// Set collects every hook table in the process so the lifecycle manager
// and the admin surface can enumerate them.
type Set struct {
	mu       sync.RWMutex
	tables   []NamedTable
	observer func(table string)
	logger   zerolog.Logger
}

// NewSet creates an empty table collection.
func NewSet(logger zerolog.Logger) *Set {
	return &Set{logger: logger.With().Str("component", "hooks").Logger()}
}

// SetObserver installs a per-dispatch callback (used for metrics). Must be
// called before dispatch traffic starts.
func (s *Set) SetObserver(fn func(table string)) {
	s.observer = fn
}

func (s *Set) register(t NamedTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tables {
		if existing.Name() == t.Name() {
			s.logger.Error().Str("hook", t.Name()).Msg("duplicate hook table registration")
			panic("hook: duplicate table " + t.Name())
		}
	}
	s.tables = append(s.tables, t)
}

// Tables returns a snapshot of every registered table.
func (s *Set) Tables() []NamedTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]NamedTable, len(s.tables))
	copy(out, s.tables)
	return out
}

// PurgeOwner drops every handler owned by m across all tables. Normal
// teardown goes through the module's object list; this is the safety net
// the lifecycle manager runs after a failed load.
func (s *Set) PurgeOwner(m *module.Module) int {
	total := 0
	for _, t := range s.Tables() {
		total += t.purge(m)
	}
	return total
}
