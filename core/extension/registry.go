// Package extension implements the named extension registries: client
// capabilities, message-tag handlers, history backends, ISUPPORT tokens,
// extended bans, channel/user modes, snomasks and command overrides.
//
// Every registry shares one lifecycle, provided by the generic Registry:
// find (case-insensitive for name-keyed kinds, exact for mode letters),
// add-or-revive, owner tracking, and the two-phase delete used during a
// rehash (mark unloaded, then free at the commit sweep). The per-kind
// types add validation and behavior fields on top.
package extension

import (
	"fmt"
	"strings"
	"sync"

	"github.com/artpar/ircmod/core/module"
	"github.com/rs/zerolog"
)

// Meta is the lifecycle state embedded by every registry entry.
type Meta struct {
	name     string
	owner    *module.Module
	unloaded bool
	obj      module.Object
}

// Name returns the entry's registered name.
func (m *Meta) Name() string { return m.name }

// Owner returns the owning module, or nil for core-provided entries.
func (m *Meta) Owner() *module.Module { return m.owner }

// Unloaded reports whether the entry is marked for the commit sweep.
func (m *Meta) Unloaded() bool { return m.unloaded }

func (m *Meta) meta() *Meta { return m }

// Entry is the contract every registry entry type satisfies by embedding
// Meta and implementing rebind, which copies the behavior fields from a
// fresh request into a revived entry while preserving its identity.
type Entry[T any] interface {
	meta() *Meta
	rebind(req T)
}

// Registry is the generic named extension registry.
type Registry[T Entry[T]] struct {
	mu      sync.RWMutex
	kind    string
	exact   bool
	entries []T
	// onRemove runs on physical removal only (immediate delete or commit
	// sweep) and is where reverse dependencies are cleared. Called without
	// the registry lock held.
	onRemove func(T)
	logger   zerolog.Logger
}

// NewRegistry creates a registry for one extension kind. Names match
// case-insensitively.
func NewRegistry[T Entry[T]](kind string, logger zerolog.Logger) *Registry[T] {
	return &Registry[T]{
		kind:   kind,
		logger: logger.With().Str("registry", kind).Logger(),
	}
}

// NewExactRegistry creates a registry whose names match byte for byte.
// The single-letter registries use it: mode letters are case-sensitive,
// +p and +P are different modes.
func NewExactRegistry[T Entry[T]](kind string, logger zerolog.Logger) *Registry[T] {
	r := NewRegistry[T](kind, logger)
	r.exact = true
	return r
}

func (r *Registry[T]) sameName(a, b string) bool {
	if r.exact {
		return a == b
	}
	return strings.EqualFold(a, b)
}

// Kind returns the extension kind name.
func (r *Registry[T]) Kind() string { return r.kind }

// Find returns the active entry with the given name. Name-keyed
// registries match case-insensitively, letter-keyed registries exactly.
// Entries marked unloaded are not observable here.
func (r *Registry[T]) Find(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		m := e.meta()
		if !m.unloaded && r.sameName(m.name, name) {
			return e, true
		}
	}
	var zero T
	return zero, false
}

// Lookup is Find including entries marked unloaded. Callers use it to
// inspect two-phase state; Add uses it internally for revival.
func (r *Registry[T]) Lookup(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupLocked(name)
}

func (r *Registry[T]) lookupLocked(name string) (T, bool) {
	for _, e := range r.entries {
		if r.sameName(e.meta().name, name) {
			return e, true
		}
	}
	var zero T
	return zero, false
}

// Entries returns a snapshot of the active entries in registration order.
func (r *Registry[T]) Entries() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.meta().unloaded {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of active entries.
func (r *Registry[T]) Len() int { return len(r.Entries()) }

// Total returns the number of entries including those marked unloaded.
// Capacity-limited registries count against this, not Len, so a rehash
// cannot briefly admit more entries than the table holds.
func (r *Registry[T]) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// regObject adapts an entry to the module.Object teardown contract.
type regObject[T Entry[T]] struct {
	r *Registry[T]
	e T
}

func (o *regObject[T]) Kind() string { return o.r.kind }

func (o *regObject[T]) Remove(deferred bool) { o.r.Remove(o.e, deferred) }

// Add links req into the registry under its name. If an entry with the
// same name exists and is marked unloaded it is revived in place: the flag
// clears, behavior rebinds, ownership moves, and anything still holding a
// reference keeps pointing at the same entry. An active duplicate fails
// with ErrExists, recorded on the owner's last-error field.
func (r *Registry[T]) Add(owner *module.Module, req T) (T, error) {
	var zero T
	name := req.meta().name
	if name == "" {
		return zero, r.fail(owner, fmt.Errorf("%s: empty name: %w", r.kind, module.ErrInvalid))
	}

	r.mu.Lock()
	e, found := r.lookupLocked(name)
	if found {
		m := e.meta()
		if !m.unloaded {
			r.mu.Unlock()
			return zero, r.fail(owner, fmt.Errorf("%s %q: %w", r.kind, name, module.ErrExists))
		}
		m.unloaded = false
		e.rebind(req)
		m.owner = owner
	} else {
		e = req
		e.meta().owner = owner
		r.entries = append(r.entries, e)
	}
	obj := &regObject[T]{r: r, e: e}
	e.meta().obj = obj
	r.mu.Unlock()

	if owner != nil {
		owner.Attach(obj)
		owner.SetLastError(nil)
	}
	if found {
		r.logger.Debug().Str("name", name).Msg("revived unloaded entry")
	}
	return e, nil
}

// Remove deletes an entry. With deferred=true (rehash in progress) the
// entry is only marked unloaded, since other code paths may still hold it,
// and the commit sweep frees it later. Otherwise it is unlinked and its
// reverse dependencies cleared immediately. In both cases the entry is
// detached from its owner.
func (r *Registry[T]) Remove(e T, deferred bool) {
	m := e.meta()

	r.mu.Lock()
	if deferred {
		m.unloaded = true
	} else {
		r.unlinkLocked(e)
	}
	owner, obj := m.owner, m.obj
	m.owner, m.obj = nil, nil
	r.mu.Unlock()

	if owner != nil && obj != nil {
		owner.Detach(obj)
	}
	if !deferred && r.onRemove != nil {
		r.onRemove(e)
	}
}

func (r *Registry[T]) unlinkLocked(e T) {
	for i := range r.entries {
		if any(r.entries[i]) == any(e) {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// Sweep is the commit half of the two-phase delete: it frees every entry
// still marked unloaded. This is the only place such entries are ever
// destroyed. Returns the number freed.
func (r *Registry[T]) Sweep() int {
	r.mu.Lock()
	var dead []T
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.meta().unloaded {
			dead = append(dead, e)
		} else {
			kept = append(kept, e)
		}
	}
	r.entries = kept
	r.mu.Unlock()

	for _, e := range dead {
		// Unusual enough to want in the operational log.
		r.logger.Warn().Str("name", e.meta().name).Msgf("unloading %s", r.kind)
		if r.onRemove != nil {
			r.onRemove(e)
		}
	}
	return len(dead)
}

func (r *Registry[T]) fail(owner *module.Module, err error) error {
	if owner != nil {
		owner.SetLastError(err)
	}
	return err
}

// fatalf reports a registration contract violation: a programming error in
// the calling module, never a runtime condition. It is logged loudly and
// the process stops rather than continuing in an inconsistent state.
func (r *Registry[T]) fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.logger.Error().Msg(msg)
	panic(r.kind + ": " + msg)
}
