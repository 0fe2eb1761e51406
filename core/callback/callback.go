// Package callback provides single-slot extension points: each slot holds
// the one function that currently implements some behavior (a cloaking
// algorithm, a blacklist check). Unlike hook chains there is no fan-out.
//
// Slots come in two flavors sharing one mechanism: optional callbacks,
// where an unset slot is a well-defined no-op for the caller, and
// mandatory efunctions, which the lifecycle manager verifies are all bound
// after every rehash.
package callback

import (
	"sync"

	"github.com/artpar/ircmod/core/module"
	"github.com/rs/zerolog"
)

// holder is one installed implementation.
type holder[F any] struct {
	owner *module.Module
	fn    F
	// willBeRemoved marks the superseded-but-not-yet-freed shadow kept
	// alive during a rehash so in-flight calls complete against a
	// consistent implementation.
	willBeRemoved bool
}

// Slot is a single-implementation extension point of signature F.
type Slot[F any] struct {
	mu        sync.RWMutex
	name      string
	mandatory bool
	active    *holder[F]
	shadows   []*holder[F]
	slots     *Slots
}

// NewSlot creates a slot and registers it with the collection. mandatory
// slots participate in the post-rehash Missing check.
func NewSlot[F any](slots *Slots, name string, mandatory bool) *Slot[F] {
	s := &Slot[F]{name: name, mandatory: mandatory, slots: slots}
	if slots != nil {
		slots.register(s)
	}
	return s
}

// Name returns the callback type name.
func (s *Slot[F]) Name() string { return s.name }

// Mandatory reports whether the slot must be bound after a rehash.
func (s *Slot[F]) Mandatory() bool { return s.mandatory }

// Get returns the active implementation. ok is false when the slot is
// unset; callers treat that as a no-op or default, never a fault. An
// implementation flagged for removal is still returned: it stays the
// current one until its replacement arrives or the sweep runs.
func (s *Slot[F]) Get() (fn F, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return fn, false
	}
	return s.active.fn, true
}

// Bound reports whether an active implementation exists that is not
// scheduled for removal.
func (s *Slot[F]) Bound() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active != nil && !s.active.willBeRemoved
}

type slotObject[F any] struct {
	slot *Slot[F]
	h    *holder[F]
}

func (o *slotObject[F]) Kind() string { return "callback:" + o.slot.name }

func (o *slotObject[F]) Remove(deferred bool) { o.slot.remove(o.h, deferred) }

// Set installs fn as the slot's implementation. If an active entry exists
// and is not flagged for removal, the call fails with ErrExists (recorded
// on owner). If the active entry is flagged, which is the normal rehash
// handoff, it is shadowed, not freed, and fn becomes current.
func (s *Slot[F]) Set(owner *module.Module, fn F) (module.Object, error) {
	s.mu.Lock()
	if s.active != nil {
		if !s.active.willBeRemoved {
			s.mu.Unlock()
			if owner != nil {
				owner.SetLastError(module.ErrExists)
			}
			return nil, module.ErrExists
		}
		s.shadows = append(s.shadows, s.active)
	}
	h := &holder[F]{owner: owner, fn: fn}
	s.active = h
	s.mu.Unlock()

	obj := &slotObject[F]{slot: s, h: h}
	if owner != nil {
		owner.Attach(obj)
		owner.SetLastError(nil)
	}
	return obj, nil
}

func (s *Slot[F]) remove(h *holder[F], deferred bool) {
	s.mu.Lock()
	if deferred {
		// Two-phase: keep the implementation callable until the commit
		// sweep, in case the reloading module re-registers.
		h.willBeRemoved = true
	} else {
		if s.active == h {
			s.active = nil
		} else {
			for i, sh := range s.shadows {
				if sh == h {
					s.shadows = append(s.shadows[:i], s.shadows[i+1:]...)
					break
				}
			}
		}
	}
	owner := h.owner
	s.mu.Unlock()

	if owner != nil {
		h.owner = nil
	}
}

// sweep discards shadows and any active entry still flagged for removal.
// Returns the number of implementations freed.
func (s *Slot[F]) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.shadows)
	s.shadows = nil
	if s.active != nil && s.active.willBeRemoved {
		s.active = nil
		n++
	}
	return n
}

func (s *Slot[F]) bound() bool { return s.Bound() }

// slotHandle is the type-erased slot view held by Slots.
type slotHandle interface {
	Name() string
	Mandatory() bool
	sweep() int
	bound() bool
}

// Slots is the process-wide collection of callback and efunction slots.
type Slots struct {
	mu     sync.RWMutex
	slots  []slotHandle
	logger zerolog.Logger
}

// NewSlots creates an empty slot collection.
func NewSlots(logger zerolog.Logger) *Slots {
	return &Slots{logger: logger.With().Str("component", "callbacks").Logger()}
}

func (c *Slots) register(s slotHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.slots {
		if existing.Name() == s.Name() {
			c.logger.Error().Str("callback", s.Name()).Msg("duplicate callback slot registration")
			panic("callback: duplicate slot " + s.Name())
		}
	}
	c.slots = append(c.slots, s)
}

// Sweep runs the commit pass over every slot, permanently discarding
// implementations nothing re-registered during the rehash.
func (c *Slots) Sweep() int {
	c.mu.RLock()
	slots := make([]slotHandle, len(c.slots))
	copy(slots, c.slots)
	c.mu.RUnlock()

	total := 0
	for _, s := range slots {
		if n := s.sweep(); n > 0 {
			c.logger.Debug().Str("callback", s.Name()).Int("freed", n).Msg("swept callback slot")
			total += n
		}
	}
	return total
}

// Missing returns the names of mandatory slots with no active
// implementation. A non-empty result after a rehash is a fatal
// configuration state.
func (c *Slots) Missing() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var missing []string
	for _, s := range c.slots {
		if s.Mandatory() && !s.bound() {
			missing = append(missing, s.Name())
		}
	}
	return missing
}
