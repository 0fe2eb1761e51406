// Package moddata lets modules attach their own data to core entities
// without the core knowing the shape of that data.
//
// A module registers a named descriptor against an entity type and gets a
// slot number back. Every entity of that type carries a Store, a growable
// slot array the descriptor indexes into. Descriptors follow the same
// lifecycle as named extensions: case-insensitive lookup, add-or-revive by
// name, deferred two-phase delete during a rehash. Because a revived
// descriptor keeps its slot, data written before a rehash is still there
// after it.
package moddata

import (
	"fmt"
	"strings"
	"sync"

	"github.com/artpar/ircmod/core/module"
	"github.com/rs/zerolog"
)

// Type is the entity namespace a descriptor attaches to. Slot numbers are
// only meaningful within one namespace.
type Type int

const (
	Client Type = iota
	LocalClient
	Channel
	Member
	Membership
	// LocalVariable and GlobalVariable slots live in two stores owned by
	// the allocator itself, not on any entity. They are how modules keep
	// state alive across their own reload.
	LocalVariable
	GlobalVariable

	numTypes
)

// String returns the namespace name for logs.
func (t Type) String() string {
	switch t {
	case Client:
		return "client"
	case LocalClient:
		return "local-client"
	case Channel:
		return "channel"
	case Member:
		return "member"
	case Membership:
		return "membership"
	case LocalVariable:
		return "local-variable"
	case GlobalVariable:
		return "global-variable"
	default:
		return "unknown"
	}
}

// Free releases a stored value when its entity dies or its descriptor is
// freed. Optional; plain values need no cleanup.
type Free func(v any)

// Serialize renders a value for network sync or persistence. Returning ""
// means there is nothing to send.
type Serialize func(v any) string

// Unserialize rebuilds a value from its serialized form.
type Unserialize func(data string) any

// Info describes a descriptor registration.
type Info struct {
	Name string
	Type Type
	// Sync marks the data for broadcast to other servers on change.
	Sync        bool
	Free        Free
	Serialize   Serialize
	Unserialize Unserialize
}

// Desc is a registered module-data descriptor. Its slot is stable for as
// long as the name stays registered, revivals included.
type Desc struct {
	name        string
	typ         Type
	slot        int
	sync        bool
	free        Free
	serialize   Serialize
	unserialize Unserialize

	owner    *module.Module
	unloaded bool
	obj      module.Object
	alloc    *Allocator
}

// Name returns the descriptor's registered name.
func (d *Desc) Name() string { return d.name }

// Type returns the entity namespace.
func (d *Desc) Type() Type { return d.typ }

// Slot returns the descriptor's index into the namespace's stores.
func (d *Desc) Slot() int { return d.slot }

// Sync reports whether changes are broadcast to other servers.
func (d *Desc) Sync() bool { return d.sync }

// Owner returns the owning module.
func (d *Desc) Owner() *module.Module { return d.owner }

// Unloaded reports whether the descriptor is marked for the commit sweep.
func (d *Desc) Unloaded() bool { return d.unloaded }

// Store is the per-entity slot array. The zero value is ready to use;
// unwritten slots read as nil.
type Store struct {
	vals []any
}

// Get returns the value in the descriptor's slot of s, or nil.
func (d *Desc) Get(s *Store) any {
	if d.slot >= len(s.vals) {
		return nil
	}
	return s.vals[d.slot]
}

// Set writes v into the descriptor's slot of s, growing the store as
// needed. The previous value, if any, is released through Free.
func (d *Desc) Set(s *Store, v any) {
	for len(s.vals) <= d.slot {
		s.vals = append(s.vals, nil)
	}
	if old := s.vals[d.slot]; old != nil && d.free != nil {
		d.free(old)
	}
	s.vals[d.slot] = v
}

// SerializeFrom renders the slot's value, or "" when unset or the
// descriptor has no serializer.
func (d *Desc) SerializeFrom(s *Store) string {
	v := d.Get(s)
	if v == nil || d.serialize == nil {
		return ""
	}
	return d.serialize(v)
}

// UnserializeInto rebuilds the slot's value from data. An empty string
// clears the slot.
func (d *Desc) UnserializeInto(s *Store, data string) {
	if data == "" {
		d.Set(s, nil)
		return
	}
	if d.unserialize == nil {
		return
	}
	d.Set(s, d.unserialize(data))
}

// SetString writes data into the named descriptor's slot of s through its
// unserialize func. This is the seam used when slot values arrive as text,
// for example from a linked server. Returns false when no live descriptor
// has that name.
func (a *Allocator) SetString(t Type, name string, s *Store, data string) bool {
	d, ok := a.Find(t, name)
	if !ok {
		return false
	}
	d.UnserializeInto(s, data)
	return true
}

// GetString renders the named descriptor's slot of s as text.
func (a *Allocator) GetString(t Type, name string, s *Store) (string, bool) {
	d, ok := a.Find(t, name)
	if !ok {
		return "", false
	}
	return d.SerializeFrom(s), true
}

// releaseFrom frees and clears the slot's value in s.
func (d *Desc) releaseFrom(s *Store) {
	if d.slot >= len(s.vals) {
		return
	}
	if v := s.vals[d.slot]; v != nil && d.free != nil {
		d.free(v)
	}
	s.vals[d.slot] = nil
}

// Sweeper visits every live Store of one namespace so a freed slot can be
// scrubbed. The entity world registers one per entity type.
type Sweeper func(visit func(s *Store))

// mdObject adapts a descriptor to the module.Object teardown contract.
type mdObject struct {
	a *Allocator
	d *Desc
}

func (o *mdObject) Kind() string { return "moddata" }

func (o *mdObject) Remove(deferred bool) { o.a.Unregister(o.d, deferred) }

// Allocator hands out moddata slots and owns the two variable stores.
type Allocator struct {
	mu     sync.Mutex
	byType [numTypes][]*Desc
	sweep  [numTypes][]Sweeper

	localVars  Store
	globalVars Store

	logger zerolog.Logger
}

// New creates an empty allocator.
func New(logger zerolog.Logger) *Allocator {
	return &Allocator{logger: logger.With().Str("component", "moddata").Logger()}
}

// RegisterSweeper adds a visitor for one namespace's live stores, used
// when a swept descriptor's values must be scrubbed from every entity.
func (a *Allocator) RegisterSweeper(t Type, s Sweeper) {
	a.mu.Lock()
	a.sweep[t] = append(a.sweep[t], s)
	a.mu.Unlock()
}

// Find returns the active descriptor registered under name in namespace t.
func (a *Allocator) Find(t Type, name string) (*Desc, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.lookupLocked(t, name)
	if d == nil || d.unloaded {
		return nil, false
	}
	return d, true
}

func (a *Allocator) lookupLocked(t Type, name string) *Desc {
	for _, d := range a.byType[t] {
		if d != nil && strings.EqualFold(d.name, name) {
			return d
		}
	}
	return nil
}

// Register allocates a slot for info, or revives an unloaded descriptor
// with the same name and namespace, keeping its slot and therefore any
// data already stored under it.
func (a *Allocator) Register(owner *module.Module, info Info) (*Desc, error) {
	if info.Name == "" || info.Type < 0 || info.Type >= numTypes {
		err := fmt.Errorf("moddata %q: %w", info.Name, module.ErrInvalid)
		if owner != nil {
			owner.SetLastError(err)
		}
		return nil, err
	}

	a.mu.Lock()
	d := a.lookupLocked(info.Type, info.Name)
	if d != nil {
		if !d.unloaded {
			a.mu.Unlock()
			err := fmt.Errorf("moddata %q (%s): %w", info.Name, info.Type, module.ErrExists)
			if owner != nil {
				owner.SetLastError(err)
			}
			return nil, err
		}
		d.unloaded = false
		d.sync = info.Sync
		d.free = info.Free
		d.serialize = info.Serialize
		d.unserialize = info.Unserialize
		d.owner = owner
	} else {
		d = &Desc{
			name:        info.Name,
			typ:         info.Type,
			slot:        a.allocSlotLocked(info.Type),
			sync:        info.Sync,
			free:        info.Free,
			serialize:   info.Serialize,
			unserialize: info.Unserialize,
			owner:       owner,
			alloc:       a,
		}
		a.byType[info.Type][d.slot] = d
	}
	obj := &mdObject{a: a, d: d}
	d.obj = obj
	a.mu.Unlock()

	if owner != nil {
		owner.Attach(obj)
		owner.SetLastError(nil)
	}
	return d, nil
}

// allocSlotLocked reuses the lowest free slot before growing the table.
func (a *Allocator) allocSlotLocked(t Type) int {
	for i, d := range a.byType[t] {
		if d == nil {
			return i
		}
	}
	a.byType[t] = append(a.byType[t], nil)
	return len(a.byType[t]) - 1
}

// Unregister removes a descriptor. Deferred removal (rehash) only marks
// it; the slot and all stored data stay put until the commit sweep, which
// is what lets a reloading module pick its data back up.
func (a *Allocator) Unregister(d *Desc, deferred bool) {
	a.mu.Lock()
	if deferred {
		d.unloaded = true
	} else {
		a.byType[d.typ][d.slot] = nil
	}
	owner, obj := d.owner, d.obj
	d.owner, d.obj = nil, nil
	a.mu.Unlock()

	if owner != nil && obj != nil {
		owner.Detach(obj)
	}
	if !deferred {
		a.scrub(d)
	}
}

// Sweep frees every descriptor still marked unloaded, scrubbing their
// values from all live stores. Returns the number freed.
func (a *Allocator) Sweep() int {
	a.mu.Lock()
	var dead []*Desc
	for t := Type(0); t < numTypes; t++ {
		for i, d := range a.byType[t] {
			if d != nil && d.unloaded {
				dead = append(dead, d)
				a.byType[t][i] = nil
			}
		}
	}
	a.mu.Unlock()

	for _, d := range dead {
		a.logger.Warn().Str("name", d.name).Stringer("type", d.typ).Msg("unloading moddata")
		a.scrub(d)
	}
	return len(dead)
}

// scrub releases a freed descriptor's values everywhere they may live.
func (a *Allocator) scrub(d *Desc) {
	switch d.typ {
	case LocalVariable:
		d.releaseFrom(&a.localVars)
	case GlobalVariable:
		d.releaseFrom(&a.globalVars)
	default:
		a.mu.Lock()
		sweepers := append([]Sweeper(nil), a.sweep[d.typ]...)
		a.mu.Unlock()
		for _, s := range sweepers {
			s(func(st *Store) { d.releaseFrom(st) })
		}
	}
}

// ReleaseStore frees every value in a dying entity's store, running each
// active descriptor's Free.
func (a *Allocator) ReleaseStore(t Type, s *Store) {
	a.mu.Lock()
	descs := append([]*Desc(nil), a.byType[t]...)
	a.mu.Unlock()
	for _, d := range descs {
		if d != nil {
			d.releaseFrom(s)
		}
	}
}

// VarStore returns the allocator-owned store for a variable namespace, or
// nil for entity namespaces.
func (a *Allocator) VarStore(t Type) *Store {
	switch t {
	case LocalVariable:
		return &a.localVars
	case GlobalVariable:
		return &a.globalVars
	default:
		return nil
	}
}

// GetVar reads a variable descriptor's value from the allocator-owned
// store.
func (d *Desc) GetVar() any {
	s := d.alloc.VarStore(d.typ)
	if s == nil {
		return nil
	}
	return d.Get(s)
}

// SetVar writes a variable descriptor's value into the allocator-owned
// store.
func (d *Desc) SetVar(v any) {
	if s := d.alloc.VarStore(d.typ); s != nil {
		d.Set(s, v)
	}
}
