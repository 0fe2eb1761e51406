// Package module defines the loaded-module representation and the error
// taxonomy shared by every extension table in the runtime.
//
// A Module owns every extension object it registers (hooks, named registry
// entries, callbacks, moddata descriptors, timer events). The owned-object
// list is what makes bulk teardown possible: unloading a module walks the
// list and removes each object from whatever table it lives in.
package module

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Registration errors. These are recorded on the offending module's
// last-error field and returned to the caller; the registry that produced
// them is left consistent.
var (
	// ErrExists is returned when an Add collides with an active entry.
	ErrExists = errors.New("name already registered")

	// ErrNoSpace is returned when a fixed-capacity table or bit pool is full.
	ErrNoSpace = errors.New("no space left in table")

	// ErrInvalid is returned for malformed registration requests.
	ErrInvalid = errors.New("invalid registration request")

	// ErrNotFound is returned when removing or looking up an absent name.
	ErrNotFound = errors.New("not found")
)

// State tracks where a module is in its load protocol.
type State int

const (
	StateNone State = iota
	StateTesting
	StateInitializing
	StateLoaded
)

// String returns the state name for logs and the admin status report.
func (s State) String() string {
	switch s {
	case StateTesting:
		return "testing"
	case StateInitializing:
		return "initializing"
	case StateLoaded:
		return "loaded"
	default:
		return "none"
	}
}

// Result is returned by a module's test/init/load/unload entry points.
type Result int

const (
	Success Result = iota
	Failed
	// Delay means the module cannot unload right now; the lifecycle manager
	// sets the delayed-unload flag and retries at the next rehash.
	Delay
)

// Header carries a module's descriptive metadata.
type Header struct {
	Name        string
	Version     string
	Description string
	Author      string
}

// Object is any extension object registered by a module. Each table wraps
// its entries in an Object so the lifecycle manager can tear a module down
// without knowing table internals.
//
// Remove with deferred=true is the rehash path: the entry is marked
// unloaded and survives until the commit sweep. deferred=false frees it
// immediately.
type Object interface {
	Kind() string
	Remove(deferred bool)
}

// Module is one loaded unit of extension code.
type Module struct {
	header Header
	id     string

	mu            sync.Mutex
	state         State
	delayedUnload bool
	permanent     bool
	objects       []Object
	children      []*Module
	lastErr       error
}

// New creates a module in StateNone with a fresh instance ID.
func New(header Header) *Module {
	return &Module{
		header: header,
		id:     uuid.NewString(),
	}
}

// Name returns the module's registered name.
func (m *Module) Name() string { return m.header.Name }

// Header returns the module's metadata.
func (m *Module) Header() Header { return m.header }

// ID returns the instance ID, unique per load (a reloaded module gets a
// new one).
func (m *Module) ID() string { return m.id }

// State returns the current lifecycle state.
func (m *Module) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetState transitions the module's lifecycle state.
func (m *Module) SetState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Permanent reports whether the module may never be unloaded.
func (m *Module) Permanent() bool { return m.permanent }

// SetPermanent marks the module as not unloadable.
func (m *Module) SetPermanent(p bool) { m.permanent = p }

// DelayedUnload reports whether an unload was requested but postponed.
func (m *Module) DelayedUnload() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delayedUnload
}

// SetDelayedUnload sets or clears the postponed-unload flag.
func (m *Module) SetDelayedUnload(v bool) {
	m.mu.Lock()
	m.delayedUnload = v
	m.mu.Unlock()
}

// Attach records an extension object as owned by this module.
func (m *Module) Attach(obj Object) {
	m.mu.Lock()
	m.objects = append(m.objects, obj)
	m.mu.Unlock()
}

// Detach removes an object from the owned list. It is a no-op if the
// object was never attached (or already detached).
func (m *Module) Detach(obj Object) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, o := range m.objects {
		if o == obj {
			m.objects = append(m.objects[:i], m.objects[i+1:]...)
			return
		}
	}
}

// Objects returns a snapshot of the owned-object list.
func (m *Module) Objects() []Object {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Object, len(m.objects))
	copy(out, m.objects)
	return out
}

// Teardown removes every owned object from its table. Registration order
// is reversed so dependents go before their dependencies (a message-tag
// handler before the capability it references).
func (m *Module) Teardown(deferred bool) {
	objs := m.Objects()
	for i := len(objs) - 1; i >= 0; i-- {
		objs[i].Remove(deferred)
	}
}

// AddChild records a dependency module spawned on this module's behalf.
func (m *Module) AddChild(child *Module) {
	m.mu.Lock()
	m.children = append(m.children, child)
	m.mu.Unlock()
}

// Children returns the modules this one depends on.
func (m *Module) Children() []*Module {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Module, len(m.children))
	copy(out, m.children)
	return out
}

// SetLastError records the outcome of the most recent registry operation.
// A nil err clears it.
func (m *Module) SetLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// LastError returns the error recorded by the most recent failed registry
// operation, or nil.
func (m *Module) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}
