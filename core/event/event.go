// Package event runs the periodic timer events modules schedule against
// the main loop: saving state every few minutes, expiring caches, and the
// like. Events fire from Tick, never from their own goroutine, so handlers
// see the same single-threaded world the rest of the runtime does.
package event

import (
	"sync"
	"time"

	"github.com/artpar/ircmod/core/module"
	"github.com/rs/zerolog"
)

// Callback runs when an event comes due.
type Callback func(data any)

// Event is one scheduled timer.
type Event struct {
	name    string
	every   time.Duration
	count   int
	fn      Callback
	data    any
	lastRun time.Time

	owner   *module.Module
	obj     module.Object
	deleted bool
}

// Name returns the event's name. Names are labels, not keys; several
// events may share one.
func (e *Event) Name() string { return e.name }

// Every returns the firing interval.
func (e *Event) Every() time.Duration { return e.every }

// evObject adapts an event to the module.Object teardown contract. Timer
// events carry no shared state other code could still reference, so both
// teardown paths cancel immediately.
type evObject struct {
	mgr *Manager
	e   *Event
}

func (o *evObject) Kind() string { return "event" }

func (o *evObject) Remove(bool) { o.mgr.MarkDel(o.e) }

// Manager owns the event list and drives it from Tick.
type Manager struct {
	mu     sync.Mutex
	events []*Event
	logger zerolog.Logger
}

// New creates an empty manager.
func New(logger zerolog.Logger) *Manager {
	return &Manager{logger: logger.With().Str("component", "events").Logger()}
}

// Add schedules fn to run every interval. count bounds the number of runs;
// 0 means forever. The first run happens one full interval after Add.
func (m *Manager) Add(owner *module.Module, name string, every time.Duration, count int, fn Callback, data any) *Event {
	e := &Event{
		name:    name,
		every:   every,
		count:   count,
		fn:      fn,
		data:    data,
		lastRun: time.Now(),
		owner:   owner,
	}
	obj := &evObject{mgr: m, e: e}
	e.obj = obj

	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()

	if owner != nil {
		owner.Attach(obj)
	}
	return e
}

// Mod changes an event's interval and remaining count in place.
func (m *Manager) Mod(e *Event, every time.Duration, count int) {
	m.mu.Lock()
	e.every = every
	e.count = count
	m.mu.Unlock()
}

// Find returns the first live event with the given name.
func (m *Manager) Find(name string) (*Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if !e.deleted && e.name == name {
			return e, true
		}
	}
	return nil, false
}

// MarkDel cancels an event. The entry is dropped on the next Tick; an
// already-cancelled event is left alone.
func (m *Manager) MarkDel(e *Event) {
	m.mu.Lock()
	e.deleted = true
	owner, obj := e.owner, e.obj
	e.owner, e.obj = nil, nil
	m.mu.Unlock()

	if owner != nil && obj != nil {
		owner.Detach(obj)
	}
}

// Len returns the number of live events.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if !e.deleted {
			n++
		}
	}
	return n
}

// Tick runs every event whose interval has elapsed as of now, drops
// cancelled and exhausted events, and returns how many callbacks ran. The
// main loop calls this about once a second.
func (m *Manager) Tick(now time.Time) int {
	m.mu.Lock()
	var due []*Event
	kept := m.events[:0]
	for _, e := range m.events {
		if e.deleted {
			continue
		}
		if now.Sub(e.lastRun) >= e.every {
			e.lastRun = now
			due = append(due, e)
			if e.count > 0 {
				e.count--
				if e.count == 0 {
					e.deleted = true
					m.logger.Debug().Str("name", e.name).Msg("event exhausted")
					continue
				}
			}
		}
		kept = append(kept, e)
	}
	m.events = kept
	m.mu.Unlock()

	for _, e := range due {
		e.fn(e.data)
	}
	return len(due)
}
