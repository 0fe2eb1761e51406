package event

import (
	"testing"
	"time"

	"github.com/artpar/ircmod/core/module"
	"github.com/rs/zerolog"
)

func testManager() *Manager {
	return New(zerolog.Nop())
}

func testModule(name string) *module.Module {
	return module.New(module.Header{Name: name, Version: "1.0"})
}

func TestManager_TickFiresDueEvents(t *testing.T) {
	m := testManager()
	var ran int
	m.Add(nil, "save", time.Minute, 0, func(any) { ran++ }, nil)

	start := time.Now()
	if n := m.Tick(start.Add(30 * time.Second)); n != 0 {
		t.Fatalf("early Tick ran %d events", n)
	}
	if n := m.Tick(start.Add(61 * time.Second)); n != 1 {
		t.Fatalf("due Tick ran %d events, want 1", n)
	}
	// Interval restarts from the last run.
	if n := m.Tick(start.Add(90 * time.Second)); n != 0 {
		t.Fatalf("Tick after reset ran %d events", n)
	}
	if ran != 1 {
		t.Fatalf("callback ran %d times, want 1", ran)
	}
}

func TestManager_CountBoundsRuns(t *testing.T) {
	m := testManager()
	var ran int
	m.Add(nil, "burst", time.Second, 2, func(any) { ran++ }, nil)

	now := time.Now()
	for i := 1; i <= 5; i++ {
		m.Tick(now.Add(time.Duration(i) * 2 * time.Second))
	}
	if ran != 2 {
		t.Fatalf("callback ran %d times, want 2", ran)
	}
	if m.Len() != 0 {
		t.Fatalf("exhausted event still live, Len = %d", m.Len())
	}
}

func TestManager_DataReachesCallback(t *testing.T) {
	m := testManager()
	var got any
	m.Add(nil, "x", time.Second, 1, func(d any) { got = d }, "payload")
	m.Tick(time.Now().Add(2 * time.Second))
	if got != "payload" {
		t.Fatalf("data = %v, want payload", got)
	}
}

func TestManager_MarkDel(t *testing.T) {
	m := testManager()
	var ran int
	e := m.Add(nil, "gone", time.Second, 0, func(any) { ran++ }, nil)

	m.MarkDel(e)
	if _, ok := m.Find("gone"); ok {
		t.Fatal("cancelled event still findable")
	}
	m.Tick(time.Now().Add(2 * time.Second))
	if ran != 0 {
		t.Fatalf("cancelled event ran %d times", ran)
	}
}

func TestManager_Mod(t *testing.T) {
	m := testManager()
	var ran int
	e := m.Add(nil, "x", time.Hour, 0, func(any) { ran++ }, nil)
	m.Mod(e, time.Second, 0)
	m.Tick(time.Now().Add(2 * time.Second))
	if ran != 1 {
		t.Fatalf("callback ran %d times after Mod, want 1", ran)
	}
}

func TestManager_OwnerTeardownCancels(t *testing.T) {
	m := testManager()
	owner := testModule("scheduler")
	var ran int
	m.Add(owner, "a", time.Second, 0, func(any) { ran++ }, nil)
	m.Add(owner, "b", time.Second, 0, func(any) { ran++ }, nil)

	owner.Teardown(true)
	m.Tick(time.Now().Add(2 * time.Second))
	if ran != 0 {
		t.Fatalf("events of torn-down module ran %d times", ran)
	}
	if m.Len() != 0 {
		t.Fatalf("Len = %d, want 0", m.Len())
	}
	if len(owner.Objects()) != 0 {
		t.Fatalf("owner still holds %d objects", len(owner.Objects()))
	}
}
