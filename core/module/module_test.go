package module

import (
	"errors"
	"testing"
)

type fakeObject struct {
	kind     string
	removed  []bool
	sequence *[]string
	name     string
}

func (f *fakeObject) Kind() string { return f.kind }

func (f *fakeObject) Remove(deferred bool) {
	f.removed = append(f.removed, deferred)
	if f.sequence != nil {
		*f.sequence = append(*f.sequence, f.name)
	}
}

func TestNew(t *testing.T) {
	m := New(Header{Name: "chanstore", Version: "1.0"})
	if m.Name() != "chanstore" {
		t.Errorf("Name() = %q, want chanstore", m.Name())
	}
	if m.State() != StateNone {
		t.Errorf("State() = %v, want StateNone", m.State())
	}
	if m.ID() == "" {
		t.Error("ID() should not be empty")
	}
}

func TestNew_UniqueIDs(t *testing.T) {
	a := New(Header{Name: "a"})
	b := New(Header{Name: "a"})
	if a.ID() == b.ID() {
		t.Error("two module instances should have distinct IDs")
	}
}

func TestModule_AttachDetach(t *testing.T) {
	m := New(Header{Name: "m"})
	obj := &fakeObject{kind: "hook"}

	m.Attach(obj)
	if got := len(m.Objects()); got != 1 {
		t.Fatalf("Objects() len = %d, want 1", got)
	}

	m.Detach(obj)
	if got := len(m.Objects()); got != 0 {
		t.Errorf("Objects() len after Detach = %d, want 0", got)
	}

	// Detaching again must not panic or corrupt the list.
	m.Detach(obj)
}

func TestModule_Teardown_ReverseOrder(t *testing.T) {
	m := New(Header{Name: "m"})
	var seq []string
	first := &fakeObject{kind: "capability", name: "first", sequence: &seq}
	second := &fakeObject{kind: "mtag", name: "second", sequence: &seq}
	m.Attach(first)
	m.Attach(second)

	m.Teardown(false)

	if len(seq) != 2 || seq[0] != "second" || seq[1] != "first" {
		t.Errorf("teardown order = %v, want [second first]", seq)
	}
	if len(first.removed) != 1 || first.removed[0] != false {
		t.Errorf("first.removed = %v, want [false]", first.removed)
	}
}

func TestModule_Teardown_Deferred(t *testing.T) {
	m := New(Header{Name: "m"})
	obj := &fakeObject{kind: "hook"}
	m.Attach(obj)

	m.Teardown(true)

	if len(obj.removed) != 1 || obj.removed[0] != true {
		t.Errorf("obj.removed = %v, want [true]", obj.removed)
	}
}

func TestModule_LastError(t *testing.T) {
	m := New(Header{Name: "m"})
	if m.LastError() != nil {
		t.Error("fresh module should have nil last error")
	}
	m.SetLastError(ErrExists)
	if !errors.Is(m.LastError(), ErrExists) {
		t.Errorf("LastError() = %v, want ErrExists", m.LastError())
	}
	m.SetLastError(nil)
	if m.LastError() != nil {
		t.Error("SetLastError(nil) should clear the error")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateNone, "none"},
		{StateTesting, "testing"},
		{StateInitializing, "initializing"},
		{StateLoaded, "loaded"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
