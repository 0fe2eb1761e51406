package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/artpar/ircmod/core/extension"
)

func line(id string, at time.Time) extension.HistoryLine {
	return extension.HistoryLine{ID: id, Time: at, Line: "text " + id}
}

func TestHistoryStore_AddKeepsOrder(t *testing.T) {
	s := NewHistoryStore()
	base := time.Now().Add(-time.Hour)

	// Out-of-order arrival still reads back chronologically.
	s.Add("#go", line("b", base.Add(2*time.Minute)), extension.HistoryLimit{})
	s.Add("#go", line("a", base.Add(1*time.Minute)), extension.HistoryLimit{})
	s.Add("#go", line("c", base.Add(3*time.Minute)), extension.HistoryLimit{})

	lines, _ := s.Query("#go", extension.HistoryFilter{})
	if len(lines) != 3 {
		t.Fatalf("len = %d, want 3", len(lines))
	}
	for i, want := range []string{"a", "b", "c"} {
		if lines[i].ID != want {
			t.Fatalf("order = %v", lines)
		}
	}
}

func TestHistoryStore_DuplicateIgnored(t *testing.T) {
	s := NewHistoryStore()
	now := time.Now()
	s.Add("#go", line("dup", now), extension.HistoryLimit{})
	s.Add("#go", line("dup", now), extension.HistoryLimit{})

	lines, _ := s.Query("#go", extension.HistoryFilter{})
	if len(lines) != 1 {
		t.Fatalf("len = %d, want 1", len(lines))
	}
}

func TestHistoryStore_Limits(t *testing.T) {
	s := NewHistoryStore()
	base := time.Now().Add(-time.Minute)
	limit := extension.HistoryLimit{MaxLines: 3}

	for i := 0; i < 6; i++ {
		s.Add("#go", line(fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second)), limit)
	}
	lines, _ := s.Query("#go", extension.HistoryFilter{})
	if len(lines) != 3 || lines[0].ID != "m3" {
		t.Fatalf("lines = %v, want newest 3 from m3", lines)
	}

	// Age limit drops stale lines on the next insert.
	s.Add("#old", line("stale", time.Now().Add(-2*time.Hour)), extension.HistoryLimit{})
	s.Add("#old", line("fresh", time.Now()), extension.HistoryLimit{MaxAge: time.Hour})
	old, _ := s.Query("#old", extension.HistoryFilter{})
	if len(old) != 1 || old[0].ID != "fresh" {
		t.Fatalf("old = %v, want only fresh", old)
	}
}

func TestHistoryStore_QueryFilters(t *testing.T) {
	s := NewHistoryStore()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		s.Add("#go", line(fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Minute)), extension.HistoryLimit{})
	}

	after, _ := s.Query("#go", extension.HistoryFilter{AfterID: "m2"})
	if len(after) != 2 || after[0].ID != "m3" {
		t.Fatalf("after = %v, want m3,m4", after)
	}
	before, _ := s.Query("#go", extension.HistoryFilter{BeforeID: "m2"})
	if len(before) != 2 || before[1].ID != "m1" {
		t.Fatalf("before = %v, want m0,m1", before)
	}
	capped, _ := s.Query("#go", extension.HistoryFilter{Limit: extension.HistoryLimit{MaxLines: 1}})
	if len(capped) != 1 || capped[0].ID != "m4" {
		t.Fatalf("capped = %v, want newest only", capped)
	}
}

func TestHistoryStore_Destroy(t *testing.T) {
	s := NewHistoryStore()
	s.Add("#go", line("a", time.Now()), extension.HistoryLimit{})
	s.Destroy("#go")
	lines, _ := s.Query("#go", extension.HistoryFilter{})
	if len(lines) != 0 {
		t.Fatalf("lines = %v, want none", lines)
	}
}
