package history_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/artpar/ircmod/config"
	"github.com/artpar/ircmod/core/callback"
	"github.com/artpar/ircmod/core/event"
	"github.com/artpar/ircmod/core/extension"
	"github.com/artpar/ircmod/core/hook"
	"github.com/artpar/ircmod/core/lifecycle"
	"github.com/artpar/ircmod/core/moddata"
	"github.com/artpar/ircmod/domain/entity"
	"github.com/artpar/ircmod/modules/history"
	"github.com/rs/zerolog"
)

func setup(t *testing.T, cfg *config.Config) (*lifecycle.Manager, *extension.Set, error) {
	t.Helper()

	logger := zerolog.Nop()
	md := moddata.New(logger)
	ext := extension.NewSet(logger)
	mgr := lifecycle.NewManager(lifecycle.Deps{
		Hooks:      hook.New(logger),
		Callbacks:  callback.NewSlots(logger),
		Extensions: ext,
		ModData:    md,
		Events:     event.New(logger),
		World:      entity.NewWorld(md, logger),
	}, logger)

	if err := mgr.Register(history.New(logger)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := mgr.Load("history", cfg)
	return mgr, ext, err
}

func memConfig() *config.Config {
	cfg := &config.Config{}
	cfg.History.Backend = "mem"
	cfg.History.MaxLines = 3
	cfg.History.MaxAge = time.Hour
	return cfg
}

func TestMemBackendRegistered(t *testing.T) {
	_, ext, err := setup(t, memConfig())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	b, ok := ext.History.Find("mem")
	if !ok {
		t.Fatal("mem backend not registered")
	}
	if _, ok := ext.History.Find("sqlite"); ok {
		t.Error("sqlite backend registered without configuration")
	}

	now := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		err := b.Add("#chat", extension.HistoryLine{
			ID: id, Time: now.Add(time.Duration(i) * time.Second), Line: "msg " + id,
		}, extension.HistoryLimit{})
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	lines, err := b.Request("#chat", extension.HistoryFilter{})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0].ID != "a" || lines[2].ID != "c" {
		t.Errorf("lines out of order: %v", lines)
	}
}

func TestConfiguredLimitAppliesWhenCallerPassesZero(t *testing.T) {
	_, ext, err := setup(t, memConfig())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, _ := ext.History.Find("mem")

	// Config caps retention at 3 lines; the zero limit must not mean
	// unbounded.
	now := time.Now()
	for i := 0; i < 5; i++ {
		b.Add("#chat", extension.HistoryLine{
			ID: string(rune('a' + i)), Time: now.Add(time.Duration(i) * time.Second),
		}, extension.HistoryLimit{})
	}

	lines, _ := b.Request("#chat", extension.HistoryFilter{})
	if len(lines) != 3 {
		t.Fatalf("expected retention capped at 3, got %d", len(lines))
	}
	if lines[0].ID != "c" {
		t.Errorf("expected oldest kept line c, got %q", lines[0].ID)
	}
}

func TestSqliteBackendRegistered(t *testing.T) {
	cfg := memConfig()
	cfg.History.Backend = "sqlite"
	cfg.History.Database = filepath.Join(t.TempDir(), "history.db")

	mgr, ext, err := setup(t, cfg)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	b, ok := ext.History.Find("sqlite")
	if !ok {
		t.Fatal("sqlite backend not registered")
	}
	if _, ok := ext.History.Find("mem"); !ok {
		t.Error("mem backend should still be registered")
	}

	err = b.Add("#chat", extension.HistoryLine{
		ID: "m1", Time: time.Now(), Line: "hello",
	}, extension.HistoryLimit{})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	lines, err := b.Request("#chat", extension.HistoryFilter{})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(lines) != 1 || lines[0].Line != "hello" {
		t.Errorf("unexpected lines %v", lines)
	}

	if err := mgr.Unload("history"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if _, ok := ext.History.Find("sqlite"); ok {
		t.Error("sqlite backend still registered after unload")
	}
}

func TestSqliteWithoutDatabaseRefused(t *testing.T) {
	cfg := memConfig()
	cfg.History.Backend = "sqlite"
	cfg.History.Database = ""

	_, _, err := setup(t, cfg)
	if err == nil {
		t.Fatal("expected Load to fail without a database path")
	}
}

func TestDestroyDropsTarget(t *testing.T) {
	_, ext, err := setup(t, memConfig())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, _ := ext.History.Find("mem")

	b.Add("#chat", extension.HistoryLine{ID: "x", Time: time.Now()}, extension.HistoryLimit{})
	if err := b.Destroy("#chat"); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	lines, _ := b.Request("#chat", extension.HistoryFilter{})
	if len(lines) != 0 {
		t.Errorf("expected no lines after destroy, got %d", len(lines))
	}
}

func TestSqliteBackendSurvivesRehash(t *testing.T) {
	cfg := memConfig()
	cfg.History.Backend = "sqlite"
	cfg.History.Database = filepath.Join(t.TempDir(), "history.db")

	mgr, ext, err := setup(t, cfg)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, _ := ext.History.Find("sqlite")
	err = b.Add("#chat", extension.HistoryLine{
		ID: "m1", Time: time.Now(), Line: "before rehash",
	}, extension.HistoryLimit{})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Each rehash closes the old database handle and opens a fresh one;
	// the backend keeps working against the same file.
	for i := 0; i < 3; i++ {
		if err := mgr.Rehash(cfg); err != nil {
			t.Fatalf("Rehash %d: %v", i, err)
		}
	}

	b, ok := ext.History.Find("sqlite")
	if !ok {
		t.Fatal("sqlite backend gone after rehash")
	}
	err = b.Add("#chat", extension.HistoryLine{
		ID: "m2", Time: time.Now(), Line: "after rehash",
	}, extension.HistoryLimit{})
	if err != nil {
		t.Fatalf("Add after rehash: %v", err)
	}
	lines, err := b.Request("#chat", extension.HistoryFilter{})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines across rehashes, got %d", len(lines))
	}
}
