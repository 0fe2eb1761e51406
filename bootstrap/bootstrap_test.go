package bootstrap_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/artpar/ircmod/bootstrap"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "ircmod.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func testConfigYAML(dir string) string {
	return `
server:
  name: irc.example.org
  network: TestNet
logging:
  level: error
channel_store:
  database: ` + filepath.Join(dir, "channel.db") + `
history:
  backend: mem
  max_lines: 100
modules:
  - cloak
  - channelstore
  - history
  - msgtags
cloak:
  keys:
    - aAbBcCdDeEfF0123
    - gGhHiIjJkKlL4567
    - mMnNoOpPqQrR89ab
`
}

func TestNewAndStart(t *testing.T) {
	dir := t.TempDir()
	app, err := bootstrap.New(writeConfig(t, dir, testConfigYAML(dir)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if app.Manager == nil || app.Hooks == nil || app.Extensions == nil {
		t.Fatal("registries not wired")
	}
	if app.HTTPServer != nil {
		t.Error("admin server built although admin is disabled")
	}

	if err := app.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, name := range []string{"cloak", "channelstore", "history", "msgtags"} {
		if !app.Manager.Loaded(name) {
			t.Errorf("module %s not loaded", name)
		}
	}

	// The builtins have populated the registries.
	if _, ok := app.Extensions.ChannelModes.Find("P"); !ok {
		t.Error("channelstore mode P missing")
	}
	if _, ok := app.Extensions.Capabilities.Find("server-time"); !ok {
		t.Error("msgtags capability missing")
	}
	if !app.Known.Cloak.Bound() {
		t.Error("cloak slot not bound")
	}
}

func TestRehashKeepsModulesLoaded(t *testing.T) {
	dir := t.TempDir()
	app, err := bootstrap.New(writeConfig(t, dir, testConfigYAML(dir)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := app.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := app.Rehash(); err != nil {
		t.Fatalf("Rehash: %v", err)
	}

	for _, name := range []string{"cloak", "channelstore", "history", "msgtags"} {
		if !app.Manager.Loaded(name) {
			t.Errorf("module %s lost across rehash", name)
		}
	}
	if !app.Known.Cloak.Bound() {
		t.Error("cloak slot lost across rehash")
	}
	total, failed := app.Manager.Rehashes()
	if total != 1 || failed != 0 {
		t.Errorf("rehash counters (%d, %d), want (1, 0)", total, failed)
	}
}

func TestAdminServerBuiltWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfigYAML(dir) + `
admin:
  enabled: true
  host: 127.0.0.1
  port: 8971
`
	app, err := bootstrap.New(writeConfig(t, dir, cfg))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if app.HTTPServer == nil {
		t.Fatal("admin server not built")
	}
	if app.HTTPServer.Addr != "127.0.0.1:8971" {
		t.Errorf("unexpected admin addr %q", app.HTTPServer.Addr)
	}
}

func TestStartReportsModuleFailures(t *testing.T) {
	dir := t.TempDir()
	cfg := `
server:
  name: irc.example.org
logging:
  level: error
channel_store:
  database: ` + filepath.Join(dir, "channel.db") + `
  save_interval: 50ms
modules:
  - channelstore
`
	// A sub-second save interval fails channelstore's Test phase.
	app, err := bootstrap.New(writeConfig(t, dir, cfg))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := app.Start(); err == nil {
		t.Fatal("expected Start to report the failed module")
	}
	if app.Manager.Loaded("channelstore") {
		t.Error("failed module left loaded")
	}
}

func TestBadConfigPathRefused(t *testing.T) {
	if _, err := bootstrap.New(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
