package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/artpar/ircmod/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ircmod.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func writeAndLoad(t *testing.T, content string) *config.Config {
	t.Helper()
	cfg, err := config.Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return cfg
}

func validConfig() string {
	return `
server:
  name: "irc.example.org"
  network: "TestNet"

history:
  backend: "mem"
  max_lines: 500

modules:
  - channelstore
  - msgtags
`
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
server:
  name: "irc.example.org"
  network: "TestNet"

admin:
  enabled: true
  host: "127.0.0.1"
  port: 9090

channel_store:
  database: "/tmp/chan.db"
  save_interval: 120s

history:
  backend: "sqlite"
  database: "/tmp/hist.db"
  max_lines: 250
  max_age: 12h

modules:
  - channelstore
  - history
`

	cfg := writeAndLoad(t, content)

	if cfg.Server.Name != "irc.example.org" {
		t.Errorf("Server.Name = %s, want irc.example.org", cfg.Server.Name)
	}
	if cfg.Admin.Port != 9090 {
		t.Errorf("Admin.Port = %d, want 9090", cfg.Admin.Port)
	}
	if cfg.Admin.Addr() != "127.0.0.1:9090" {
		t.Errorf("Admin.Addr = %s, want 127.0.0.1:9090", cfg.Admin.Addr())
	}
	if cfg.ChannelStore.SaveInterval != 120*time.Second {
		t.Errorf("SaveInterval = %v, want 120s", cfg.ChannelStore.SaveInterval)
	}
	if cfg.History.Backend != "sqlite" {
		t.Errorf("History.Backend = %s, want sqlite", cfg.History.Backend)
	}
	if cfg.History.MaxAge != 12*time.Hour {
		t.Errorf("History.MaxAge = %v, want 12h", cfg.History.MaxAge)
	}
	if len(cfg.Modules) != 2 || cfg.Modules[0] != "channelstore" {
		t.Errorf("Modules = %v", cfg.Modules)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := writeAndLoad(t, `
server:
  name: "irc.example.org"
`)

	if cfg.Admin.Host != "127.0.0.1" {
		t.Errorf("default Admin.Host = %s, want 127.0.0.1", cfg.Admin.Host)
	}
	if cfg.Admin.Port != 8970 {
		t.Errorf("default Admin.Port = %d, want 8970", cfg.Admin.Port)
	}
	if cfg.ChannelStore.Database != "data/channel.db" {
		t.Errorf("default ChannelStore.Database = %s", cfg.ChannelStore.Database)
	}
	if cfg.ChannelStore.SaveInterval != 299*time.Second {
		t.Errorf("default SaveInterval = %v, want 299s", cfg.ChannelStore.SaveInterval)
	}
	if cfg.History.Backend != "mem" {
		t.Errorf("default History.Backend = %s, want mem", cfg.History.Backend)
	}
	if cfg.History.MaxLines != 1000 {
		t.Errorf("default History.MaxLines = %d, want 1000", cfg.History.MaxLines)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("default logging = %s/%s, want info/json", cfg.Logging.Level, cfg.Logging.Format)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("default Metrics.Path = %s, want /metrics", cfg.Metrics.Path)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	os.Setenv("TEST_SERVER_NAME", "irc.env.example")
	defer os.Unsetenv("TEST_SERVER_NAME")

	cfg := writeAndLoad(t, `
server:
  name: "${TEST_SERVER_NAME}"
`)

	if cfg.Server.Name != "irc.env.example" {
		t.Errorf("Server.Name = %s, want irc.env.example", cfg.Server.Name)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	os.Setenv("IRCMOD_HISTORY_BACKEND", "sqlite")
	os.Setenv("IRCMOD_MODULES", "cloak, history")
	defer os.Unsetenv("IRCMOD_HISTORY_BACKEND")
	defer os.Unsetenv("IRCMOD_MODULES")

	cfg := writeAndLoad(t, validConfig())

	if cfg.History.Backend != "sqlite" {
		t.Errorf("History.Backend = %s, want env override sqlite", cfg.History.Backend)
	}
	if len(cfg.Modules) != 2 || cfg.Modules[0] != "cloak" || cfg.Modules[1] != "history" {
		t.Errorf("Modules = %v, want [cloak history]", cfg.Modules)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing server name",
			content: "history:\n  backend: mem\n",
			wantErr: "server.name is required",
		},
		{
			name:    "server name without dot",
			content: "server:\n  name: localhost\n",
			wantErr: "must contain a dot",
		},
		{
			name:    "bad log level",
			content: "server:\n  name: irc.example.org\nlogging:\n  level: loud\n",
			wantErr: "logging.level",
		},
		{
			name:    "bad history backend",
			content: "server:\n  name: irc.example.org\nhistory:\n  backend: redis\n",
			wantErr: "history.backend",
		},
		{
			name:    "wrong cloak key count",
			content: "server:\n  name: irc.example.org\ncloak:\n  keys: [\"aaaaaaaaaaaaaaaaaa\"]\n",
			wantErr: "cloak.keys",
		},
		{
			name:    "short cloak key",
			content: "server:\n  name: irc.example.org\ncloak:\n  keys: [\"short\", \"aaaaaaaaaaaaaaaaaa\", \"bbbbbbbbbbbbbbbbbb\"]\n",
			wantErr: "shorter than 16",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadWithFallback_NoConfig(t *testing.T) {
	os.Unsetenv("IRCMOD_SERVER_NAME")
	if _, err := config.LoadWithFallback(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadWithFallback succeeded with no config anywhere")
	}
}

func TestLoadWithFallback_Env(t *testing.T) {
	os.Setenv("IRCMOD_SERVER_NAME", "irc.env.example")
	defer os.Unsetenv("IRCMOD_SERVER_NAME")

	cfg, err := config.LoadWithFallback("")
	if err != nil {
		t.Fatalf("LoadWithFallback error: %v", err)
	}
	if cfg.Server.Name != "irc.env.example" {
		t.Errorf("Server.Name = %s, want irc.env.example", cfg.Server.Name)
	}
}
