package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder provides thread-safe access to configuration with hot reload support.
type Holder struct {
	mu       sync.RWMutex
	config   *Config
	path     string
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	stopCh   chan struct{}
}

// NewHolder creates a new config holder and loads the initial configuration.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	h := &Holder{
		config: cfg,
		path:   absPath,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	return h, nil
}

// Get returns the current configuration (thread-safe).
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Reload reloads the configuration from disk. Returns error if loading
// fails (keeps old config). OnChange callbacks do not fire: callers of
// Reload run their own follow-up with the new config in hand.
func (h *Holder) Reload() error {
	_, err := h.reload()
	return err
}

func (h *Holder) reload() (*Config, error) {
	h.logger.Info().Str("path", h.path).Msg("reloading configuration")

	newCfg, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Msg("config reload failed, keeping old config")
		return nil, fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.config
	h.config = newCfg
	h.mu.Unlock()

	h.logChanges(oldCfg, newCfg)
	h.logger.Info().Msg("configuration reloaded successfully")
	return newCfg, nil
}

// OnChange registers a callback fired when the watched config file
// changes on disk. Register before calling WatchFile.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// WatchFile starts watching the config file for changes. A change
// reloads the configuration and fires the OnChange callbacks.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher

	// Watch the directory (more reliable for editors that do atomic saves)
	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go h.watchLoop()

	h.logger.Info().Str("path", h.path).Msg("watching config file for changes")
	return nil
}

// Stop stops watching for file changes.
func (h *Holder) Stop() {
	close(h.stopCh)
	if h.watcher != nil {
		h.watcher.Close()
	}
}

func (h *Holder) watchLoop() {
	filename := filepath.Base(h.path)

	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}

			// Only react to our config file
			if filepath.Base(event.Name) != filename {
				continue
			}

			// React to write or create (atomic save = create)
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			h.logger.Debug().
				Str("event", event.Op.String()).
				Str("file", event.Name).
				Msg("config file changed")

			newCfg, err := h.reload()
			if err != nil {
				h.logger.Error().Err(err).Msg("file watch reload failed")
				continue
			}
			h.notify(newCfg)

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("file watcher error")

		case <-h.stopCh:
			return
		}
	}
}

func (h *Holder) notify(cfg *Config) {
	h.mu.RLock()
	fns := make([]func(*Config), len(h.onChange))
	copy(fns, h.onChange)
	h.mu.RUnlock()
	for _, fn := range fns {
		fn(cfg)
	}
}

func (h *Holder) logChanges(old, new *Config) {
	// Log significant changes
	if old.Logging.Level != new.Logging.Level {
		h.logger.Info().
			Str("old", old.Logging.Level).
			Str("new", new.Logging.Level).
			Msg("log level changed")
	}

	if len(old.Modules) != len(new.Modules) {
		h.logger.Info().
			Int("old", len(old.Modules)).
			Int("new", len(new.Modules)).
			Msg("module count changed")
	}

	if old.History.Backend != new.History.Backend {
		h.logger.Info().
			Str("old", old.History.Backend).
			Str("new", new.History.Backend).
			Msg("history backend changed")
	}

	if old.ChannelStore.SaveInterval != new.ChannelStore.SaveInterval {
		h.logger.Info().
			Dur("old", old.ChannelStore.SaveInterval).
			Dur("new", new.ChannelStore.SaveInterval).
			Msg("channel save interval changed")
	}
}

// ReloadableFields returns which fields can be changed without restart.
func ReloadableFields() []string {
	return []string{
		"modules",
		"history.max_lines",
		"history.max_age",
		"channel_store.save_interval",
		"cloak.keys",
		"logging.level",
		"logging.format",
	}
}

// NonReloadableFields returns which fields require a restart.
func NonReloadableFields() []string {
	return []string{
		"server.name",
		"admin.host",
		"admin.port",
		"channel_store.database",
		"history.database",
	}
}
