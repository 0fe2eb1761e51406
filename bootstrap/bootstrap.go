// Package bootstrap wires the module runtime: configuration, logging,
// the dispatch registries, the builtin modules and the admin endpoint.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/artpar/ircmod/adapters/http/admin"
	"github.com/artpar/ircmod/adapters/metrics"
	"github.com/artpar/ircmod/config"
	"github.com/artpar/ircmod/core/callback"
	"github.com/artpar/ircmod/core/event"
	"github.com/artpar/ircmod/core/extension"
	"github.com/artpar/ircmod/core/hook"
	"github.com/artpar/ircmod/core/lifecycle"
	"github.com/artpar/ircmod/core/moddata"
	"github.com/artpar/ircmod/domain/entity"
	"github.com/artpar/ircmod/modules/channelstore"
	"github.com/artpar/ircmod/modules/cloak"
	"github.com/artpar/ircmod/modules/history"
	"github.com/artpar/ircmod/modules/msgtags"
	"github.com/rs/zerolog"
)

// tickInterval drives the event loop; module timers resolve no finer.
const tickInterval = time.Second

// App is the assembled runtime.
type App struct {
	Logger zerolog.Logger
	Holder *config.Holder

	Hooks      *hook.Hooks
	Callbacks  *callback.Slots
	Known      *callback.Known
	Extensions *extension.Set
	ModData    *moddata.Allocator
	Events     *event.Manager
	World      *entity.World
	Manager    *lifecycle.Manager

	Metrics    *metrics.Collector
	HTTPServer *http.Server

	rehashMu sync.Mutex
	stopTick chan struct{}
}

// New assembles the application from the config file at path.
func New(path string) (*App, error) {
	holder, err := config.NewHolder(path, zerolog.New(os.Stderr).With().Timestamp().Logger())
	if err != nil {
		return nil, err
	}
	return NewWithHolder(holder)
}

// NewWithHolder assembles the application over an already loaded config.
func NewWithHolder(holder *config.Holder) (*App, error) {
	cfg := holder.Get()
	logger := setupLogger(cfg.Logging)

	a := &App{
		Logger:   logger,
		Holder:   holder,
		stopTick: make(chan struct{}),
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		logger.Info().Str("path", cfg.Metrics.Path).Msg("prometheus metrics enabled")
	}

	a.Hooks = hook.New(logger)
	if a.Metrics != nil {
		a.Hooks.Set.SetObserver(a.Metrics.HookObserver())
	}

	a.Callbacks = callback.NewSlots(logger)
	a.Known = callback.NewKnown(a.Callbacks, selected(cfg.Modules, "cloak"))
	a.Extensions = extension.NewSet(logger)
	a.ModData = moddata.New(logger)
	a.Events = event.New(logger)
	a.World = entity.NewWorld(a.ModData, logger)

	a.Manager = lifecycle.NewManager(lifecycle.Deps{
		Hooks:      a.Hooks,
		Callbacks:  a.Callbacks,
		Extensions: a.Extensions,
		ModData:    a.ModData,
		Events:     a.Events,
		World:      a.World,
	}, logger)

	if err := a.registerBuiltins(); err != nil {
		return nil, err
	}

	if cfg.Admin.Enabled {
		handler := admin.NewHandler(admin.Deps{
			Manager: a.Manager,
			Holder:  holder,
			Rehash:  a.rehashLoaded,
			Logger:  logger,
		})
		a.HTTPServer = &http.Server{
			Addr:         cfg.Admin.Addr(),
			Handler:      handler.Router(),
			ReadTimeout:  cfg.Admin.ReadTimeout,
			WriteTimeout: cfg.Admin.WriteTimeout,
		}
	}

	return a, nil
}

func (a *App) registerBuiltins() error {
	specs := []lifecycle.Spec{
		cloak.New(a.Known, a.Logger),
		channelstore.New(a.Logger),
		history.New(a.Logger),
		msgtags.New(),
	}
	for _, spec := range specs {
		if err := a.Manager.Register(spec); err != nil {
			return fmt.Errorf("register %s: %w", spec.Name, err)
		}
	}
	return nil
}

// Start loads the configured modules.
func (a *App) Start() error {
	cfg := a.Holder.Get()
	errs := a.Manager.LoadAll(cfg.Modules, cfg)
	for _, err := range errs {
		a.Logger.Error().Err(err).Msg("module load failed")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d modules failed to load", len(errs), len(cfg.Modules))
	}
	a.updateMetrics()
	a.Logger.Info().Int("modules", len(cfg.Modules)).Str("server", cfg.Server.Name).Msg("runtime started")
	return nil
}

// Rehash reloads the configuration and reruns the module protocol.
// SIGHUP lands here; the config file watch reloads on its own and joins
// at rehashLoaded.
func (a *App) Rehash() error {
	if err := a.Holder.Reload(); err != nil {
		return err
	}
	return a.rehashLoaded()
}

// rehashLoaded reruns the module protocol against the configuration the
// holder already carries. Serialized by rehashMu.
func (a *App) rehashLoaded() error {
	a.rehashMu.Lock()
	defer a.rehashMu.Unlock()

	cfg := a.Holder.Get()

	before := make(map[string]bool)
	for _, st := range a.Manager.Modules() {
		if st.State == "loaded" {
			before[st.Name] = true
		}
	}

	err := a.Manager.Rehash(cfg)

	// The module list itself is reloadable: load additions fresh, unload
	// modules the new config dropped. Modules that failed the rehash are
	// not retried here.
	var applyErrs []error
	selectedNow := make(map[string]bool, len(cfg.Modules))
	for _, name := range cfg.Modules {
		selectedNow[name] = true
		if !a.Manager.Loaded(name) && !before[name] {
			if lerr := a.Manager.Load(name, cfg); lerr != nil {
				applyErrs = append(applyErrs, fmt.Errorf("load %s: %w", name, lerr))
			}
		}
	}
	for name := range before {
		if !selectedNow[name] && a.Manager.Loaded(name) {
			if uerr := a.Manager.Unload(name); uerr != nil {
				applyErrs = append(applyErrs, fmt.Errorf("unload %s: %w", name, uerr))
			}
		}
	}
	if err == nil && len(applyErrs) > 0 {
		err = errors.Join(applyErrs...)
	}

	if a.Metrics != nil {
		a.Metrics.RehashesTotal.Inc()
		if err != nil {
			a.Metrics.RehashErrors.Inc()
		}
		a.Metrics.LastRehash.SetToCurrentTime()
	}
	a.updateMetrics()
	return err
}

func (a *App) updateMetrics() {
	if a.Metrics == nil {
		return
	}
	loaded := 0
	for _, st := range a.Manager.Modules() {
		if st.State == "loaded" {
			loaded++
		}
	}
	a.Metrics.ModulesLoaded.Set(float64(loaded))

	ext := a.Extensions
	a.Metrics.RegistryEntries.WithLabelValues("capability").Set(float64(ext.Capabilities.Len()))
	a.Metrics.RegistryEntries.WithLabelValues("messagetag").Set(float64(ext.MessageTags.Len()))
	a.Metrics.RegistryEntries.WithLabelValues("history").Set(float64(ext.History.Len()))
	a.Metrics.RegistryEntries.WithLabelValues("isupport").Set(float64(ext.ISupport.Len()))
	a.Metrics.RegistryEntries.WithLabelValues("extban").Set(float64(ext.Extbans.Len()))
	a.Metrics.RegistryEntries.WithLabelValues("chanmode").Set(float64(ext.ChannelModes.Len()))
	a.Metrics.RegistryEntries.WithLabelValues("usermode").Set(float64(ext.UserModes.Len()))
	a.Metrics.RegistryEntries.WithLabelValues("snomask").Set(float64(ext.Snomasks.Len()))
	a.Metrics.RegistryEntries.WithLabelValues("command").Set(float64(ext.Commands.Len()))
}

// Run starts the admin server and the event loop, then blocks until
// SIGINT or SIGTERM. SIGHUP triggers a rehash.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	if a.HTTPServer != nil {
		go func() {
			a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("starting admin server")
			if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	go a.tickLoop()

	// An edited config file rehashes without waiting for a SIGHUP. The
	// watch path reloads the holder itself, so only the module protocol
	// runs here.
	a.Holder.OnChange(func(*config.Config) {
		if err := a.rehashLoaded(); err != nil {
			a.Logger.Error().Err(err).Msg("rehash after config change failed")
		}
	})
	if err := a.Holder.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watch unavailable")
	}

	rehash := make(chan os.Signal, 1)
	signal.Notify(rehash, syscall.SIGHUP)
	defer signal.Stop(rehash)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	for {
		select {
		case err := <-errCh:
			a.Shutdown()
			return fmt.Errorf("admin server: %w", err)
		case <-rehash:
			a.Logger.Info().Msg("received SIGHUP, rehashing")
			if err := a.Rehash(); err != nil {
				a.Logger.Error().Err(err).Msg("rehash failed")
			}
		case sig := <-quit:
			a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
			return a.Shutdown()
		}
	}
}

func (a *App) tickLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			a.Events.Tick(now)
		case <-a.stopTick:
			return
		}
	}
}

// Shutdown unloads every module (newest first, so dependents go before
// their dependencies) and stops the admin server.
func (a *App) Shutdown() error {
	close(a.stopTick)

	statuses := a.Manager.Modules()
	for i := len(statuses) - 1; i >= 0; i-- {
		st := statuses[i]
		if st.State != "loaded" || st.Permanent {
			continue
		}
		if err := a.Manager.Unload(st.Name); err != nil {
			a.Logger.Error().Err(err).Str("module", st.Name).Msg("unload failed during shutdown")
		}
	}

	if a.HTTPServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("admin server shutdown error")
		}
	}

	a.Holder.Stop()
	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func selected(modules []string, name string) bool {
	for _, m := range modules {
		if m == name {
			return true
		}
	}
	return false
}
