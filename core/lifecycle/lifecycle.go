// Package lifecycle drives modules through their load protocol and runs
// the two-phase rehash that lets the whole extension surface be replaced
// without dropping state.
//
// Modules are in-process specs, not shared objects: a Spec names the
// module and provides its Test/Init/Load/Unload entry points. The manager
// owns the registries the entry points register into and threads the
// deferred-vs-immediate teardown decision through every removal.
package lifecycle

import (
	"fmt"
	"sync"

	"github.com/artpar/ircmod/config"
	"github.com/artpar/ircmod/core/callback"
	"github.com/artpar/ircmod/core/event"
	"github.com/artpar/ircmod/core/extension"
	"github.com/artpar/ircmod/core/hook"
	"github.com/artpar/ircmod/core/moddata"
	"github.com/artpar/ircmod/core/module"
	"github.com/artpar/ircmod/domain/entity"
	"github.com/rs/zerolog"
)

// Spec declares a module: its metadata and lifecycle entry points.
//
// Test must only validate (config shape, resources reachable) and register
// nothing that cannot be rolled back. Init registers the module's
// extension objects. Load runs once everything is registered, when it is
// safe to touch live state. Unload asks permission to remove the module;
// returning Delay keeps it loaded until the next rehash.
type Spec struct {
	Name        string
	Version     string
	Description string
	Author      string
	Permanent   bool

	Test   func(mi *ModInfo) error
	Init   func(mi *ModInfo) error
	Load   func(mi *ModInfo) error
	Unload func(mi *ModInfo) module.Result
}

// ModInfo is the handle a module's entry points receive. It carries the
// module's identity and every registry the module may register into.
type ModInfo struct {
	Module     *module.Module
	Hooks      *hook.Hooks
	Callbacks  *callback.Slots
	Extensions *extension.Set
	ModData    *moddata.Allocator
	Events     *event.Manager
	World      *entity.World
	Config     *config.Config

	mgr *Manager
}

// loaded pairs a spec with its live module instance.
type loaded struct {
	spec Spec
	mod  *module.Module
	mi   *ModInfo
}

// Manager owns the module catalog and the rehash protocol.
type Manager struct {
	hooks      *hook.Hooks
	callbacks  *callback.Slots
	extensions *extension.Set
	moddata    *moddata.Allocator
	events     *event.Manager
	world      *entity.World

	mu      sync.Mutex
	specs   map[string]Spec
	order   []string
	current map[string]*loaded

	// persistent survives a module's unload/reload cycle but not a
	// process restart. Keys are "module/variable".
	persistent map[string]any

	rehashes     int
	rehashErrors int

	logger zerolog.Logger
}

// Deps are the registries the manager dispatches into.
type Deps struct {
	Hooks      *hook.Hooks
	Callbacks  *callback.Slots
	Extensions *extension.Set
	ModData    *moddata.Allocator
	Events     *event.Manager
	World      *entity.World
}

// NewManager creates a manager over the given registries.
func NewManager(deps Deps, logger zerolog.Logger) *Manager {
	return &Manager{
		hooks:      deps.Hooks,
		callbacks:  deps.Callbacks,
		extensions: deps.Extensions,
		moddata:    deps.ModData,
		events:     deps.Events,
		world:      deps.World,
		specs:      make(map[string]Spec),
		current:    make(map[string]*loaded),
		persistent: make(map[string]any),
		logger:     logger.With().Str("component", "lifecycle").Logger(),
	}
}

// Register adds a spec to the catalog without loading it.
func (m *Manager) Register(spec Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("module spec: %w", module.ErrInvalid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.specs[spec.Name]; ok {
		return fmt.Errorf("module %q: %w", spec.Name, module.ErrExists)
	}
	m.specs[spec.Name] = spec
	m.order = append(m.order, spec.Name)
	return nil
}

func (m *Manager) newInstance(spec Spec, cfg *config.Config) *loaded {
	mod := module.New(module.Header{
		Name:        spec.Name,
		Version:     spec.Version,
		Description: spec.Description,
		Author:      spec.Author,
	})
	mod.SetPermanent(spec.Permanent)
	return &loaded{
		spec: spec,
		mod:  mod,
		mi: &ModInfo{
			Module:     mod,
			Hooks:      m.hooks,
			Callbacks:  m.callbacks,
			Extensions: m.extensions,
			ModData:    m.moddata,
			Events:     m.events,
			World:      m.world,
			Config:     cfg,
			mgr:        m,
		},
	}
}

// runProtocol takes a fresh instance through Test, Init and Load. On any
// failure the instance's objects are removed immediately and the error is
// recorded on the module.
func (m *Manager) runProtocol(l *loaded) error {
	steps := []struct {
		state module.State
		fn    func(*ModInfo) error
	}{
		{module.StateTesting, l.spec.Test},
		{module.StateInitializing, l.spec.Init},
		{module.StateLoaded, l.spec.Load},
	}
	for _, step := range steps {
		l.mod.SetState(step.state)
		if step.fn == nil {
			continue
		}
		if err := step.fn(l.mi); err != nil {
			err = fmt.Errorf("module %q %s: %w", l.spec.Name, step.state, err)
			l.mod.SetLastError(err)
			l.mod.Teardown(false)
			return err
		}
	}
	return nil
}

// Load runs the full load protocol for one registered module.
func (m *Manager) Load(name string, cfg *config.Config) error {
	m.mu.Lock()
	spec, ok := m.specs[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("module %q: %w", name, module.ErrNotFound)
	}
	if _, live := m.current[name]; live {
		m.mu.Unlock()
		return fmt.Errorf("module %q: %w", name, module.ErrExists)
	}
	l := m.newInstance(spec, cfg)
	m.mu.Unlock()

	if err := m.runProtocol(l); err != nil {
		m.logger.Error().Err(err).Str("module", name).Msg("module load failed")
		return err
	}

	m.mu.Lock()
	m.current[name] = l
	m.mu.Unlock()
	m.logger.Info().Str("module", name).Str("version", spec.Version).Msg("module loaded")
	return nil
}

// LoadAll loads every named module, continuing past failures, and returns
// the errors it collected.
func (m *Manager) LoadAll(names []string, cfg *config.Config) []error {
	var errs []error
	for _, name := range names {
		if err := m.Load(name, cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Unload removes a loaded module immediately. A Permanent module refuses;
// an Unload entry point returning Delay postpones the removal to the next
// rehash instead.
func (m *Manager) Unload(name string) error {
	m.mu.Lock()
	l, ok := m.current[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("module %q: %w", name, module.ErrNotFound)
	}
	if l.mod.Permanent() {
		return fmt.Errorf("module %q is permanent: %w", name, module.ErrInvalid)
	}

	if l.spec.Unload != nil && l.spec.Unload(l.mi) == module.Delay {
		l.mod.SetDelayedUnload(true)
		m.logger.Info().Str("module", name).Msg("unload delayed until next rehash")
		return nil
	}

	l.mod.Teardown(false)
	m.mu.Lock()
	delete(m.current, name)
	m.mu.Unlock()
	m.logger.Info().Str("module", name).Msg("module unloaded")
	return nil
}

// Rehash replaces the entire loadable module generation in two phases.
//
// Phase 1 runs the outgoing generation's Unload entry points and tears it
// down with deferred deletion, so registry entries are only marked, then
// runs the fresh generation's Test,
// the config-test hooks, and the remaining protocol steps. A module that
// fails here is rolled back (its new objects removed immediately) and left
// out; the deferred old entries keep the rest of the system consistent.
//
// Phase 2 is the commit: sweep every registry, the callback slots and the
// moddata allocator, verify no mandatory callback is missing, run the
// config-run hooks and fire RehashComplete.
func (m *Manager) Rehash(cfg *config.Config) error {
	m.logger.Info().Msg("rehash starting")
	m.hooks.Rehash.Run(func(fn hook.RehashFunc) { fn() })

	m.mu.Lock()
	m.rehashes++
	old := make([]*loaded, 0, len(m.current))
	reload := make([]string, 0, len(m.current))
	for _, name := range m.order {
		l, ok := m.current[name]
		if !ok {
			continue
		}
		old = append(old, l)
		if !l.mod.DelayedUnload() {
			reload = append(reload, name)
		}
	}
	m.mu.Unlock()

	// Phase 1: deferred teardown of the old generation. The outgoing
	// instances run their Unload entry points first, releasing what the
	// registries do not track (open files, database handles). Delay has
	// no meaning here: the generation is being replaced either way.
	for _, l := range old {
		if l.spec.Unload != nil {
			if res := l.spec.Unload(l.mi); res == module.Failed {
				m.logger.Error().Str("module", l.spec.Name).Msg("rehash: unload entry point failed")
			}
		}
		l.mod.Teardown(true)
	}
	m.mu.Lock()
	m.current = make(map[string]*loaded)
	m.mu.Unlock()

	var failed []error

	// Fresh instances run Test before anything commits.
	var next []*loaded
	for _, name := range reload {
		m.mu.Lock()
		l := m.newInstance(m.specs[name], cfg)
		m.mu.Unlock()
		l.mod.SetState(module.StateTesting)
		if l.spec.Test != nil {
			if err := l.spec.Test(l.mi); err != nil {
				err = fmt.Errorf("module %q testing: %w", name, err)
				m.logger.Error().Err(err).Str("module", name).Msg("rehash: module excluded")
				l.mod.SetLastError(err)
				l.mod.Teardown(false)
				failed = append(failed, err)
				continue
			}
		}
		next = append(next, l)
	}

	// Config-test hooks registered during Test vote on the new config.
	for _, err := range m.hooks.RunConfigTest(cfg) {
		m.logger.Error().Err(err).Msg("rehash: config test failed")
		failed = append(failed, err)
	}

	for _, l := range next {
		l.mod.SetState(module.StateInitializing)
		if l.spec.Init != nil {
			if err := l.spec.Init(l.mi); err != nil {
				err = fmt.Errorf("module %q initializing: %w", l.spec.Name, err)
				m.logger.Error().Err(err).Str("module", l.spec.Name).Msg("rehash: module excluded")
				l.mod.SetLastError(err)
				l.mod.Teardown(false)
				failed = append(failed, err)
				continue
			}
		}
		m.mu.Lock()
		m.current[l.spec.Name] = l
		m.mu.Unlock()
	}

	// Phase 2: commit. Everything the new generation did not revive dies.
	swept := m.extensions.SweepAll()
	swept += m.callbacks.Sweep()
	swept += m.moddata.Sweep()

	if missing := m.callbacks.Missing(); len(missing) > 0 {
		err := fmt.Errorf("mandatory callbacks unbound after rehash: %v", missing)
		m.logger.Error().Strs("slots", missing).Msg("rehash: mandatory callbacks missing")
		failed = append(failed, err)
	}

	m.hooks.RunConfigRun(cfg)

	m.mu.Lock()
	loadOrder := append([]string(nil), m.order...)
	m.mu.Unlock()
	for _, name := range loadOrder {
		m.mu.Lock()
		l, live := m.current[name]
		m.mu.Unlock()
		if !live {
			continue
		}
		l.mod.SetState(module.StateLoaded)
		if l.spec.Load != nil {
			if err := l.spec.Load(l.mi); err != nil {
				err = fmt.Errorf("module %q loading: %w", name, err)
				m.logger.Error().Err(err).Str("module", name).Msg("rehash: module excluded")
				l.mod.SetLastError(err)
				l.mod.Teardown(false)
				m.mu.Lock()
				delete(m.current, name)
				m.mu.Unlock()
				failed = append(failed, err)
			}
		}
	}

	m.hooks.RehashComplete.Run(func(fn hook.RehashFunc) { fn() })

	if len(failed) > 0 {
		m.mu.Lock()
		m.rehashErrors++
		m.mu.Unlock()
		m.logger.Warn().Int("swept", swept).Int("failures", len(failed)).Msg("rehash finished with errors")
		return fmt.Errorf("rehash: %d module(s) failed, first: %w", len(failed), failed[0])
	}
	m.logger.Info().Int("swept", swept).Int("modules", len(m.snapshot())).Msg("rehash complete")
	return nil
}

func (m *Manager) snapshot() map[string]*loaded {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*loaded, len(m.current))
	for k, v := range m.current {
		out[k] = v
	}
	return out
}

// Status describes one loaded module for the admin listener.
type Status struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	State       string `json:"state"`
	Permanent   bool   `json:"permanent,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// Modules reports the loaded modules in registration order.
func (m *Manager) Modules() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.current))
	for _, name := range m.order {
		l, ok := m.current[name]
		if !ok {
			continue
		}
		st := Status{
			Name:        l.mod.Name(),
			Version:     l.mod.Header().Version,
			Description: l.mod.Header().Description,
			Author:      l.mod.Header().Author,
			State:       l.mod.State().String(),
			Permanent:   l.mod.Permanent(),
		}
		if err := l.mod.LastError(); err != nil {
			st.LastError = err.Error()
		}
		out = append(out, st)
	}
	return out
}

// Rehashes returns how many rehashes ran and how many finished with
// errors.
func (m *Manager) Rehashes() (total, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rehashes, m.rehashErrors
}

// Loaded reports whether the named module is currently live.
func (m *Manager) Loaded(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.current[name]
	return ok
}
