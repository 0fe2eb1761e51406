package extension

import (
	"fmt"

	"github.com/artpar/ircmod/core/module"
	"github.com/artpar/ircmod/domain/entity"
)

// UserModeAllowed decides whether client c may set or unset the mode on
// itself. A nil function allows anyone.
type UserModeAllowed func(c *entity.Client, add bool) bool

// UserModeInfo describes a user mode registration.
type UserModeInfo struct {
	Flag byte
	// UnsetOnDeoper clears the mode automatically when the user loses
	// oper status.
	UnsetOnDeoper bool
	Allowed       UserModeAllowed
}

// UserMode is a registered user mode letter.
type UserMode struct {
	Meta
	flag          byte
	bit           uint64
	unsetOnDeoper bool
	allowed       UserModeAllowed
}

func (m *UserMode) rebind(req *UserMode) {
	m.unsetOnDeoper = req.unsetOnDeoper
	m.allowed = req.allowed
}

// Flag returns the mode letter.
func (m *UserMode) Flag() byte { return m.flag }

// Bit returns the mode's position in Client.Modes.
func (m *UserMode) Bit() uint64 { return m.bit }

// UnsetOnDeoper reports whether the mode drops with oper status.
func (m *UserMode) UnsetOnDeoper() bool { return m.unsetOnDeoper }

// Allowed decides whether c may change the mode.
func (m *UserMode) Allowed(c *entity.Client, add bool) bool {
	if m.allowed == nil {
		return true
	}
	return m.allowed(c, add)
}

// UserModeRegistry holds the user mode letters and their bit pool.
type UserModeRegistry struct {
	*Registry[*UserMode]
	bits bitPool
}

// FindFlag returns the active mode with the given letter.
func (r *UserModeRegistry) FindFlag(flag byte) (*UserMode, bool) {
	return r.Find(string(flag))
}

// Add registers a user mode, or revives an unloaded one with the same
// letter, keeping its bit.
func (r *UserModeRegistry) Add(owner *module.Module, info UserModeInfo) (*UserMode, error) {
	if !isAlnum(info.Flag) {
		return nil, r.fail(owner, fmt.Errorf("user mode %q: flag must be alphanumeric: %w",
			string(info.Flag), module.ErrInvalid))
	}
	if _, exists := r.Lookup(string(info.Flag)); exists {
		req := &UserMode{
			Meta:          Meta{name: string(info.Flag)},
			unsetOnDeoper: info.UnsetOnDeoper,
			allowed:       info.Allowed,
		}
		return r.Registry.Add(owner, req)
	}
	bit, ok := r.bits.alloc()
	if !ok {
		return nil, r.fail(owner, fmt.Errorf("user mode %q: no mode bits left: %w",
			string(info.Flag), module.ErrNoSpace))
	}
	req := &UserMode{
		Meta:          Meta{name: string(info.Flag)},
		flag:          info.Flag,
		bit:           bit,
		unsetOnDeoper: info.UnsetOnDeoper,
		allowed:       info.Allowed,
	}
	m, err := r.Registry.Add(owner, req)
	if err != nil {
		r.bits.release(bit)
		return nil, err
	}
	return m, nil
}

// releaseMode returns a removed mode's bit to the pool.
func (r *UserModeRegistry) releaseMode(m *UserMode) { r.bits.release(m.bit) }

// SnomaskSeen decides whether client c may enable the snomask. A nil
// function restricts the mask to opers.
type SnomaskSeen func(c *entity.Client, add bool) bool

// Snomask is a registered server-notice mask letter.
type Snomask struct {
	Meta
	flag byte
	bit  uint64
	seen SnomaskSeen
}

func (s *Snomask) rebind(req *Snomask) { s.seen = req.seen }

// Flag returns the snomask letter.
func (s *Snomask) Flag() byte { return s.flag }

// Bit returns the snomask's position in LocalClient.Snomasks.
func (s *Snomask) Bit() uint64 { return s.bit }

// Allowed decides whether c may enable the mask.
func (s *Snomask) Allowed(c *entity.Client, add bool) bool {
	if s.seen == nil {
		return c.Oper
	}
	return s.seen(c, add)
}

// SnomaskRegistry holds the server-notice masks and their bit pool.
type SnomaskRegistry struct {
	*Registry[*Snomask]
	bits bitPool
}

// FindFlag returns the active snomask with the given letter.
func (r *SnomaskRegistry) FindFlag(flag byte) (*Snomask, bool) {
	return r.Find(string(flag))
}

// Add registers a snomask, or revives an unloaded one with the same
// letter, keeping its bit.
func (r *SnomaskRegistry) Add(owner *module.Module, flag byte, seen SnomaskSeen) (*Snomask, error) {
	if !isAlnum(flag) {
		return nil, r.fail(owner, fmt.Errorf("snomask %q: flag must be alphanumeric: %w",
			string(flag), module.ErrInvalid))
	}
	if _, exists := r.Lookup(string(flag)); exists {
		req := &Snomask{Meta: Meta{name: string(flag)}, seen: seen}
		return r.Registry.Add(owner, req)
	}
	bit, ok := r.bits.alloc()
	if !ok {
		return nil, r.fail(owner, fmt.Errorf("snomask %q: no mask bits left: %w",
			string(flag), module.ErrNoSpace))
	}
	req := &Snomask{Meta: Meta{name: string(flag)}, flag: flag, bit: bit, seen: seen}
	s, err := r.Registry.Add(owner, req)
	if err != nil {
		r.bits.release(bit)
		return nil, err
	}
	return s, nil
}

// releaseMask returns a removed snomask's bit to the pool.
func (r *SnomaskRegistry) releaseMask(s *Snomask) { r.bits.release(s.bit) }
