package extension

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/artpar/ircmod/core/hook"
	"github.com/artpar/ircmod/core/module"
	"github.com/artpar/ircmod/domain/entity"
)

// CommandFunc is a command's base implementation.
type CommandFunc func(c *entity.Client, params []string) hook.Result

// OverrideFunc wraps a command. It receives its own Override so it can
// continue down the chain with CallNext, or swallow the command by not
// calling it.
type OverrideFunc func(ovr *Override, c *entity.Client, params []string) hook.Result

// Command is a registered command with its override chain. Overrides run
// highest priority first, ending at the base implementation.
type Command struct {
	Meta
	fn CommandFunc

	omu       sync.RWMutex
	overrides []*Override
	seq       int
}

func (c *Command) rebind(req *Command) { c.fn = req.fn }

// Call dispatches the command through its override chain.
func (c *Command) Call(client *entity.Client, params []string) hook.Result {
	c.omu.RLock()
	var top *Override
	if len(c.overrides) > 0 {
		top = c.overrides[0]
	}
	c.omu.RUnlock()
	if top != nil {
		return top.fn(top, client, params)
	}
	return c.fn(client, params)
}

// Override is one entry in a command's override chain.
type Override struct {
	cmd      *Command
	owner    *module.Module
	priority int
	seq      int
	fn       OverrideFunc
	once     sync.Once
}

// Command returns the overridden command's name.
func (o *Override) Command() string { return o.cmd.Name() }

// Priority returns the override's priority. Higher runs earlier.
func (o *Override) Priority() int { return o.priority }

// CallNext continues down the chain: the next lower override, or the base
// implementation when this is the last one.
func (o *Override) CallNext(client *entity.Client, params []string) hook.Result {
	o.cmd.omu.RLock()
	var next *Override
	for i, ovr := range o.cmd.overrides {
		if ovr == o && i+1 < len(o.cmd.overrides) {
			next = o.cmd.overrides[i+1]
			break
		}
	}
	o.cmd.omu.RUnlock()
	if next != nil {
		return next.fn(next, client, params)
	}
	return o.cmd.fn(client, params)
}

// Remove unlinks the override from its command. Overrides are plain
// wrappers with no stored state, so removal is immediate even during a
// rehash; the chain simply reforms around the gap.
func (o *Override) Remove(deferred bool) {
	o.once.Do(func() {
		o.cmd.omu.Lock()
		for i, ovr := range o.cmd.overrides {
			if ovr == o {
				o.cmd.overrides = append(o.cmd.overrides[:i], o.cmd.overrides[i+1:]...)
				break
			}
		}
		o.cmd.omu.Unlock()
	})
}

// Kind implements module.Object.
func (o *Override) Kind() string { return "commandoverride" }

// CommandRegistry holds the commands and their override chains.
type CommandRegistry struct {
	*Registry[*Command]
}

// Add registers a command, or revives an unloaded one with the same name,
// keeping its override chain intact.
func (r *CommandRegistry) Add(owner *module.Module, name string, fn CommandFunc) (*Command, error) {
	if fn == nil {
		return nil, r.fail(owner, fmt.Errorf("command %q: implementation is required: %w",
			name, module.ErrInvalid))
	}
	req := &Command{Meta: Meta{name: strings.ToUpper(name)}, fn: fn}
	return r.Registry.Add(owner, req)
}

// AddOverride hooks fn in front of the named command. ErrNotFound when no
// such command is active. Multiple overrides stack: higher priority runs
// first, equal priorities run in registration order (newest outermost,
// matching how wrapping naturally nests).
func (r *CommandRegistry) AddOverride(owner *module.Module, cmdName string, priority int, fn OverrideFunc) (*Override, error) {
	cmd, ok := r.Find(cmdName)
	if !ok {
		return nil, r.fail(owner, fmt.Errorf("override for %q: %w", cmdName, module.ErrNotFound))
	}
	if fn == nil {
		return nil, r.fail(owner, fmt.Errorf("override for %q: function is required: %w",
			cmdName, module.ErrInvalid))
	}

	cmd.omu.Lock()
	cmd.seq++
	o := &Override{cmd: cmd, owner: owner, priority: priority, seq: cmd.seq, fn: fn}
	cmd.overrides = append(cmd.overrides, o)
	sort.SliceStable(cmd.overrides, func(i, j int) bool {
		a, b := cmd.overrides[i], cmd.overrides[j]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		return a.seq > b.seq
	})
	cmd.omu.Unlock()

	if owner != nil {
		owner.Attach(o)
		owner.SetLastError(nil)
	}
	return o, nil
}
