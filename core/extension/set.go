package extension

import (
	"github.com/rs/zerolog"
)

// Set bundles every extension registry and wires the cross-registry
// cleanup between them.
type Set struct {
	Capabilities *CapabilityRegistry
	MessageTags  *MessageTagRegistry
	History      *HistoryBackendRegistry
	ISupport     *ISupportRegistry
	Extbans      *ExtbanRegistry
	ChannelModes *ChannelModeRegistry
	UserModes    *UserModeRegistry
	Snomasks     *SnomaskRegistry
	Commands     *CommandRegistry
}

// NewSet builds the registries. Capability and message-tag removal clear
// each other's name links, and mode removal returns bits to the pools.
func NewSet(logger zerolog.Logger) *Set {
	s := &Set{
		Capabilities: &CapabilityRegistry{NewRegistry[*Capability]("capability", logger)},
		History:      &HistoryBackendRegistry{NewRegistry[*HistoryBackend]("history-backend", logger)},
		ISupport:     &ISupportRegistry{NewRegistry[*ISupportToken]("isupport", logger)},
		Extbans:      &ExtbanRegistry{Registry: NewExactRegistry[*Extban]("extban", logger)},
		ChannelModes: &ChannelModeRegistry{Registry: NewExactRegistry[*ChannelMode]("channel-mode", logger)},
		UserModes:    &UserModeRegistry{Registry: NewExactRegistry[*UserMode]("user-mode", logger)},
		Snomasks:     &SnomaskRegistry{Registry: NewExactRegistry[*Snomask]("snomask", logger)},
		Commands:     &CommandRegistry{NewRegistry[*Command]("command", logger)},
	}
	s.MessageTags = &MessageTagRegistry{
		Registry: NewRegistry[*MessageTag]("message-tag", logger),
		caps:     s.Capabilities,
	}

	s.Capabilities.onRemove = func(c *Capability) {
		if c.mtagName == "" {
			return
		}
		if t, ok := s.MessageTags.Lookup(c.mtagName); ok && t.capName == c.Name() {
			t.capName = ""
		}
	}
	s.MessageTags.onRemove = func(t *MessageTag) {
		if t.capName == "" {
			return
		}
		if c, ok := s.Capabilities.Lookup(t.capName); ok && c.mtagName == t.Name() {
			c.mtagName = ""
		}
	}
	s.ChannelModes.onRemove = s.ChannelModes.releaseMode
	s.UserModes.onRemove = s.UserModes.releaseMode
	s.Snomasks.onRemove = s.Snomasks.releaseMask
	return s
}

// SweepAll runs the commit sweep across every registry and returns the
// total number of entries freed.
func (s *Set) SweepAll() int {
	n := 0
	n += s.Capabilities.Sweep()
	n += s.MessageTags.Sweep()
	n += s.History.Sweep()
	n += s.ISupport.Sweep()
	n += s.Extbans.Sweep()
	n += s.ChannelModes.Sweep()
	n += s.UserModes.Sweep()
	n += s.Snomasks.Sweep()
	n += s.Commands.Sweep()
	return n
}
