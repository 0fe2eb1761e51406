package hook

import (
	"github.com/artpar/ircmod/config"
	"github.com/artpar/ircmod/domain/entity"
	"github.com/rs/zerolog"
)

// Handler signatures, one per hook type. Each signature is fixed for the
// life of the hook type; a handler that does not match simply will not
// compile against the table.

// ConfigTestFunc validates the new configuration before anything is
// committed. A non-nil error counts as a validation failure and aborts the
// module's reload.
type ConfigTestFunc func(cfg *config.Config) error

// ConfigRunFunc applies the (already validated) configuration.
type ConfigRunFunc func(cfg *config.Config)

// RehashFunc is a pure notification, fired when a rehash begins or, for
// the RehashComplete table, after the commit sweep.
type RehashFunc func()

// ClientFunc handles client-scoped notifications (connect, welcome).
type ClientFunc func(c *entity.Client) Result

// QuitFunc observes a client quit with its comment.
type QuitFunc func(c *entity.Client, comment string) Result

// CanJoinFunc votes on a join attempt; Deny stops the walk and the join.
type CanJoinFunc func(c *entity.Client, ch *entity.Channel, key string) Result

// PreLocalPartFunc may rewrite the part comment; the first non-empty
// return value wins and is propagated to the caller.
type PreLocalPartFunc func(c *entity.Client, ch *entity.Channel, comment string) string

// ChannelFunc observes channel creation.
type ChannelFunc func(c *entity.Client, ch *entity.Channel) Result

// ChannelDestroyFunc votes on channel destruction: handlers set
// *keep=true to prevent an empty channel from being freed (how persistent
// channels stay alive).
type ChannelDestroyFunc func(ch *entity.Channel, keep *bool) Result

// PreChanMsgFunc screens a channel message before delivery; Deny drops it.
type PreChanMsgFunc func(c *entity.Client, ch *entity.Channel, text string) Result

// PacketFunc inspects a raw inbound packet; handlers may shrink *length.
type PacketFunc func(c *entity.Client, data []byte, length *int) Result

// Hooks declares the dispatch tables the core invokes. Modules reach them
// through the lifecycle manager's ModInfo.
type Hooks struct {
	Set *Set

	ConfigTest     *Table[ConfigTestFunc]
	ConfigRun      *Table[ConfigRunFunc]
	Rehash         *Table[RehashFunc]
	RehashComplete *Table[RehashFunc]

	LocalConnect   *Table[ClientFunc]
	Welcome        *Table[ClientFunc]
	LocalQuit      *Table[QuitFunc]
	CanJoin        *Table[CanJoinFunc]
	PreLocalPart   *Table[PreLocalPartFunc]
	ChannelCreate  *Table[ChannelFunc]
	ChannelDestroy *Table[ChannelDestroyFunc]
	PreChanMsg     *Table[PreChanMsgFunc]
	PacketIn       *Table[PacketFunc]
}

// New builds the full table set.
func New(logger zerolog.Logger) *Hooks {
	set := NewSet(logger)
	return &Hooks{
		Set: set,

		ConfigTest:     NewTable[ConfigTestFunc](set, "config_test"),
		ConfigRun:      NewTable[ConfigRunFunc](set, "config_run"),
		Rehash:         NewTable[RehashFunc](set, "rehash"),
		RehashComplete: NewTable[RehashFunc](set, "rehash_complete"),

		LocalConnect:   NewTable[ClientFunc](set, "local_connect"),
		Welcome:        NewTable[ClientFunc](set, "welcome"),
		LocalQuit:      NewTable[QuitFunc](set, "local_quit"),
		CanJoin:        NewTable[CanJoinFunc](set, "can_join"),
		PreLocalPart:   NewTable[PreLocalPartFunc](set, "pre_local_part"),
		ChannelCreate:  NewTable[ChannelFunc](set, "channel_create"),
		ChannelDestroy: NewTable[ChannelDestroyFunc](set, "channel_destroy"),
		PreChanMsg:     NewTable[PreChanMsgFunc](set, "pre_chanmsg"),
		PacketIn:       NewTable[PacketFunc](set, "packet_in"),
	}
}

// RunConfigTest walks the config_test chain, collecting every error so the
// operator sees all problems in one pass.
func (h *Hooks) RunConfigTest(cfg *config.Config) []error {
	var errs []error
	h.ConfigTest.Run(func(fn ConfigTestFunc) {
		if err := fn(cfg); err != nil {
			errs = append(errs, err)
		}
	})
	return errs
}

// RunConfigRun applies the configuration through every registered handler.
func (h *Hooks) RunConfigRun(cfg *config.Config) {
	h.ConfigRun.Run(func(fn ConfigRunFunc) { fn(cfg) })
}

// CanJoinChannel is the veto walk used by the join path: the first Deny
// stops dispatch and the join is refused.
func (h *Hooks) CanJoinChannel(c *entity.Client, ch *entity.Channel, key string) Result {
	r, ok := RunUntil(h.CanJoin,
		func(fn CanJoinFunc) Result { return fn(c, ch, key) },
		func(r Result) bool { return r == Deny })
	if !ok {
		return Continue
	}
	return r
}

// ShouldDestroyChannel asks registered handlers whether an empty channel
// may be freed.
func (h *Hooks) ShouldDestroyChannel(ch *entity.Channel) bool {
	keep := false
	h.ChannelDestroy.Run(func(fn ChannelDestroyFunc) { fn(ch, &keep) })
	return !keep
}
