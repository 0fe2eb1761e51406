// Package entity holds the core IRC state the extension runtime hangs
// module data off: clients, channels and the membership links between
// them. It knows nothing about modules; the moddata stores embedded here
// are opaque slot arrays.
package entity

import (
	"time"

	"github.com/artpar/ircmod/core/moddata"
)

// Client is a user anywhere on the network.
type Client struct {
	Name  string
	User  string
	Host  string
	IP    string
	Oper  bool
	Modes uint64

	// Local is set only for clients connected to this server.
	Local *LocalClient

	// Memberships is the client-side view of channel membership, newest
	// first.
	Memberships []*Membership

	ModData moddata.Store
}

// LocalClient is the connection-local half of a client.
type LocalClient struct {
	Snomasks uint64
	// Caps holds the capability names the client negotiated.
	Caps map[string]bool

	ModData moddata.Store
}

// HasCap reports whether the client negotiated the named capability.
// Remote clients report false for everything.
func (c *Client) HasCap(name string) bool {
	return c.Local != nil && c.Local.Caps[name]
}

// Ban is one mask on a channel ban, exception or invite-exception list.
type Ban struct {
	Mask  string
	SetBy string
	SetAt time.Time
}

// Channel is an IRC channel.
type Channel struct {
	Name      string
	CreatedAt time.Time

	Topic      string
	TopicSetBy string
	TopicSetAt time.Time

	// Modes is the flag-mode bitfield; ModeParams is indexed by each
	// parameter mode's slot.
	Modes      uint64
	ModeParams []string
	ModeLock   string

	Bans             []Ban
	Excepts          []Ban
	InviteExceptions []Ban

	// Members is the channel-side view of membership.
	Members []*Member

	ModData moddata.Store
}

// HasMode reports whether the flag bit is set.
func (ch *Channel) HasMode(bit uint64) bool { return ch.Modes&bit != 0 }

// SetMode sets or clears the flag bit.
func (ch *Channel) SetMode(bit uint64, on bool) {
	if on {
		ch.Modes |= bit
	} else {
		ch.Modes &^= bit
	}
}

// Param returns the parameter stored in slot, or "".
func (ch *Channel) Param(slot int) string {
	if slot < 0 || slot >= len(ch.ModeParams) {
		return ""
	}
	return ch.ModeParams[slot]
}

// SetParam stores a parameter, growing the slot array as needed.
func (ch *Channel) SetParam(slot int, v string) {
	if slot < 0 {
		return
	}
	for len(ch.ModeParams) <= slot {
		ch.ModeParams = append(ch.ModeParams, "")
	}
	ch.ModeParams[slot] = v
}

// Member is one client on a channel, seen from the channel side.
type Member struct {
	Client  *Client
	Channel *Channel
	// Prefixes holds the member's status letters (o, v, ...).
	Prefixes string

	ModData moddata.Store
}

// Membership is the same link seen from the client side. The two halves
// carry separate moddata stores because modules attach different state to
// each.
type Membership struct {
	Client  *Client
	Channel *Channel

	ModData moddata.Store
}

// FindMember returns the channel-side entry for c, or nil.
func (ch *Channel) FindMember(c *Client) *Member {
	for _, m := range ch.Members {
		if m.Client == c {
			return m
		}
	}
	return nil
}

// OnChannel reports whether the client is on ch.
func (c *Client) OnChannel(ch *Channel) bool {
	return ch.FindMember(c) != nil
}
