package entity

import (
	"strings"
	"sync"
	"time"

	"github.com/artpar/ircmod/core/moddata"
	"github.com/rs/zerolog"
)

// World owns the live client and channel sets. It registers sweepers with
// the moddata allocator so a freed descriptor's values are scrubbed from
// every live entity, and releases an entity's stores when it dies.
type World struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	channels map[string]*Channel

	md     *moddata.Allocator
	logger zerolog.Logger
}

// NewWorld creates an empty world wired to the given allocator.
func NewWorld(md *moddata.Allocator, logger zerolog.Logger) *World {
	w := &World{
		clients:  make(map[string]*Client),
		channels: make(map[string]*Channel),
		md:       md,
		logger:   logger.With().Str("component", "world").Logger(),
	}
	md.RegisterSweeper(moddata.Client, func(visit func(*moddata.Store)) {
		for _, c := range w.Clients() {
			visit(&c.ModData)
		}
	})
	md.RegisterSweeper(moddata.LocalClient, func(visit func(*moddata.Store)) {
		for _, c := range w.Clients() {
			if c.Local != nil {
				visit(&c.Local.ModData)
			}
		}
	})
	md.RegisterSweeper(moddata.Channel, func(visit func(*moddata.Store)) {
		for _, ch := range w.Channels() {
			visit(&ch.ModData)
		}
	})
	md.RegisterSweeper(moddata.Member, func(visit func(*moddata.Store)) {
		for _, ch := range w.Channels() {
			for _, m := range ch.Members {
				visit(&m.ModData)
			}
		}
	})
	md.RegisterSweeper(moddata.Membership, func(visit func(*moddata.Store)) {
		for _, c := range w.Clients() {
			for _, ms := range c.Memberships {
				visit(&ms.ModData)
			}
		}
	})
	return w
}

func foldName(name string) string { return strings.ToLower(name) }

// AddClient links a client into the world. Nick lookups are
// case-insensitive.
func (w *World) AddClient(c *Client) {
	w.mu.Lock()
	w.clients[foldName(c.Name)] = c
	w.mu.Unlock()
}

// FindClient returns the client with the given nick.
func (w *World) FindClient(nick string) (*Client, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.clients[foldName(nick)]
	return c, ok
}

// RemoveClient drops a client and releases its moddata.
func (w *World) RemoveClient(c *Client) {
	w.mu.Lock()
	delete(w.clients, foldName(c.Name))
	w.mu.Unlock()

	for _, ms := range c.Memberships {
		w.md.ReleaseStore(moddata.Membership, &ms.ModData)
	}
	if c.Local != nil {
		w.md.ReleaseStore(moddata.LocalClient, &c.Local.ModData)
	}
	w.md.ReleaseStore(moddata.Client, &c.ModData)
}

// Clients returns a snapshot of the live clients.
func (w *World) Clients() []*Client {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Client, 0, len(w.clients))
	for _, c := range w.clients {
		out = append(out, c)
	}
	return out
}

// GetChannel returns the channel with the given name. With create=true a
// missing channel is made on the spot, timestamped now.
func (w *World) GetChannel(name string, create bool) (*Channel, bool) {
	key := foldName(name)
	w.mu.Lock()
	defer w.mu.Unlock()
	if ch, ok := w.channels[key]; ok {
		return ch, true
	}
	if !create {
		return nil, false
	}
	ch := &Channel{Name: name, CreatedAt: time.Now()}
	w.channels[key] = ch
	w.logger.Debug().Str("channel", name).Msg("channel created")
	return ch, true
}

// RemoveChannel drops a channel and releases its moddata, member stores
// included.
func (w *World) RemoveChannel(ch *Channel) {
	w.mu.Lock()
	delete(w.channels, foldName(ch.Name))
	w.mu.Unlock()

	for _, m := range ch.Members {
		w.md.ReleaseStore(moddata.Member, &m.ModData)
	}
	w.md.ReleaseStore(moddata.Channel, &ch.ModData)
}

// Channels returns a snapshot of the live channels.
func (w *World) Channels() []*Channel {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Channel, 0, len(w.channels))
	for _, ch := range w.channels {
		out = append(out, ch)
	}
	return out
}

// Join links c into ch from both sides and returns the member entry. A
// repeat join returns the existing entry.
func (w *World) Join(c *Client, ch *Channel) *Member {
	if m := ch.FindMember(c); m != nil {
		return m
	}
	m := &Member{Client: c, Channel: ch}
	ch.Members = append(ch.Members, m)
	c.Memberships = append(c.Memberships, &Membership{Client: c, Channel: ch})
	return m
}

// Part unlinks c from ch from both sides and releases the link moddata.
func (w *World) Part(c *Client, ch *Channel) {
	for i, m := range ch.Members {
		if m.Client == c {
			w.md.ReleaseStore(moddata.Member, &m.ModData)
			ch.Members = append(ch.Members[:i], ch.Members[i+1:]...)
			break
		}
	}
	for i, ms := range c.Memberships {
		if ms.Channel == ch {
			w.md.ReleaseStore(moddata.Membership, &ms.ModData)
			c.Memberships = append(c.Memberships[:i], c.Memberships[i+1:]...)
			break
		}
	}
}
