// Package channelstore persists permanent (+P) channels across restarts.
// Channels carrying the mode survive emptying out, and their registered
// state (topic, modes, ban lists) is written to a statefile and restored
// on the first load after startup.
package channelstore

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/artpar/ircmod/adapters/statefile"
	"github.com/artpar/ircmod/config"
	"github.com/artpar/ircmod/core/event"
	"github.com/artpar/ircmod/core/extension"
	"github.com/artpar/ircmod/core/hook"
	"github.com/artpar/ircmod/core/lifecycle"
	"github.com/artpar/ircmod/core/module"
	"github.com/artpar/ircmod/domain/entity"
	"github.com/rs/zerolog"
)

const fileVersion uint32 = 1

type state struct {
	logger zerolog.Logger

	mu       sync.Mutex
	path     string
	interval time.Duration

	perm      *extension.ChannelMode
	modes     *extension.ChannelModeRegistry
	world     *entity.World
	saveEvent *event.Event
}

// New builds the channelstore module spec.
func New(logger zerolog.Logger) lifecycle.Spec {
	s := &state{logger: logger.With().Str("module", "channelstore").Logger()}

	return lifecycle.Spec{
		Name:        "channelstore",
		Version:     "2.0",
		Description: "permanent channel persistence",
		Author:      "ircmod",

		Test:   s.test,
		Init:   s.init,
		Load:   s.load,
		Unload: s.unload,
	}
}

func (s *state) test(mi *lifecycle.ModInfo) error {
	if err := validate(mi.Config); err != nil {
		return err
	}
	mi.Hooks.ConfigTest.Add(mi.Module, 0, func(cfg *config.Config) error {
		return validate(cfg)
	})
	return nil
}

func validate(cfg *config.Config) error {
	if cfg.ChannelStore.Database == "" {
		return errors.New("channelstore: database path is empty")
	}
	if cfg.ChannelStore.SaveInterval < time.Second {
		return errors.New("channelstore: save interval below one second")
	}
	return nil
}

func (s *state) init(mi *lifecycle.ModInfo) error {
	s.mu.Lock()
	s.path = mi.Config.ChannelStore.Database
	s.interval = mi.Config.ChannelStore.SaveInterval
	s.world = mi.World
	s.modes = mi.Extensions.ChannelModes
	s.mu.Unlock()

	perm, err := mi.Extensions.ChannelModes.Add(mi.Module, extension.ChannelModeInfo{
		Flag: 'P',
		IsOK: func(c *entity.Client, ch *entity.Channel, param string, add bool) bool {
			return c == nil || c.Oper
		},
	})
	if err != nil {
		return err
	}
	s.perm = perm

	mi.Hooks.ChannelDestroy.Add(mi.Module, 0, func(ch *entity.Channel, keep *bool) hook.Result {
		if ch.HasMode(perm.Bit()) {
			*keep = true
		}
		return hook.Continue
	})

	mi.Hooks.ConfigRun.Add(mi.Module, 0, func(cfg *config.Config) {
		s.mu.Lock()
		s.path = cfg.ChannelStore.Database
		s.interval = cfg.ChannelStore.SaveInterval
		ev := s.saveEvent
		interval := s.interval
		s.mu.Unlock()
		if ev != nil {
			mi.Events.Mod(ev, interval, 0)
		}
	})

	ev := mi.Events.Add(mi.Module, "channelstore-save", s.interval, 0, func(any) {
		if err := s.save(); err != nil {
			s.logger.Error().Err(err).Msg("periodic channel save failed")
		}
	}, nil)
	s.mu.Lock()
	s.saveEvent = ev
	s.mu.Unlock()

	return nil
}

// load restores the statefile once per process. Channels survive rehashes
// in memory, so rereading the file on reload would clobber newer state
// with older.
func (s *state) load(mi *lifecycle.ModInfo) error {
	loads := mi.LoadPersistentInt("loads", 0)
	mi.SavePersistentInt("loads", loads+1)
	if loads > 0 {
		return nil
	}

	n, err := s.restore()
	switch {
	case err == nil:
		if n > 0 {
			s.logger.Info().Int("channels", n).Msg("restored permanent channels")
		}
	case os.IsNotExist(err):
		// First run.
	case errors.Is(err, statefile.ErrTruncated):
		s.logger.Warn().Int("channels", n).Str("path", s.path).
			Msg("channel database truncated, keeping what was recovered")
	default:
		// Unreadable beyond repair. Move it aside so the next save
		// starts clean and the operator can inspect the old file.
		corrupt := s.path + ".corrupt"
		if rerr := os.Rename(s.path, corrupt); rerr == nil {
			s.logger.Error().Err(err).Str("moved_to", corrupt).Msg("channel database corrupt")
		} else {
			s.logger.Error().Err(err).Msg("channel database corrupt and could not be moved aside")
		}
	}
	return nil
}

func (s *state) unload(mi *lifecycle.ModInfo) module.Result {
	if err := s.save(); err != nil {
		s.logger.Error().Err(err).Msg("final channel save failed")
		return module.Failed
	}
	return module.Success
}

// save writes every permanent channel to the statefile.
func (s *state) save() error {
	s.mu.Lock()
	path := s.path
	world := s.world
	perm := s.perm
	s.mu.Unlock()

	w, err := statefile.NewWriter(path, fileVersion)
	if err != nil {
		return err
	}

	count := 0
	for _, ch := range world.Channels() {
		if !ch.HasMode(perm.Bit()) {
			continue
		}
		s.writeChannel(w, ch)
		count++
	}
	if err := w.Commit(); err != nil {
		return err
	}
	s.logger.Debug().Int("channels", count).Msg("channel database written")
	return nil
}

func (s *state) writeChannel(w *statefile.Writer, ch *entity.Channel) {
	letters, params := s.modeStrings(ch)

	w.BeginRecord()
	w.WriteString(ch.Name)
	w.WriteInt64(ch.CreatedAt.Unix())
	w.WriteString(ch.Topic)
	w.WriteString(ch.TopicSetBy)
	w.WriteInt64(ch.TopicSetAt.Unix())
	w.WriteString(letters)
	w.WriteUint32(uint32(len(params)))
	for _, p := range params {
		w.WriteString(p)
	}
	w.WriteString(ch.ModeLock)
	writeBans(w, ch.Bans)
	writeBans(w, ch.Excepts)
	writeBans(w, ch.InviteExceptions)
	w.EndRecord()
}

func writeBans(w *statefile.Writer, bans []entity.Ban) {
	w.WriteUint32(uint32(len(bans)))
	for _, b := range bans {
		w.WriteString(b.Mask)
		w.WriteString(b.SetBy)
		w.WriteInt64(b.SetAt.Unix())
	}
}

// restore reads the statefile back into the world. It returns how many
// channels were fully recovered; on ErrTruncated those channels are
// already applied.
func (s *state) restore() (int, error) {
	s.mu.Lock()
	path := s.path
	s.mu.Unlock()

	r, err := statefile.OpenReader(path, fileVersion)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	recovered := 0
	for i := uint64(0); i < r.Records(); i++ {
		if err := r.BeginRecord(); err != nil {
			return recovered, err
		}
		if err := s.readChannel(r); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

func (s *state) readChannel(r *statefile.Reader) error {
	name, err := r.ReadString()
	if err != nil {
		return err
	}
	created, err := r.ReadInt64()
	if err != nil {
		return err
	}
	topic, err := r.ReadString()
	if err != nil {
		return err
	}
	topicBy, err := r.ReadString()
	if err != nil {
		return err
	}
	topicAt, err := r.ReadInt64()
	if err != nil {
		return err
	}
	letters, err := r.ReadString()
	if err != nil {
		return err
	}
	nparams, err := r.ReadUint32()
	if err != nil {
		return err
	}
	params := make([]string, nparams)
	for i := range params {
		if params[i], err = r.ReadString(); err != nil {
			return err
		}
	}
	lock, err := r.ReadString()
	if err != nil {
		return err
	}
	bans, err := readBans(r)
	if err != nil {
		return err
	}
	excepts, err := readBans(r)
	if err != nil {
		return err
	}
	invex, err := readBans(r)
	if err != nil {
		return err
	}
	if err := r.EndRecord(); err != nil {
		return err
	}

	ch, _ := s.world.GetChannel(name, true)
	ch.CreatedAt = time.Unix(created, 0)
	ch.Topic = topic
	ch.TopicSetBy = topicBy
	ch.TopicSetAt = time.Unix(topicAt, 0)
	ch.ModeLock = lock
	ch.Bans = bans
	ch.Excepts = excepts
	ch.InviteExceptions = invex
	s.applyModes(ch, letters, params)
	return nil
}

func readBans(r *statefile.Reader) ([]entity.Ban, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	var bans []entity.Ban
	for i := uint32(0); i < n; i++ {
		var b entity.Ban
		if b.Mask, err = r.ReadString(); err != nil {
			return nil, err
		}
		if b.SetBy, err = r.ReadString(); err != nil {
			return nil, err
		}
		at, err := r.ReadInt64()
		if err != nil {
			return nil, err
		}
		b.SetAt = time.Unix(at, 0)
		bans = append(bans, b)
	}
	return bans, nil
}

// modeStrings renders the channel's modes as letters plus parameters.
// Letters, not raw bits, go to disk: bit positions are pool-allocated and
// not stable across restarts.
func (s *state) modeStrings(ch *entity.Channel) (string, []string) {
	var letters []byte
	var params []string
	for _, m := range s.modes.Entries() {
		if !ch.HasMode(m.Bit()) {
			continue
		}
		letters = append(letters, m.Flag())
		if m.HasParam() {
			params = append(params, ch.Param(m.ParamSlot()))
		}
	}
	return string(letters), params
}

// applyModes is the inverse of modeStrings. Letters whose mode is no
// longer registered are dropped.
func (s *state) applyModes(ch *entity.Channel, letters string, params []string) {
	next := 0
	for i := 0; i < len(letters); i++ {
		m, ok := s.modes.Find(string(letters[i]))
		if !ok {
			s.logger.Warn().Str("channel", ch.Name).Str("mode", string(letters[i])).
				Msg("stored channel mode no longer registered, dropping")
			if next < len(params) {
				// Cannot tell whether the unknown mode consumed a
				// parameter. Stop applying parameters rather than
				// misassigning them.
				params = params[:next]
			}
			continue
		}
		ch.SetMode(m.Bit(), true)
		if m.HasParam() && next < len(params) {
			ch.SetParam(m.ParamSlot(), params[next])
			next++
		}
	}
}
