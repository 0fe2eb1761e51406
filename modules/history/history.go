// Package history registers the message-history backends. The in-memory
// backend is always available; the sqlite backend is opened on demand
// from the history configuration.
package history

import (
	"context"

	"github.com/artpar/ircmod/adapters/memory"
	"github.com/artpar/ircmod/adapters/sqlite"
	"github.com/artpar/ircmod/config"
	"github.com/artpar/ircmod/core/extension"
	"github.com/artpar/ircmod/core/lifecycle"
	"github.com/artpar/ircmod/core/module"
	"github.com/rs/zerolog"
)

type state struct {
	logger zerolog.Logger

	mem *memory.HistoryStore
	db  *sqlite.DB
}

// New builds the history module spec.
func New(logger zerolog.Logger) lifecycle.Spec {
	s := &state{logger: logger.With().Str("module", "history").Logger()}

	return lifecycle.Spec{
		Name:        "history",
		Version:     "1.0",
		Description: "channel history backends",
		Author:      "ircmod",

		Test:   s.test,
		Init:   s.init,
		Unload: s.unload,
	}
}

func (s *state) test(mi *lifecycle.ModInfo) error {
	if mi.Config.History.Backend == "sqlite" && mi.Config.History.Database == "" {
		return module.ErrInvalid
	}
	return nil
}

func (s *state) init(mi *lifecycle.ModInfo) error {
	def := defaultLimit(mi.Config)

	s.mem = memory.NewHistoryStore()
	if _, err := mi.Extensions.History.Add(mi.Module, extension.HistoryBackendInfo{
		Name: "mem",
		Add: func(target string, line extension.HistoryLine, limit extension.HistoryLimit) error {
			return s.mem.Add(target, line, orDefault(limit, def))
		},
		Request:  s.mem.Query,
		Destroy:  s.mem.Destroy,
		SetLimit: s.mem.SetLimit,
	}); err != nil {
		return err
	}

	if mi.Config.History.Backend != "sqlite" {
		return nil
	}

	db, err := sqlite.Open(mi.Config.History.Database)
	if err != nil {
		return err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return err
	}
	s.db = db
	store := sqlite.NewHistoryStore(db)

	ctx := context.Background()
	if _, err := mi.Extensions.History.Add(mi.Module, extension.HistoryBackendInfo{
		Name: "sqlite",
		Add: func(target string, line extension.HistoryLine, limit extension.HistoryLimit) error {
			return store.Add(ctx, target, line, orDefault(limit, def))
		},
		Request: func(target string, filter extension.HistoryFilter) ([]extension.HistoryLine, error) {
			return store.Query(ctx, target, filter)
		},
		Destroy: func(target string) error {
			return store.Destroy(ctx, target)
		},
		SetLimit: func(target string, limit extension.HistoryLimit) error {
			return store.SetLimit(ctx, target, limit)
		},
	}); err != nil {
		db.Close()
		s.db = nil
		return err
	}

	s.logger.Info().Str("database", mi.Config.History.Database).Msg("sqlite history backend registered")
	return nil
}

func (s *state) unload(mi *lifecycle.ModInfo) module.Result {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error().Err(err).Msg("closing history database")
		}
		s.db = nil
	}
	return module.Success
}

func defaultLimit(cfg *config.Config) extension.HistoryLimit {
	return extension.HistoryLimit{
		MaxLines: cfg.History.MaxLines,
		MaxAge:   cfg.History.MaxAge,
	}
}

// orDefault fills unset bounds from the configured defaults, so a caller
// passing a zero limit gets the server policy rather than unbounded
// retention.
func orDefault(limit, def extension.HistoryLimit) extension.HistoryLimit {
	if limit.MaxLines == 0 {
		limit.MaxLines = def.MaxLines
	}
	if limit.MaxAge == 0 {
		limit.MaxAge = def.MaxAge
	}
	return limit
}
