// Package cloak hides client hostnames behind a keyed hash. The cloaked
// form is stable for a given host and key set, so bans against it keep
// working across reconnects.
package cloak

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/artpar/ircmod/core/callback"
	"github.com/artpar/ircmod/core/extension"
	"github.com/artpar/ircmod/core/lifecycle"
	"github.com/artpar/ircmod/core/module"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"
)

const keyCount = 3

type state struct {
	known  *callback.Known
	logger zerolog.Logger

	mu   sync.RWMutex
	keys []string
}

// New builds the cloak module spec. known carries the slots the module
// implements.
func New(known *callback.Known, logger zerolog.Logger) lifecycle.Spec {
	s := &state{
		known:  known,
		logger: logger.With().Str("module", "cloak").Logger(),
	}

	return lifecycle.Spec{
		Name:        "cloak",
		Version:     "1.0",
		Description: "keyed host cloaking",
		Author:      "ircmod",

		Test: s.test,
		Init: s.init,
	}
}

func (s *state) test(mi *lifecycle.ModInfo) error {
	keys := mi.Config.Cloak.Keys
	if len(keys) != 0 && len(keys) != keyCount {
		return fmt.Errorf("cloak: need exactly %d keys, got %d: %w", keyCount, len(keys), module.ErrInvalid)
	}
	for i, k := range keys {
		if len(k) < 16 {
			return fmt.Errorf("cloak: key %d is shorter than 16 characters: %w", i+1, module.ErrInvalid)
		}
	}
	return nil
}

func (s *state) init(mi *lifecycle.ModInfo) error {
	keys := mi.Config.Cloak.Keys
	if len(keys) == 0 {
		// Without configured keys cloaks change every restart, which
		// breaks bans against cloaked hosts on other servers.
		keys = randomKeys()
		s.logger.Warn().Msg("no cloak keys configured, generated random keys for this run")
	}
	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()

	if _, err := s.known.Cloak.Set(mi.Module, s.cloakHost); err != nil {
		return err
	}
	if _, err := s.known.CloakKeyChecksum.Set(mi.Module, s.checksum); err != nil {
		return err
	}

	// +x toggles host cloaking for the setting user.
	if _, err := mi.Extensions.UserModes.Add(mi.Module, extension.UserModeInfo{Flag: 'x'}); err != nil {
		return err
	}
	return nil
}

// cloakHost hashes host under the key set. Hostnames keep their domain
// tail so "*.provider.example" bans still match; IP addresses are fully
// replaced.
func (s *state) cloakHost(host string) string {
	s.mu.RLock()
	keys := s.keys
	s.mu.RUnlock()

	if net.ParseIP(host) != nil {
		return segment(keys, host, 0) + "." + segment(keys, host, 1) + "." + segment(keys, host, 2) + ".IP"
	}

	seg := segment(keys, host, 0)
	if i := strings.IndexByte(host, '.'); i >= 0 && strings.IndexByte(host[i+1:], '.') >= 0 {
		return seg + host[i:]
	}
	return seg + "." + host
}

// checksum lets linked servers compare key sets without revealing them.
func (s *state) checksum() string {
	s.mu.RLock()
	keys := s.keys
	s.mu.RUnlock()

	h, _ := blake2b.New256(macKey(keys[0]))
	h.Write([]byte(keys[1]))
	h.Write([]byte{':'})
	h.Write([]byte(keys[2]))
	return "blake2b:" + hex.EncodeToString(h.Sum(nil)[:16])
}

// segment derives one cloak segment. n salts the hash so the three IP
// segments differ.
func segment(keys []string, host string, n int) string {
	h, _ := blake2b.New256(macKey(keys[n%keyCount]))
	h.Write([]byte(keys[(n+1)%keyCount]))
	h.Write([]byte(strings.ToLower(host)))
	h.Write([]byte{byte(n)})
	return hex.EncodeToString(h.Sum(nil)[:4])
}

// macKey folds a key of any length into the 32 bytes blake2b accepts.
func macKey(k string) []byte {
	sum := blake2b.Sum256([]byte(k))
	return sum[:]
}

func randomKeys() []string {
	keys := make([]string, keyCount)
	for i := range keys {
		buf := make([]byte, 16)
		rand.Read(buf)
		keys[i] = hex.EncodeToString(buf)
	}
	return keys
}
