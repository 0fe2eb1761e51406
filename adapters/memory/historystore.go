// Package memory provides the in-memory history store, the default
// backend when no database is configured.
package memory

import (
	"sync"
	"time"

	"github.com/artpar/ircmod/core/extension"
)

// HistoryStore keeps per-target message history in memory, pruned to the
// caller's limits on every insert. Everything is lost on restart, which
// is the documented behavior of the "mem" backend.
type HistoryStore struct {
	mu      sync.RWMutex
	targets map[string][]extension.HistoryLine
}

// NewHistoryStore creates an empty in-memory history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{targets: make(map[string][]extension.HistoryLine)}
}

// Add appends one line, keeping the target's lines time-ordered and
// within limit. A duplicate message ID is ignored.
func (s *HistoryStore) Add(target string, line extension.HistoryLine, limit extension.HistoryLimit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.targets[target]
	for _, l := range lines {
		if l.ID == line.ID {
			return nil
		}
	}

	// Lines arrive nearly in order; walk back from the end to the
	// insertion point instead of sorting.
	i := len(lines)
	for i > 0 && lines[i-1].Time.After(line.Time) {
		i--
	}
	lines = append(lines, extension.HistoryLine{})
	copy(lines[i+1:], lines[i:])
	lines[i] = line

	s.targets[target] = pruneLines(lines, limit)
	return nil
}

func pruneLines(lines []extension.HistoryLine, limit extension.HistoryLimit) []extension.HistoryLine {
	if limit.MaxAge > 0 {
		cutoff := time.Now().Add(-limit.MaxAge)
		for len(lines) > 0 && lines[0].Time.Before(cutoff) {
			lines = lines[1:]
		}
	}
	if limit.MaxLines > 0 && len(lines) > limit.MaxLines {
		lines = lines[len(lines)-limit.MaxLines:]
	}
	return lines
}

// SetLimit prunes a target immediately.
func (s *HistoryStore) SetLimit(target string, limit extension.HistoryLimit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lines, ok := s.targets[target]; ok {
		s.targets[target] = pruneLines(lines, limit)
	}
	return nil
}

// Query returns the target's lines oldest first, honoring the filter.
func (s *HistoryStore) Query(target string, filter extension.HistoryFilter) ([]extension.HistoryLine, error) {
	s.mu.RLock()
	lines := append([]extension.HistoryLine(nil), s.targets[target]...)
	s.mu.RUnlock()

	if filter.AfterID != "" {
		for i, l := range lines {
			if l.ID == filter.AfterID {
				lines = lines[i+1:]
				break
			}
		}
	}
	if filter.BeforeID != "" {
		for i, l := range lines {
			if l.ID == filter.BeforeID {
				lines = lines[:i]
				break
			}
		}
	}
	if filter.Limit.MaxAge > 0 {
		cutoff := time.Now().Add(-filter.Limit.MaxAge)
		for len(lines) > 0 && lines[0].Time.Before(cutoff) {
			lines = lines[1:]
		}
	}
	if n := filter.Limit.MaxLines; n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// Destroy drops all history for a target.
func (s *HistoryStore) Destroy(target string) error {
	s.mu.Lock()
	delete(s.targets, target)
	s.mu.Unlock()
	return nil
}
