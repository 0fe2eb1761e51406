package extension

import (
	"fmt"
	"time"

	"github.com/artpar/ircmod/core/module"
)

// HistoryLine is one stored message.
type HistoryLine struct {
	ID   string
	Time time.Time
	Line string
}

// HistoryLimit bounds what a history target retains or returns.
type HistoryLimit struct {
	MaxLines int
	MaxAge   time.Duration
}

// HistoryFilter selects lines for retrieval. Zero values mean unbounded.
type HistoryFilter struct {
	Limit    HistoryLimit
	AfterID  string
	BeforeID string
}

// HistoryAdd appends a line to a target's history.
type HistoryAdd func(target string, line HistoryLine, limit HistoryLimit) error

// HistoryRequest retrieves lines for a target, oldest first.
type HistoryRequest func(target string, filter HistoryFilter) ([]HistoryLine, error)

// HistoryDestroy drops all history for a target.
type HistoryDestroy func(target string) error

// HistorySetLimit trims a target's history to limit right away, ahead of
// any lazy pruning the backend does on Add. Optional.
type HistorySetLimit func(target string, limit HistoryLimit) error

// HistoryBackendInfo describes a history backend registration. Add,
// Request and Destroy are required.
type HistoryBackendInfo struct {
	Name     string
	Add      HistoryAdd
	Request  HistoryRequest
	Destroy  HistoryDestroy
	SetLimit HistorySetLimit
}

// HistoryBackend is a registered history backend.
type HistoryBackend struct {
	Meta
	add      HistoryAdd
	request  HistoryRequest
	destroy  HistoryDestroy
	setLimit HistorySetLimit
}

func (b *HistoryBackend) rebind(req *HistoryBackend) {
	b.add = req.add
	b.request = req.request
	b.destroy = req.destroy
	b.setLimit = req.setLimit
}

// SetLimit trims target's history to limit immediately. Backends without
// eager trimming treat it as a no-op.
func (b *HistoryBackend) SetLimit(target string, limit HistoryLimit) error {
	if b.setLimit == nil {
		return nil
	}
	return b.setLimit(target, limit)
}

// Add appends a line to target's history.
func (b *HistoryBackend) Add(target string, line HistoryLine, limit HistoryLimit) error {
	return b.add(target, line, limit)
}

// Request retrieves lines for target, oldest first.
func (b *HistoryBackend) Request(target string, filter HistoryFilter) ([]HistoryLine, error) {
	return b.request(target, filter)
}

// Destroy drops all history for target.
func (b *HistoryBackend) Destroy(target string) error {
	return b.destroy(target)
}

// HistoryBackendRegistry holds the history backends.
type HistoryBackendRegistry struct {
	*Registry[*HistoryBackend]
}

// Add registers a history backend, or revives an unloaded one with the
// same name. Missing operations fail with ErrInvalid.
func (r *HistoryBackendRegistry) Add(owner *module.Module, info HistoryBackendInfo) (*HistoryBackend, error) {
	if info.Add == nil || info.Request == nil || info.Destroy == nil {
		return nil, r.fail(owner, fmt.Errorf("history backend %q: Add, Request and Destroy are all required: %w",
			info.Name, module.ErrInvalid))
	}
	req := &HistoryBackend{
		Meta:     Meta{name: info.Name},
		add:      info.Add,
		request:  info.Request,
		destroy:  info.Destroy,
		setLimit: info.SetLimit,
	}
	return r.Registry.Add(owner, req)
}
