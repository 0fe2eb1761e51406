package extension

import (
	"fmt"
	"sync"

	"github.com/artpar/ircmod/core/module"
	"github.com/artpar/ircmod/domain/entity"
)

// ChannelModeIsOK decides whether client c may change the mode on ch.
// Required for every channel mode.
type ChannelModeIsOK func(c *entity.Client, ch *entity.Channel, param string, add bool) bool

// ChannelModeConvParam normalizes a parameter before it is stored, e.g.
// clamping a limit to a sane range. Required for parameter modes.
type ChannelModeConvParam func(param string, setter *entity.Client) (string, error)

// ChannelModeInfo describes a channel mode registration.
type ChannelModeInfo struct {
	Flag byte
	// ParamCount is 0 for a flag mode or 1 for a parameter mode.
	ParamCount int
	// UnsetWithParam requires the parameter when unsetting too (like +k).
	UnsetWithParam bool
	// Local modes are never propagated to other servers.
	Local bool
	IsOK  ChannelModeIsOK
	Conv  ChannelModeConvParam
}

// ChannelMode is a registered channel mode letter.
type ChannelMode struct {
	Meta
	flag           byte
	bit            uint64
	paramSlot      int
	paramCount     int
	unsetWithParam bool
	local          bool
	isOK           ChannelModeIsOK
	conv           ChannelModeConvParam
}

// rebind preserves flag, bit and paramSlot: channels carrying the mode
// keep a valid bit and parameter slot across the revival.
func (m *ChannelMode) rebind(req *ChannelMode) {
	m.unsetWithParam = req.unsetWithParam
	m.local = req.local
	m.isOK = req.isOK
	m.conv = req.conv
}

// Flag returns the mode letter.
func (m *ChannelMode) Flag() byte { return m.flag }

// Bit returns the mode's position in Channel.Modes.
func (m *ChannelMode) Bit() uint64 { return m.bit }

// ParamSlot returns the mode's index into Channel.ModeParams, or -1 for a
// flag mode.
func (m *ChannelMode) ParamSlot() int { return m.paramSlot }

// HasParam reports whether the mode takes a parameter.
func (m *ChannelMode) HasParam() bool { return m.paramCount > 0 }

// UnsetWithParam reports whether unsetting also requires the parameter.
func (m *ChannelMode) UnsetWithParam() bool { return m.unsetWithParam }

// Local reports whether the mode stays on this server.
func (m *ChannelMode) Local() bool { return m.local }

// IsOK decides whether c may change the mode on ch.
func (m *ChannelMode) IsOK(c *entity.Client, ch *entity.Channel, param string, add bool) bool {
	return m.isOK(c, ch, param, add)
}

// ConvParam normalizes param before storage.
func (m *ChannelMode) ConvParam(param string, setter *entity.Client) (string, error) {
	if m.conv == nil {
		return param, nil
	}
	return m.conv(param, setter)
}

// ChannelModeRegistry holds the channel mode letters and owns the bit and
// parameter-slot pools behind them.
type ChannelModeRegistry struct {
	*Registry[*ChannelMode]
	bits      bitPool
	slotsMu   sync.Mutex
	slotsUsed []bool
}

// FindFlag returns the active mode with the given letter.
func (r *ChannelModeRegistry) FindFlag(flag byte) (*ChannelMode, bool) {
	return r.Find(string(flag))
}

// Add registers a channel mode, or revives an unloaded one with the same
// letter. A revived mode keeps its bit and parameter slot; changing the
// parameter count on revival fails with ErrInvalid. Fails with ErrNoSpace
// once all 64 bits are taken.
func (r *ChannelModeRegistry) Add(owner *module.Module, info ChannelModeInfo) (*ChannelMode, error) {
	if !isAlnum(info.Flag) {
		return nil, r.fail(owner, fmt.Errorf("channel mode %q: flag must be alphanumeric: %w",
			string(info.Flag), module.ErrInvalid))
	}
	if info.IsOK == nil {
		r.fatalf("channel mode %q: IsOK handler is required", string(info.Flag))
	}
	if info.ParamCount < 0 || info.ParamCount > 1 {
		return nil, r.fail(owner, fmt.Errorf("channel mode %q: ParamCount must be 0 or 1: %w",
			string(info.Flag), module.ErrInvalid))
	}

	// Revival keeps the allocated bit and slot, so only a fresh
	// registration draws from the pools. The parameter shape must not
	// change: channels still carry values in the old slot.
	if prev, exists := r.Lookup(string(info.Flag)); exists {
		if (info.ParamCount > 0) != prev.HasParam() {
			return nil, r.fail(owner, fmt.Errorf("channel mode %q: parameter count differs from the existing registration: %w",
				string(info.Flag), module.ErrInvalid))
		}
		req := &ChannelMode{
			Meta:           Meta{name: string(info.Flag)},
			unsetWithParam: info.UnsetWithParam,
			local:          info.Local,
			isOK:           info.IsOK,
			conv:           info.Conv,
		}
		return r.Registry.Add(owner, req)
	}

	bit, ok := r.bits.alloc()
	if !ok {
		return nil, r.fail(owner, fmt.Errorf("channel mode %q: no mode bits left: %w",
			string(info.Flag), module.ErrNoSpace))
	}
	slot := -1
	if info.ParamCount > 0 {
		slot = r.allocSlot()
	}
	req := &ChannelMode{
		Meta:           Meta{name: string(info.Flag)},
		flag:           info.Flag,
		bit:            bit,
		paramSlot:      slot,
		paramCount:     info.ParamCount,
		unsetWithParam: info.UnsetWithParam,
		local:          info.Local,
		isOK:           info.IsOK,
		conv:           info.Conv,
	}
	m, err := r.Registry.Add(owner, req)
	if err != nil {
		r.bits.release(bit)
		if slot >= 0 {
			r.releaseSlot(slot)
		}
		return nil, err
	}
	return m, nil
}

func (r *ChannelModeRegistry) allocSlot() int {
	r.slotsMu.Lock()
	defer r.slotsMu.Unlock()
	for i, used := range r.slotsUsed {
		if !used {
			r.slotsUsed[i] = true
			return i
		}
	}
	r.slotsUsed = append(r.slotsUsed, true)
	return len(r.slotsUsed) - 1
}

func (r *ChannelModeRegistry) releaseSlot(slot int) {
	r.slotsMu.Lock()
	if slot >= 0 && slot < len(r.slotsUsed) {
		r.slotsUsed[slot] = false
	}
	r.slotsMu.Unlock()
}

// releaseMode returns a physically removed mode's bit and slot to the
// pools. Wired as the registry's onRemove.
func (r *ChannelModeRegistry) releaseMode(m *ChannelMode) {
	r.bits.release(m.bit)
	if m.paramSlot >= 0 {
		r.releaseSlot(m.paramSlot)
	}
}
