package extension

import (
	"fmt"

	"github.com/artpar/ircmod/core/module"
	"github.com/artpar/ircmod/domain/entity"
)

// extbanTableSize bounds the extended-ban table. Flags are single
// characters, so the table stays small on purpose.
const extbanTableSize = 32

// ExtbanOptions are behavior flags for an extended ban type.
type ExtbanOptions uint

const (
	// ExtbanInvEx allows the type in invite exceptions.
	ExtbanInvEx ExtbanOptions = 1 << iota
	// ExtbanActionModifier marks types like ~quiet that change what a
	// match does rather than who it matches.
	ExtbanActionModifier
	// ExtbanNoStackChild forbids nesting this type inside another.
	ExtbanNoStackChild
)

// ExtbanIsBanned tests client c against mask for this type. Required.
type ExtbanIsBanned func(c *entity.Client, ch *entity.Channel, mask string) bool

// ExtbanIsOK validates mask syntax when a ban of this type is set. A nil
// function accepts any mask.
type ExtbanIsOK func(c *entity.Client, ch *entity.Channel, mask string) bool

// ExtbanConv normalizes mask before storage. A nil function stores the
// mask as given.
type ExtbanConv func(mask string) string

// ExtbanInfo describes an extended ban type registration.
type ExtbanInfo struct {
	Flag     byte
	Options  ExtbanOptions
	IsBanned ExtbanIsBanned
	IsOK     ExtbanIsOK
	Conv     ExtbanConv
}

// Extban is a registered extended ban type.
type Extban struct {
	Meta
	flag     byte
	options  ExtbanOptions
	isBanned ExtbanIsBanned
	isOK     ExtbanIsOK
	conv     ExtbanConv
}

func (b *Extban) rebind(req *Extban) {
	b.options = req.options
	b.isBanned = req.isBanned
	b.isOK = req.isOK
	b.conv = req.conv
}

// Flag returns the single-character type flag.
func (b *Extban) Flag() byte { return b.flag }

// Options returns the behavior flags.
func (b *Extban) Options() ExtbanOptions { return b.options }

// IsBanned tests c against mask.
func (b *Extban) IsBanned(c *entity.Client, ch *entity.Channel, mask string) bool {
	return b.isBanned(c, ch, mask)
}

// IsOK validates mask syntax.
func (b *Extban) IsOK(c *entity.Client, ch *entity.Channel, mask string) bool {
	if b.isOK == nil {
		return true
	}
	return b.isOK(c, ch, mask)
}

// Conv normalizes mask for storage.
func (b *Extban) Conv(mask string) string {
	if b.conv == nil {
		return mask
	}
	return b.conv(mask)
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// ExtbanRegistry holds the extended ban types, keyed by flag character.
type ExtbanRegistry struct {
	*Registry[*Extban]
}

// FindFlag returns the active type with the given flag character.
func (r *ExtbanRegistry) FindFlag(flag byte) (*Extban, bool) {
	return r.Find(string(flag))
}

// Add registers an extended ban type, or revives an unloaded one with the
// same flag. Non-alphanumeric flags and missing IsBanned handlers fail
// with ErrInvalid; a full table fails with ErrNoSpace.
func (r *ExtbanRegistry) Add(owner *module.Module, info ExtbanInfo) (*Extban, error) {
	if !isAlnum(info.Flag) {
		return nil, r.fail(owner, fmt.Errorf("extban %q: flag must be alphanumeric: %w",
			string(info.Flag), module.ErrInvalid))
	}
	if info.IsBanned == nil {
		return nil, r.fail(owner, fmt.Errorf("extban %q: IsBanned handler is required: %w",
			string(info.Flag), module.ErrInvalid))
	}
	if _, exists := r.Lookup(string(info.Flag)); !exists && r.Total() >= extbanTableSize {
		return nil, r.fail(owner, fmt.Errorf("extban %q: table full: %w",
			string(info.Flag), module.ErrNoSpace))
	}
	req := &Extban{
		Meta:     Meta{name: string(info.Flag)},
		flag:     info.Flag,
		options:  info.Options,
		isBanned: info.IsBanned,
		isOK:     info.IsOK,
		conv:     info.Conv,
	}
	return r.Registry.Add(owner, req)
}
