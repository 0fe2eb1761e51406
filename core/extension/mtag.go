package extension

import (
	"fmt"

	"github.com/artpar/ircmod/core/module"
	"github.com/artpar/ircmod/domain/entity"
)

// MessageTagIsOK validates a tag value arriving from client c. Required.
type MessageTagIsOK func(c *entity.Client, name, value string) bool

// MessageTagCanSend decides whether a tag is relayed to target. A nil
// function relays to everyone who negotiated the capability.
type MessageTagCanSend func(target *entity.Client) bool

// MessageTagInfo describes a message-tag handler registration. Exactly
// one of Capability and NoCapNeeded must be set: a tag either requires a
// named capability or explicitly declares that it needs none.
type MessageTagInfo struct {
	Name        string
	Capability  string
	NoCapNeeded bool
	IsOK        MessageTagIsOK
	CanSend     MessageTagCanSend
}

// MessageTag is a registered message-tag handler.
type MessageTag struct {
	Meta
	capName     string
	noCapNeeded bool
	isOK        MessageTagIsOK
	canSend     MessageTagCanSend
}

func (t *MessageTag) rebind(req *MessageTag) {
	t.capName = req.capName
	t.noCapNeeded = req.noCapNeeded
	t.isOK = req.isOK
	t.canSend = req.canSend
}

// CapabilityName returns the name of the capability gating this tag, or
// "" when the tag needs none.
func (t *MessageTag) CapabilityName() string { return t.capName }

// NoCapNeeded reports whether the tag is usable without any capability.
func (t *MessageTag) NoCapNeeded() bool { return t.noCapNeeded }

// IsOK validates a tag value from c.
func (t *MessageTag) IsOK(c *entity.Client, name, value string) bool {
	if t.isOK == nil {
		return false
	}
	return t.isOK(c, name, value)
}

// ShouldSend decides whether the tag is relayed to target.
func (t *MessageTag) ShouldSend(target *entity.Client) bool {
	if t.canSend == nil {
		return true
	}
	return t.canSend(target)
}

// MessageTagRegistry holds the message-tag handlers. It owns the
// name-based links between tags and their gating capabilities.
type MessageTagRegistry struct {
	*Registry[*MessageTag]
	caps *CapabilityRegistry
}

// Add registers a message-tag handler, or revives an unloaded one with
// the same name. A handler that both names a capability and sets
// NoCapNeeded, or does neither, or lacks IsOK, is a coding error in the
// calling module and stops the process. A capability name that does not
// resolve is a recoverable ErrInvalid, so a module whose capability
// registration failed degrades instead of crashing.
func (r *MessageTagRegistry) Add(owner *module.Module, info MessageTagInfo) (*MessageTag, error) {
	if info.NoCapNeeded && info.Capability != "" {
		r.fatalf("message-tag %q: both a capability and NoCapNeeded set, pick one", info.Name)
	}
	if !info.NoCapNeeded && info.Capability == "" {
		r.fatalf("message-tag %q: no capability and no NoCapNeeded, pick one", info.Name)
	}
	if info.IsOK == nil {
		r.fatalf("message-tag %q: IsOK handler is required", info.Name)
	}

	var cap *Capability
	if info.Capability != "" {
		var ok bool
		cap, ok = r.caps.Find(info.Capability)
		if !ok {
			err := fmt.Errorf("message-tag %q: capability %q not registered: %w",
				info.Name, info.Capability, module.ErrInvalid)
			if owner != nil {
				owner.SetLastError(err)
			}
			return nil, err
		}
	}

	req := &MessageTag{
		Meta:        Meta{name: info.Name},
		capName:     info.Capability,
		noCapNeeded: info.NoCapNeeded,
		isOK:        info.IsOK,
		canSend:     info.CanSend,
	}
	t, err := r.Registry.Add(owner, req)
	if err != nil {
		return nil, err
	}
	if cap != nil {
		cap.mtagName = t.Name()
	}
	return t, nil
}
