package extension

import (
	"github.com/artpar/ircmod/core/module"
	"github.com/artpar/ircmod/domain/entity"
)

// CapabilityVisible decides whether a capability is advertised to a
// client. A nil function means always visible.
type CapabilityVisible func(c *entity.Client) bool

// CapabilityParameter supplies the value advertised after the capability
// name (CAP LS 302 syntax). Optional.
type CapabilityParameter func(c *entity.Client) string

// CapabilityInfo describes a client capability registration.
type CapabilityInfo struct {
	Name string
	// AdvertiseOnly capabilities are listed but cannot be requested;
	// clients obtain them implicitly.
	AdvertiseOnly bool
	Visible       CapabilityVisible
	Parameter     CapabilityParameter
}

// Capability is a registered client capability.
type Capability struct {
	Meta
	advertiseOnly bool
	visible       CapabilityVisible
	parameter     CapabilityParameter

	// mtagName is the message-tag handler bound to this capability, by
	// name. Kept as a name rather than a pointer so a swept counterpart
	// can never leave a dangling reference.
	mtagName string
}

func (c *Capability) rebind(req *Capability) {
	c.advertiseOnly = req.advertiseOnly
	c.visible = req.visible
	c.parameter = req.parameter
	// mtagName is managed by the message-tag registry, not by capability
	// requests; revival leaves an existing binding intact.
}

// AdvertiseOnly reports whether the capability is advertise-only.
func (c *Capability) AdvertiseOnly() bool { return c.advertiseOnly }

// VisibleTo reports whether the capability is advertised to c.
func (c *Capability) VisibleTo(client *entity.Client) bool {
	if c.visible == nil {
		return true
	}
	return c.visible(client)
}

// ParameterFor returns the advertised value for c, or "" when none.
func (c *Capability) ParameterFor(client *entity.Client) string {
	if c.parameter == nil {
		return ""
	}
	return c.parameter(client)
}

// MessageTagName returns the name of the message-tag handler bound to
// this capability, or "" when none is.
func (c *Capability) MessageTagName() string { return c.mtagName }

// CapabilityRegistry holds the client capabilities.
type CapabilityRegistry struct {
	*Registry[*Capability]
}

// Add registers a capability, or revives an unloaded one with the same
// name.
func (r *CapabilityRegistry) Add(owner *module.Module, info CapabilityInfo) (*Capability, error) {
	req := &Capability{
		Meta:          Meta{name: info.Name},
		advertiseOnly: info.AdvertiseOnly,
		visible:       info.Visible,
		parameter:     info.Parameter,
	}
	return r.Registry.Add(owner, req)
}
