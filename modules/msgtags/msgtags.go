// Package msgtags registers the server-time and msgid message tags.
package msgtags

import (
	"time"

	"github.com/artpar/ircmod/core/extension"
	"github.com/artpar/ircmod/core/lifecycle"
	"github.com/artpar/ircmod/domain/entity"
	"github.com/google/uuid"
)

// New builds the msgtags module spec.
func New() lifecycle.Spec {
	return lifecycle.Spec{
		Name:        "msgtags",
		Version:     "1.1",
		Description: "server-time and msgid message tags",
		Author:      "ircmod",

		Init: initModule,
	}
}

func initModule(mi *lifecycle.ModInfo) error {
	if _, err := mi.Extensions.Capabilities.Add(mi.Module, extension.CapabilityInfo{
		Name: "server-time",
	}); err != nil {
		return err
	}
	if _, err := mi.Extensions.Capabilities.Add(mi.Module, extension.CapabilityInfo{
		Name: "message-tags",
	}); err != nil {
		return err
	}

	// time carries the server-assigned timestamp; clients never set it.
	if _, err := mi.Extensions.MessageTags.Add(mi.Module, extension.MessageTagInfo{
		Name:       "time",
		Capability: "server-time",
		IsOK:       serverOnly,
		CanSend:    hasServerTime,
	}); err != nil {
		return err
	}

	// msgid is attached to every message regardless of negotiation, so
	// replies can reference messages a non-negotiating client sent.
	if _, err := mi.Extensions.MessageTags.Add(mi.Module, extension.MessageTagInfo{
		Name:        "msgid",
		NoCapNeeded: true,
		IsOK:        serverOnly,
	}); err != nil {
		return err
	}

	if _, err := mi.Extensions.ISupport.Add(mi.Module, "MSGREFTYPES", "msgid,timestamp"); err != nil {
		return err
	}
	return nil
}

// serverOnly rejects client-supplied values; the server stamps these tags
// itself.
func serverOnly(c *entity.Client, name, value string) bool {
	return c == nil
}

func hasServerTime(target *entity.Client) bool {
	return target != nil && target.HasCap("server-time")
}

// Timestamp renders t the way the time tag carries it.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// NewMsgID mints a message identifier for the msgid tag.
func NewMsgID() string {
	return uuid.NewString()
}
