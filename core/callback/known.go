package callback

// CloakFunc computes the cloaked form of a client's real host.
type CloakFunc func(host string) string

// CloakKeyChecksumFunc digests the configured cloak keys so linked servers
// can verify they agree on them.
type CloakKeyChecksumFunc func() string

// Known bundles the slots the core dispatches directly, as opposed to
// slots a module invents for its own use.
type Known struct {
	Cloak            *Slot[CloakFunc]
	CloakKeyChecksum *Slot[CloakKeyChecksumFunc]
}

// NewKnown creates the well-known slots. cloakMandatory makes the two
// cloaking slots participate in the post-rehash Missing check; pass true
// when a cloaking module is part of the configured module set.
func NewKnown(slots *Slots, cloakMandatory bool) *Known {
	return &Known{
		Cloak:            NewSlot[CloakFunc](slots, "cloak", cloakMandatory),
		CloakKeyChecksum: NewSlot[CloakKeyChecksumFunc](slots, "cloak-key-checksum", cloakMandatory),
	}
}
