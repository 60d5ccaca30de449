package schema

import (
	"github.com/strobelight/beacon/errs"
)

// Announcement is the payload of an announce-provider event.
type Announcement struct {
	Info   ProviderInfo
	Handle Handle
}

// Validate applies the malformed-payload rules: the info must satisfy its
// field contract and the handle must be present. The protocol has no error
// channel back to the announcer, so callers drop invalid announcements.
func (a Announcement) Validate() error {
	if err := a.Info.Validate(); err != nil {
		return err
	}
	if a.Handle == nil {
		return errs.New("schema/announcement", errs.CodeInvalid,
			errs.WithMessage("handle required"), errs.WithField("uuid", a.Info.UUID))
	}
	return nil
}

// DecodeAnnouncement extracts an Announcement from an event payload.
// Providers broadcast either an Announcement value or a pointer to one.
func DecodeAnnouncement(payload any) (Announcement, bool) {
	switch v := payload.(type) {
	case Announcement:
		return v, true
	case *Announcement:
		if v == nil {
			return Announcement{}, false
		}
		return *v, true
	default:
		return Announcement{}, false
	}
}
