package schema

import (
	"net/url"
	"strings"

	"github.com/strobelight/beacon/errs"
)

// ProviderInfo identifies and describes a capability provider instance.
// Values are immutable after construction; re-announcements of the same
// instance carry the same UUID.
type ProviderInfo struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	Icon string `json:"icon"`
	RDNS string `json:"rdns"`
}

// Validate checks the info's field contract: UUID, Name and RDNS are
// required; Icon, when present, must be a parseable URI with a scheme.
func (p ProviderInfo) Validate() error {
	if strings.TrimSpace(p.UUID) == "" {
		return errs.New("schema/provider-info", errs.CodeInvalid, errs.WithMessage("uuid required"))
	}
	if strings.TrimSpace(p.Name) == "" {
		return errs.New("schema/provider-info", errs.CodeInvalid,
			errs.WithMessage("name required"), errs.WithField("uuid", p.UUID))
	}
	if strings.TrimSpace(p.RDNS) == "" {
		return errs.New("schema/provider-info", errs.CodeInvalid,
			errs.WithMessage("rdns required"), errs.WithField("uuid", p.UUID))
	}
	if icon := strings.TrimSpace(p.Icon); icon != "" {
		parsed, err := url.Parse(icon)
		if err != nil || parsed.Scheme == "" {
			return errs.New("schema/provider-info", errs.CodeInvalid,
				errs.WithMessage("icon must be a URI"), errs.WithField("uuid", p.UUID))
		}
	}
	return nil
}

// Handle is the provider's opaque capability surface. The registry stores
// it untouched and never inspects it; its method-call contract belongs to
// the consumer that selects the provider.
type Handle any

// ProviderRecord pairs a provider's identity with its capability handle.
// Records are immutable once stored in a registry.
type ProviderRecord struct {
	Info   ProviderInfo
	Handle Handle
}
