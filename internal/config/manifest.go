package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/strobelight/beacon/errs"
)

// Load reads a YAML manifest over the defaults. A missing file is not an
// error; callers get the defaults and loadedFromFile=false.
func Load(path string) (Settings, bool, error) {
	cfg := Default()

	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return cfg, false, nil
	}

	raw, err := os.ReadFile(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, false, nil
		}
		return cfg, false, fmt.Errorf("read manifest %q: %w", trimmed, err)
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, false, errs.New("config/load", errs.CodeInvalid,
			errs.WithMessage("parse manifest"), errs.WithCause(err))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, false, err
	}
	return cfg, true, nil
}

// Validate checks manifest invariants that YAML decoding cannot express.
func (s Settings) Validate() error {
	switch s.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return errs.New("config/validate", errs.CodeInvalid,
			errs.WithMessage("unknown environment"), errs.WithField("environment", string(s.Environment)))
	}
	seen := make(map[string]struct{}, len(s.Providers))
	for i, spec := range s.Providers {
		if strings.TrimSpace(spec.Name) == "" {
			return errs.New("config/validate", errs.CodeInvalid,
				errs.WithMessage(fmt.Sprintf("providers[%d]: name required", i)))
		}
		if strings.TrimSpace(spec.RDNS) == "" {
			return errs.New("config/validate", errs.CodeInvalid,
				errs.WithMessage(fmt.Sprintf("providers[%d]: rdns required", i)))
		}
		uuid := strings.TrimSpace(spec.UUID)
		if uuid == "" {
			continue
		}
		if _, dup := seen[uuid]; dup {
			return errs.New("config/validate", errs.CodeConflict,
				errs.WithMessage("duplicate provider uuid"), errs.WithField("uuid", uuid))
		}
		seen[uuid] = struct{}{}
	}
	if s.Bridge.Enabled && strings.TrimSpace(s.Bridge.ListenAddr) == "" {
		return errs.New("config/validate", errs.CodeInvalid, errs.WithMessage("bridge listen_addr required"))
	}
	if s.Audit.Enabled && strings.TrimSpace(s.Audit.DSN) == "" {
		return errs.New("config/validate", errs.CodeInvalid, errs.WithMessage("audit dsn required"))
	}
	return nil
}
