package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/echoport/internal/telemetry"
	"github.com/marmos91/echoport/pkg/server"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	// Port strings are decimal 0-65535; "0" asks for an ephemeral port.
	_ = validate.RegisterValidation("tcpport", func(fl validator.FieldLevel) bool {
		_, err := server.ParsePort(fl.Field().String())
		return err == nil
	})
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults, so validation accepts
// both uppercase and lowercase levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if _, err := ParseAcceptRate(cfg.Server.AcceptRate); err != nil {
		return fmt.Errorf("server.accept_rate: %w", err)
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint: required when telemetry is enabled")
	}
	if cfg.Telemetry.Profiling.Enabled {
		for i, pt := range cfg.Telemetry.Profiling.ProfileTypes {
			if !telemetry.ValidProfileType(pt) {
				return fmt.Errorf("telemetry.profiling.profile_types[%d]: unknown profile type %q", i, pt)
			}
		}
	}

	if cfg.Metrics.Enabled && cfg.ControlPlane.Enabled && cfg.Metrics.Port == cfg.ControlPlane.Port {
		return fmt.Errorf("metrics.port: %d is already used by controlplane.port", cfg.Metrics.Port)
	}

	return nil
}

// ParseAcceptRate converts the configured accept_rate windows into the
// limiter's representation and checks that the limiter accepts them.
func ParseAcceptRate(raw map[string]int) (map[time.Duration]int, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	rates := make(map[time.Duration]int, len(raw))
	for window, count := range raw {
		d, err := time.ParseDuration(window)
		if err != nil {
			return nil, fmt.Errorf("invalid window %q: %w", window, err)
		}
		rates[d] = count
	}
	if err := server.ValidateAcceptRate(rates); err != nil {
		return nil, err
	}
	return rates, nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
