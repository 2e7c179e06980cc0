package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// validate is the singleton validator instance.
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags plus custom rules
// that cannot be expressed in tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if len(cfg.Exports) == 0 {
		return fmt.Errorf("exports: at least one export must be configured")
	}

	names := make(map[string]bool)
	for i, exp := range cfg.Exports {
		if names[exp.Name] {
			return fmt.Errorf("exports[%d]: duplicate export name %q", i, exp.Name)
		}
		names[exp.Name] = true

		// Pool and container accept short labels or UUID text form; a
		// value of full UUID length must actually parse as one.
		if err := validateIdentifier("pool", exp.Pool); err != nil {
			return fmt.Errorf("exports[%d]: %w", i, err)
		}
		if err := validateIdentifier("container", exp.Container); err != nil {
			return fmt.Errorf("exports[%d]: %w", i, err)
		}
	}
	return nil
}

func validateIdentifier(field, value string) error {
	if len(value) == 36 {
		if _, err := uuid.Parse(value); err != nil {
			return fmt.Errorf("%s: %q is UUID-length but not a valid UUID", field, value)
		}
	}
	return nil
}

// formatValidationError converts validator errors into readable messages.
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
