package config

import (
	"fmt"
	"regexp"

	eperrors "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/errors"
)

// Pre-compiled regex for validating profile names. Names double as completion
// store keys and metric labels, so the character set is kept conservative.
var profileNameRegex = regexp.MustCompile(`^[a-zA-Z0-9 _-]+$`)

// Pre-compiled regex for validating task kinds and region names.
var identifierRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateConfigStructure performs a comprehensive logical validation of the
// parsed Config struct. It checks for cross-field consistency, valid
// references, and other rules that cannot be fully expressed in JSON Schema
// alone. It returns a slice of all validation errors found.
func ValidateConfigStructure(c *Config) []error {
	var errs []error

	if len(c.Profiles) == 0 {
		errs = append(errs, eperrors.NewValidationError("config must contain at least one profile in 'profiles' list", nil))
	}

	profileNames := make(map[string]bool)
	endpoints := make(map[string]string)

	for i := range c.Profiles {
		profile := &c.Profiles[i]
		profileDisplayName := fmt.Sprintf("profile %d", i)
		if profile.Name != "" {
			profileDisplayName = fmt.Sprintf("profile %d ('%s')", i, profile.Name)
		}

		if profile.Name == "" {
			errs = append(errs, eperrors.NewValidationError(fmt.Sprintf("%s: name is required", profileDisplayName), nil))
		} else {
			if !profileNameRegex.MatchString(profile.Name) {
				errs = append(errs, eperrors.NewValidationError(fmt.Sprintf("%s: name contains invalid characters (allowed: alphanumeric, space, underscore, hyphen)", profileDisplayName), nil))
			}
			if profileNames[profile.Name] {
				errs = append(errs, eperrors.NewValidationError(fmt.Sprintf("%s: duplicate profile name '%s'", profileDisplayName, profile.Name), nil))
			}
			profileNames[profile.Name] = true
		}

		if profile.Port < 1 || profile.Port > 65535 {
			errs = append(errs, eperrors.NewValidationError(fmt.Sprintf("%s: port %d is out of range (1-65535)", profileDisplayName, profile.Port), nil))
		}

		// Two workers must never share one bridge endpoint.
		endpoint := profile.Endpoint()
		if owner, exists := endpoints[endpoint]; exists {
			errs = append(errs, eperrors.NewValidationError(fmt.Sprintf("%s: endpoint %s is already used by profile '%s'", profileDisplayName, endpoint, owner), nil))
		} else {
			endpoints[endpoint] = profile.Name
		}

		if profile.Package == "" {
			errs = append(errs, eperrors.NewValidationError(fmt.Sprintf("%s: package is required", profileDisplayName), nil))
		}

		if len(profile.Tasks) == 0 {
			errs = append(errs, eperrors.NewValidationError(fmt.Sprintf("%s: at least one enabled task is required", profileDisplayName), nil))
		}
		enabledTasks := make(map[string]bool)
		for _, kind := range profile.Tasks {
			if !identifierRegex.MatchString(kind) {
				errs = append(errs, eperrors.NewValidationError(fmt.Sprintf("%s: task kind '%s' contains invalid characters (allowed: lowercase alphanumeric, underscore)", profileDisplayName, kind), nil))
			}
			if enabledTasks[kind] {
				errs = append(errs, eperrors.NewValidationError(fmt.Sprintf("%s: task kind '%s' is enabled more than once", profileDisplayName, kind), nil))
			}
			enabledTasks[kind] = true
		}

		// Per-task params must reference enabled tasks; a stray key is usually
		// a typo the user wants to hear about.
		for kind := range profile.Params {
			if !enabledTasks[kind] {
				errs = append(errs, eperrors.NewValidationError(fmt.Sprintf("%s: params defined for task '%s' which is not in the enabled task list", profileDisplayName, kind), nil))
			}
		}

		for name, region := range profile.Regions {
			if !identifierRegex.MatchString(name) {
				errs = append(errs, eperrors.NewValidationError(fmt.Sprintf("%s: region name '%s' contains invalid characters (allowed: lowercase alphanumeric, underscore)", profileDisplayName, name), nil))
			}
			if region.Width < 1 || region.Height < 1 {
				errs = append(errs, eperrors.NewValidationError(fmt.Sprintf("%s: region '%s' must have positive width and height", profileDisplayName, name), nil))
			}
			if region.X < 0 || region.Y < 0 {
				errs = append(errs, eperrors.NewValidationError(fmt.Sprintf("%s: region '%s' origin cannot be negative", profileDisplayName, name), nil))
			}
			if region.Threshold < 0 || region.Threshold > 255 {
				errs = append(errs, eperrors.NewValidationError(fmt.Sprintf("%s: region '%s' threshold must be within 0-255", profileDisplayName, name), nil))
			}
		}
	}

	return errs
}
