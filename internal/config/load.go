package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	eperrors "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/errors"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// SupportedSchemaVersionConstraint defines the SemVer constraint that loaded
// configs must satisfy. For a v1 engine, we only accept v1 configs.
const SupportedSchemaVersionConstraint = "v1"

// LoadConfig reads the specified YAML file bytes, unmarshals into a Config struct,
// validates against the embedded JSON schema, checks schema version compatibility,
// performs logical validation, and applies engine defaults.
func LoadConfig(configYAML []byte, filePathHint string) (*Config, error) {
	if len(configYAML) == 0 {
		return nil, eperrors.NewConfigError("config content cannot be empty", nil)
	}

	// Step 1: Validate against the JSON Schema for basic structure and types.
	if err := ValidateWithSchema(configYAML); err != nil {
		return nil, eperrors.NewConfigError(fmt.Sprintf("config '%s' failed schema validation", filePathHint), err)
	}

	// Step 2: Unmarshal into Go struct using strict decoding to catch unknown fields.
	var cfg Config
	if err := yamlUnmarshalStrict(configYAML, &cfg); err != nil {
		return nil, eperrors.NewConfigError(fmt.Sprintf("failed to parse config YAML '%s'", filePathHint), err)
	}
	cfg.FilePath = filePathHint

	// Step 3: Check Schema Version Compatibility.
	if cfg.SchemaVersion == "" {
		return nil, eperrors.NewValidationError(fmt.Sprintf("config '%s' is missing required 'schemaVersion' field", filePathHint), nil)
	}
	cfgSemVer := cfg.SchemaVersion
	if !strings.HasPrefix(cfgSemVer, "v") {
		cfgSemVer = "v" + cfgSemVer
	}
	if !semver.IsValid(cfgSemVer) {
		return nil, eperrors.NewValidationError(fmt.Sprintf("config '%s' has invalid 'schemaVersion' format: '%s'", filePathHint, cfg.SchemaVersion), nil)
	}

	// Check if the major version of the config schema matches the engine's supported major version.
	if semver.Major(cfgSemVer) != SupportedSchemaVersionConstraint {
		return nil, eperrors.NewValidationError(
			fmt.Sprintf("config '%s' schemaVersion '%s' is not compatible with engine requirement '%s'",
				filePathHint, cfg.SchemaVersion, SupportedSchemaVersionConstraint),
			nil,
		)
	}

	// Step 4: Perform detailed logical validation on the Go struct.
	validationErrs := ValidateConfigStructure(&cfg)
	if len(validationErrs) > 0 {
		// Combine multiple validation errors into a single, clear message.
		var errorMessages []string
		for _, vErr := range validationErrs {
			errorMessages = append(errorMessages, vErr.Error())
		}
		combinedMessage := fmt.Sprintf("config '%s' has %d validation error(s):\n- %s",
			filePathHint, len(errorMessages), strings.Join(errorMessages, "\n- "))
		return nil, eperrors.NewValidationError(combinedMessage, validationErrs[0])
	}

	// Step 5: Apply engine defaults after all validation has passed.
	cfg.ApplyDefaults()

	return &cfg, nil
}

// LoadConfigFromFile is a convenience function to read a config from disk.
func LoadConfigFromFile(filePath string) (*Config, error) {
	if filePath == "" {
		return nil, eperrors.NewConfigError("config file path cannot be empty", nil)
	}
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, eperrors.NewConfigError(fmt.Sprintf("failed to get absolute path for '%s'", filePath), err)
	}
	yamlFile, err := os.ReadFile(absPath)
	if err != nil {
		return nil, eperrors.NewConfigError(fmt.Sprintf("failed to read config file '%s'", absPath), err)
	}
	return LoadConfig(yamlFile, absPath)
}

// yamlUnmarshalStrict provides stricter YAML unmarshalling by disallowing unknown fields.
// This helps users catch typos or unsupported configuration options early.
func yamlUnmarshalStrict(in []byte, out interface{}) error {
	decoder := yaml.NewDecoder(strings.NewReader(string(in)))
	// This crucial setting makes the parser return an error if the YAML
	// contains fields that are not defined in the target Go struct.
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("YAML parsing error: %w", err)
	}
	return nil
}
