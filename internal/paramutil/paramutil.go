package paramutil

import (
	"fmt"

	// Import the public error types
	eperrors "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/errors"
)

// GetRequiredString retrieves a required string parameter from the params map.
// It returns the string value and a nil error if the key exists and the value is a string.
// Otherwise, it returns an empty string and a ValidationError.
func GetRequiredString(params map[string]interface{}, key string) (string, error) {
	value, exists := params[key]
	if !exists {
		return "", eperrors.NewValidationError(fmt.Sprintf("missing required parameter '%s'", key), nil)
	}

	strValue, ok := value.(string)
	if !ok {
		return "", eperrors.NewValidationError(fmt.Sprintf("parameter '%s' must be a string, got %T", key, value), nil)
	}

	return strValue, nil
}

// GetOptionalString retrieves an optional string parameter from the params map.
// Returns the value and true if found and correct type, empty string and false if not found,
// or error if the key exists but has the wrong type.
func GetOptionalString(params map[string]interface{}, key string) (string, bool, error) {
	value, exists := params[key]
	if !exists {
		return "", false, nil
	}

	strValue, ok := value.(string)
	if !ok {
		return "", false, eperrors.NewValidationError(fmt.Sprintf("parameter '%s' must be a string, got %T", key, value), nil)
	}

	return strValue, true, nil
}

// GetOptionalInt retrieves an optional integer parameter from the params map.
// YAML decodes integers as int, but float64 is also accepted for values that
// round-trip exactly. Returns the value and true if found, zero and false if
// not found, or error if the key exists but has the wrong type.
func GetOptionalInt(params map[string]interface{}, key string) (int, bool, error) {
	value, exists := params[key]
	if !exists {
		return 0, false, nil
	}

	switch v := value.(type) {
	case int:
		return v, true, nil
	case int64:
		return int(v), true, nil
	case float64:
		intValue := int(v)
		if float64(intValue) != v {
			return 0, false, eperrors.NewValidationError(fmt.Sprintf("parameter '%s' must be an integer, got %v", key, v), nil)
		}
		return intValue, true, nil
	default:
		return 0, false, eperrors.NewValidationError(fmt.Sprintf("parameter '%s' must be an integer, got %T", key, value), nil)
	}
}

// GetRequiredInt retrieves a required integer parameter from the params map.
func GetRequiredInt(params map[string]interface{}, key string) (int, error) {
	value, found, err := GetOptionalInt(params, key)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, eperrors.NewValidationError(fmt.Sprintf("missing required parameter '%s'", key), nil)
	}
	return value, nil
}

// GetOptionalBool retrieves an optional boolean parameter from the params map.
// Returns the value and true if found and correct type, false and false if not found,
// or error if the key exists but has the wrong type.
func GetOptionalBool(params map[string]interface{}, key string) (bool, bool, error) {
	value, exists := params[key]
	if !exists {
		return false, false, nil
	}

	boolValue, ok := value.(bool)
	if !ok {
		return false, false, eperrors.NewValidationError(fmt.Sprintf("parameter '%s' must be a boolean, got %T", key, value), nil)
	}

	return boolValue, true, nil
}
