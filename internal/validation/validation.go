package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"leadflow/internal/errors"
)

const maxSessionNameLength = 64

// ValidateSessionName validates a gateway session name
func ValidateSessionName(sessionName string) error {
	if sessionName == "" {
		return errors.NewValidationError("session", "session name cannot be empty")
	}

	if len(sessionName) > maxSessionNameLength {
		return errors.NewValidationError("session", fmt.Sprintf("session name too long (max %d characters)", maxSessionNameLength))
	}

	for _, char := range sessionName {
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') || char == '-' || char == '_') {
			return errors.NewValidationError("session", "session name contains invalid characters")
		}
	}

	return nil
}

// ValidateStringLength validates string length bounds
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	length := utf8.RuneCountInString(value)
	if length < minLength {
		return errors.NewValidationError(fieldName, fmt.Sprintf("must be at least %d characters", minLength))
	}
	if maxLength > 0 && length > maxLength {
		return errors.NewValidationError(fieldName, fmt.Sprintf("must be at most %d characters", maxLength))
	}
	return nil
}

// ValidateSubmissionFields checks the required lead fields and the overall shape of a form.
// Keys are expected to be already trimmed.
func ValidateSubmissionFields(fields map[string]string, maxFields, maxFieldLength int) error {
	if len(fields) > maxFields {
		return errors.NewValidationError("fields", fmt.Sprintf("too many fields (max %d)", maxFields))
	}

	for _, required := range []string{"name", "number"} {
		if strings.TrimSpace(fields[required]) == "" {
			return errors.NewValidationError(required, "is required")
		}
	}

	for key, value := range fields {
		if key == "" {
			return errors.NewValidationError("fields", "field names cannot be empty")
		}
		if err := ValidateStringLength(key, key, 1, 64); err != nil {
			return err
		}
		if err := ValidateStringLength(value, key, 0, maxFieldLength); err != nil {
			return err
		}
	}

	return nil
}
