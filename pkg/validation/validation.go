// Package validation holds the argument-validation helpers shared by the
// dispatcher's request handlers. Every rejection here becomes an
// apperr.ArgumentInvalid.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// IDRegex matches the opaque-string id format used for rooms, peers,
// transports, producers, and consumers.
var IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateID validates a room/peer/transport/producer/consumer id.
func ValidateID(id, fieldName string) error {
	if id == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(id) > 128 {
		return fmt.Errorf("%s is too long (max 128 characters)", fieldName)
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}
	return nil
}

// ValidateKind validates a Producer/Consumer media kind (audio|video).
func ValidateKind(kind string) error {
	if kind != "audio" && kind != "video" {
		return fmt.Errorf("kind must be \"audio\" or \"video\", got %q", kind)
	}
	return nil
}

// ValidateNonEmptyJSON validates that a raw JSON argument (e.g.
// dtlsParameters, rtpParameters) was actually supplied.
func ValidateNonEmptyJSON(raw []byte, fieldName string) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateNonEmptyString validates that a string is not empty after
// trimming.
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length in runes.
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
