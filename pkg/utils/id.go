package utils

import "github.com/google/uuid"

// GenerateID returns a random (v4) UUID string.
func GenerateID() string {
	return uuid.NewString()
}

// IsUUID reports whether s is a UUID in its canonical 36 character form.
// Braced and urn: spellings are rejected so one id has one spelling.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
