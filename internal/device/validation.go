package device

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength     = 100
	maxObjectIDLength = 64
	maxHostLength     = 253
)

var validPlatforms = map[string]struct{}{
	"switch": {},
	"sensor": {},
}

var entityIDRegex = regexp.MustCompile(`^[a-z]+\.[\p{Ll}\p{N}_]+$`)

// ValidateEntry checks that an entry can be persisted.
func ValidateEntry(e *Entry) error {
	if strings.TrimSpace(e.UniqueID) == "" {
		return fmt.Errorf("%w: unique_id is required", ErrInvalidEntry)
	}
	host := strings.TrimSpace(e.Host)
	if host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidEntry)
	}
	if len(host) > maxHostLength {
		return fmt.Errorf("%w: host exceeds %d characters", ErrInvalidEntry, maxHostLength)
	}
	if err := ValidateName(e.Name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}
	return nil
}

// ValidateEntity checks an entity before registration.
func ValidateEntity(e *Entity) error {
	if e.UniqueID == "" {
		return fmt.Errorf("%w: unique_id is required", ErrInvalidEntity)
	}
	if e.EntryID == "" {
		return fmt.Errorf("%w: entry_id is required", ErrInvalidEntity)
	}
	if _, ok := validPlatforms[e.Platform]; !ok {
		return fmt.Errorf("%w: unknown platform %q", ErrInvalidEntity, e.Platform)
	}
	if e.EntityID != "" && !entityIDRegex.MatchString(e.EntityID) {
		return fmt.Errorf("%w: malformed entity_id %q", ErrInvalidEntity, e.EntityID)
	}
	return nil
}

// ValidateName checks an optional display name's length.
func ValidateName(name string) error {
	if len(name) > maxNameLength {
		return fmt.Errorf("name exceeds %d characters", maxNameLength)
	}
	return nil
}

// GenerateObjectID creates the object part of an entity ID from a name:
// lowercase, with every run of other characters collapsed to one
// underscore.
//
//	GenerateObjectID("Kitchen Plug Power") // "kitchen_plug_power"
func GenerateObjectID(name string) string {
	var result strings.Builder
	pending := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending {
				result.WriteByte('_')
				pending = false
			}
			result.WriteRune(r)
			continue
		}
		pending = result.Len() > 0
	}

	id := result.String()
	if len(id) > maxObjectIDLength {
		id = strings.TrimRight(truncateRunes(id, maxObjectIDLength), "_")
	}
	return id
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if i > n {
			break
		}
		cut = i
	}
	return s[:cut]
}

// GenerateID creates a new UUID for an entry.
func GenerateID() string {
	return uuid.New().String()
}
