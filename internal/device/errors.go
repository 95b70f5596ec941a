package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrEntityNotFound) {
//	    // handle not found case
//	}
var (
	// ErrEntryNotFound is returned when an entry ID does not exist.
	ErrEntryNotFound = errors.New("device: entry not found")

	// ErrEntityNotFound is returned when an entity ID is not registered.
	ErrEntityNotFound = errors.New("device: entity not found")

	// ErrHostInUse is returned when saving an entry whose host already
	// belongs to an entry with a different unique ID.
	ErrHostInUse = errors.New("device: host already registered")

	// ErrInvalidEntry is returned when entry validation fails.
	ErrInvalidEntry = errors.New("device: invalid entry")

	// ErrInvalidEntity is returned when entity validation fails.
	ErrInvalidEntity = errors.New("device: invalid entity")
)
