package mystrom

import (
	"errors"
	"fmt"
)

// Domain errors for the myStrom bridge package.
// Use errors.Is() to classify; use errors.As() on the typed errors below
// for details such as the HTTP status code.
var (
	// ErrConnection is a transport-level failure: timeout, DNS, refused,
	// reset or a body read error. Retried naturally on the next poll.
	ErrConnection = errors.New("mystrom: connection failed")

	// ErrProtocol means the device answered, but with an HTTP error status
	// or a report that is not a device status.
	ErrProtocol = errors.New("mystrom: protocol error")

	// ErrLookup means an entity reference could not be mapped to a
	// configured device. No network call is made.
	ErrLookup = errors.New("mystrom: device lookup failed")

	// ErrCannotConnect is returned when the initial refresh (or config
	// validation) fails, aborting setup of that device.
	ErrCannotConnect = errors.New("mystrom: cannot connect")

	// ErrAlreadyConfigured is returned when a device with the same unique
	// id is already set up.
	ErrAlreadyConfigured = errors.New("mystrom: device already configured")

	// ErrManagerClosed is returned by Setup once the manager is closed.
	ErrManagerClosed = errors.New("mystrom: manager closed")

	// ErrEntryNotFound is returned for unknown config entry ids.
	ErrEntryNotFound = errors.New("mystrom: entry not found")

	// ErrUnknownCommand is returned for command names the bridge does not handle.
	ErrUnknownCommand = errors.New("mystrom: unknown command")

	// ErrInvalidHost is returned when a device config has no usable host.
	ErrInvalidHost = errors.New("mystrom: invalid host")

	// ErrInvalidDeviceType is returned for device_type values other than
	// switch, zero, bulb or button.
	ErrInvalidDeviceType = errors.New("mystrom: invalid device type")
)

// ConnectionError describes a transport failure talking to one device.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mystrom: error communicating with %s: %v", e.Host, e.Err)
}

// Unwrap exposes both ErrConnection and the underlying cause, so
// errors.Is(err, context.DeadlineExceeded) keeps working.
func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnection, e.Err}
}

// ProtocolError describes a device response that could not be used.
// StatusCode is zero when the HTTP exchange succeeded but the body was
// empty or not a status report.
type ProtocolError struct {
	Host       string
	StatusCode int
	Body       string
	Reason     string
}

func (e *ProtocolError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("mystrom: %s: HTTP %d: %s", e.Host, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("mystrom: %s: %s", e.Host, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}

// LookupError is returned by the command façade when Ref (an entity id)
// does not resolve to a set-up device.
type LookupError struct {
	Ref string
	Err error
}

func (e *LookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mystrom: entity %s not found: %v", e.Ref, e.Err)
	}
	return fmt.Sprintf("mystrom: entity %s not found", e.Ref)
}

func (e *LookupError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrLookup}
	}
	return []error{ErrLookup, e.Err}
}
