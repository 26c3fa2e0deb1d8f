package engine

import "errors"

// ValidationError rejects a malformed ingest payload or config update before any state changes.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

var (
	// ErrTransientPersistence wraps collaborator write failures; the routine cursor is not advanced.
	ErrTransientPersistence = errors.New("engine: transient persistence failure")
	// ErrNotificationDelivery wraps a failed send to one subscriber.
	ErrNotificationDelivery = errors.New("engine: notification delivery failed")
	// ErrMalformedSensorPayload marks a sensor payload the condition checks could not read.
	ErrMalformedSensorPayload = errors.New("engine: malformed sensor payload")
	// ErrDeviceNotFound is returned by single-device lookups.
	ErrDeviceNotFound = errors.New("engine: device not found")
)
