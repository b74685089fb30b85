package transport

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel transport errors. Everything except ErrAdapterUnavailable is
// retryable: sessions recover through their backoff cycle.
var (
	// ErrAdapterUnavailable means the local Bluetooth adapter itself is
	// unusable (powered off, missing, or in an invalid state). This is the
	// only non-retryable condition: it drives a session to Failed.
	ErrAdapterUnavailable = errors.New("bluetooth adapter unavailable")

	// ErrNotConnected means an operation was attempted on a dropped link.
	ErrNotConnected = errors.New("device not connected")

	// ErrCharacteristicNotFound means the peripheral does not expose the
	// requested characteristic.
	ErrCharacteristicNotFound = errors.New("characteristic not found")
)

// NormalizeError maps known BLE library error strings to the sentinel
// errors above, so callers can branch with errors.Is even if the upstream
// library changes messages slightly. The original error is preserved via
// wrapping.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "central manager has invalid state"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "hci device"),
		containsIgnoreCase(msg, "no such device"):
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"),
		containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	default:
		return err
	}
}

// IsFatal reports whether err is non-retryable for a session.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAdapterUnavailable)
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
