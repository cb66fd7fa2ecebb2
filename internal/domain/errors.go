package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceNotFound is returned when a device disappeared or was never discovered.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrUnknownDevice is the API-boundary name for a device id that is not in the inventory.
	ErrUnknownDevice = ErrDeviceNotFound

	// ErrAccessDenied is returned when the process lacks privilege to query or open hardware.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidDevice is returned for devices reporting a zero or negative capacity.
	ErrInvalidDevice = errors.New("invalid device: capacity must be positive")

	// ErrUnknownMethod is returned when a method id is not in the registry.
	ErrUnknownMethod = errors.New("unknown sanitization method")

	// ErrMethodNotApplicable is returned when a method cannot target the device.
	ErrMethodNotApplicable = errors.New("method not applicable to device")

	// ErrDeviceBusy is returned when another non-terminal job holds the device.
	ErrDeviceBusy = errors.New("device busy: another job is active")

	// ErrSystemVolumeConfirmationRequired guards the running system's boot volume.
	ErrSystemVolumeConfirmationRequired = errors.New("device is the system volume; explicit confirmation required")

	// ErrHiddenArea is returned when a host protected area hides sectors from the overwrite.
	ErrHiddenArea = errors.New("device has a host protected area beyond its reported capacity")

	// ErrWriteFailure is matched by every *WriteFailure.
	ErrWriteFailure = errors.New("write failure")

	// ErrVerificationFailed is returned when read-back found data that does not match the final pattern.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrJobNotFound is returned when a job cannot be found by ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotTerminal is returned when a terminal-only operation is called on a running job.
	ErrJobNotTerminal = errors.New("job not terminal")

	// ErrJobNotCancellable is returned once a job reached verification or a terminal state.
	ErrJobNotCancellable = errors.New("job not cancellable")

	// ErrJobNotCertifiable is returned for terminal jobs without a verified data state.
	ErrJobNotCertifiable = errors.New("job has no certifiable outcome")

	// ErrCertificateNotReady is returned until the job reaches a terminal state.
	ErrCertificateNotReady = errors.New("certificate not ready")

	// ErrAnchorSubmissionFailed is returned when the ledger rejected or could not receive a hash.
	ErrAnchorSubmissionFailed = errors.New("anchor submission failed")

	// ErrReceiptNotFound is returned when the ledger has no record of a transaction reference.
	ErrReceiptNotFound = errors.New("receipt not found")
)

// WriteFailure is a failed block write during an overwrite pass.
type WriteFailure struct {
	PassIndex int
	Offset    int64
	Cause     error
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("write failure: pass %d at offset %d: %v", e.PassIndex, e.Offset, e.Cause)
}

func (e *WriteFailure) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrWriteFailure) match.
func (e *WriteFailure) Is(target error) bool { return target == ErrWriteFailure }
