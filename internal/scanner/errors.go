package scanner

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// Camera acquisition failures.  Each has operator guidance; see Guidance.
var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrNoDevice         = errors.New("no camera device")
	ErrDeviceBusy       = errors.New("camera device busy")
)

var (
	// ErrLoopRunning is returned by Start while a decode loop is active.
	ErrLoopRunning = errors.New("scanner loop already running")
	// ErrNotStarted is returned by SwitchDevice before any Start.
	ErrNotStarted = errors.New("scanner loop never started")
	// ErrNoCode is a decode miss.  The loop swallows it.
	ErrNoCode = errors.New("no code in frame")
)

// AcquireError reports a failed camera acquisition.  It matches both its
// kind (errors.Is(err, ErrDeviceBusy)) and the underlying cause.
type AcquireError struct {
	Device string
	Kind   error
	Err    error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("open %s: %v: %v", e.Device, e.Kind, e.Err)
}

func (e *AcquireError) Unwrap() []error { return []error{e.Kind, e.Err} }

// classify maps an acquisition error onto one of the three kinds.  Errors
// that are already classified pass through; anything unrecognised is
// treated as a missing device.
func classify(device string, err error) error {
	if err == nil {
		return nil
	}
	var ae *AcquireError
	if errors.As(err, &ae) {
		return err
	}
	kind := ErrNoDevice
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, os.ErrPermission):
		kind = ErrPermissionDenied
	case errors.Is(err, ErrDeviceBusy), errors.Is(err, syscall.EBUSY):
		kind = ErrDeviceBusy
	}
	return &AcquireError{Device: device, Kind: kind, Err: err}
}

// Guidance returns what the operator should do about an acquisition error,
// or "" for other errors.
func Guidance(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Access to the scanner was refused. Grant this user read access to the device (e.g. add it to the dialout or input group) and try again."
	case errors.Is(err, ErrDeviceBusy):
		return "The scanner is in use by another program. Close it, or pick another device."
	case errors.Is(err, ErrNoDevice):
		return "No scanner found. Check that it is plugged in and that the device path is correct."
	}
	return ""
}
