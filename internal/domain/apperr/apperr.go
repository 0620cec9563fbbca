// Package apperr defines the error taxonomy shared by the repositories and
// the HTTP layer.
//
// Callers classify errors with errors.Is against the sentinels below. Remote
// store failures are wrapped in *RemoteError so that the kind (read or write)
// and the underlying cause are both visible while the message passes through
// verbatim.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation rejects input before any network call is made.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when a document does not exist at read or write time.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the acting user may not perform the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrConfirmationRequired guards destructive operations that were invoked
	// without an explicit confirmation.
	ErrConfirmationRequired = errors.New("confirmation required")

	// ErrGeolocation means no position could be obtained in time.
	ErrGeolocation = errors.New("geolocation unavailable")

	// ErrDecode means the uploaded bytes are not a decodable image.
	ErrDecode = errors.New("image decode failed")

	// ErrGeocode is absorbed by the geocoder and never reaches users.
	ErrGeocode = errors.New("reverse geocode failed")

	// ErrClipboard means the share URL was produced but could not be copied.
	ErrClipboard = errors.New("could not copy")

	// ErrDelete marks a failed single-document delete.
	ErrDelete = errors.New("delete failed")

	// ErrRemoteRead and ErrRemoteWrite classify backing-store failures.
	ErrRemoteRead  = errors.New("remote read failed")
	ErrRemoteWrite = errors.New("remote write failed")

	// ErrInvalidDocument flags a stored document that is missing required fields.
	ErrInvalidDocument = errors.New("invalid document")
)

// Validation returns an ErrValidation carrying a human-readable reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// RemoteError wraps a failure reported by the backing store.
type RemoteError struct {
	Kind error  // ErrRemoteRead or ErrRemoteWrite
	Op   string // e.g. "maps.rename"
	Err  error
}

// Error passes the store's message through unchanged.
func (e *RemoteError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Err.Error()
}

func (e *RemoteError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Read wraps err as a remote read failure. A nil err stays nil.
func Read(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}
	return &RemoteError{Kind: ErrRemoteRead, Op: op, Err: err}
}

// Write wraps err as a remote write failure. A nil err stays nil.
func Write(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}
	return &RemoteError{Kind: ErrRemoteWrite, Op: op, Err: err}
}

// Message returns the user-facing part of err, dropping the sentinel prefix
// added by Validation.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	prefix := ErrValidation.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
