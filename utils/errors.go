package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds surfaced by the ordering services. Compare with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrDenied     = errors.New("access denied")
	ErrTransport  = errors.New("transport failure")
	ErrNotFound   = errors.New("not found")

	ErrOperationInProgress   = errors.New("operation already in progress")
	ErrInvalidState          = errors.New("invalid state for operation")
	ErrRestaurantNotResolved = errors.New("restaurant not resolved")
)

// ClientError carries the failing operation and, for backend failures, the
// HTTP status the backend answered with.
type ClientError struct {
	Op      string // e.g. "qr.verify"
	Kind    error  // one of the sentinels above
	Status  int    // backend HTTP status, 0 when no response was received
	Message string
	Err     error
}

func (e *ClientError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *ClientError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NewValidationError(op, message string) error {
	return &ClientError{Op: op, Kind: ErrValidation, Message: message}
}

func NewDeniedError(op, message string) error {
	return &ClientError{Op: op, Kind: ErrDenied, Message: message}
}

func NewNotFoundError(op, message string) error {
	return &ClientError{Op: op, Kind: ErrNotFound, Message: message}
}

func NewTransportError(op string, err error) error {
	return &ClientError{Op: op, Kind: ErrTransport, Err: err}
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsDenied(err error) bool     { return errors.Is(err, ErrDenied) }
func IsTransport(err error) bool  { return errors.Is(err, ErrTransport) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }

// StatusFor maps an error kind to the HTTP status a controller answers with.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrRestaurantNotResolved):
		return http.StatusBadRequest
	case errors.Is(err, ErrDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrOperationInProgress), errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
