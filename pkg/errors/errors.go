package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Pipeline failure taxonomy. Every error that reaches a stage boundary is
// classified into one of these before the delivery outcome is chosen.
var (
	ErrTransientIO          = errors.New("transient io failure")
	ErrMalformedInput       = errors.New("malformed input")
	ErrNoConfidentMatch     = errors.New("no confident match")
	ErrAmbiguousCorrelation = errors.New("correlation entry missing")
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrQueueNotEmpty  = errors.New("queue not empty")
	ErrUnroutable     = errors.New("message unroutable")
	ErrPublishNacked  = errors.New("publish not confirmed by broker")
	ErrQuotaExhausted = errors.New("quota exhausted")
	ErrInternal       = errors.New("internal error")
	ErrTimeout        = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Transient wraps err so that it classifies as ErrTransientIO while keeping
// the original error in the chain.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransientIO, err)
}

// Malformed builds an ErrMalformedInput with a reason.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedInput, fmt.Sprintf(format, args...))
}

// Kind is the classification used to choose a delivery outcome.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindMalformed
	KindNoMatch
	KindAmbiguous
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient_io"
	case KindMalformed:
		return "malformed_input"
	case KindNoMatch:
		return "no_confident_match"
	case KindAmbiguous:
		return "ambiguous_correlation"
	default:
		return "unknown"
	}
}

// Classify maps an error onto the failure taxonomy. Network timeouts and
// context deadlines count as transient even when nobody wrapped them.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrMalformedInput):
		return KindMalformed
	case errors.Is(err, ErrNoConfidentMatch):
		return KindNoMatch
	case errors.Is(err, ErrAmbiguousCorrelation):
		return KindAmbiguous
	case IsTransient(err):
		return KindTransient
	default:
		return KindUnknown
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientIO) || errors.Is(err, ErrTimeout) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// IsTransientHTTPStatus reports whether an upstream status code should be
// retried rather than treated as "no data".
func IsTransientHTTPStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrTransientIO), errors.Is(err, ErrTimeout), errors.Is(err, ErrUnroutable), errors.Is(err, ErrPublishNacked):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
