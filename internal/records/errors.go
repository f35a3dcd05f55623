package records

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNetwork       = errors.New("record store unreachable")
	ErrAuth          = errors.New("not authorized")
	ErrNotFound      = errors.New("record not found")
	ErrInvalidRecord = errors.New("invalid record")
)

// HTTPError is a non-2xx response from the store. It matches ErrAuth,
// ErrNotFound or ErrNetwork depending on the status code.
type HTTPError struct {
	StatusCode    int
	Code          string
	Message       string
	CorrelationID string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrAuth:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrNetwork:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	}
	return false
}

// NetworkError wraps a transport failure: refused connection, reset, or
// timeout before a response arrived.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

type NotFoundError struct {
	Collection string
	ID         string
	Term       string
}

func (e *NotFoundError) Error() string {
	switch {
	case e.Term != "":
		return fmt.Sprintf("no %s match %q", e.Collection, e.Term)
	case e.ID != "":
		return fmt.Sprintf("%s record %s not found", e.Collection, e.ID)
	}
	return fmt.Sprintf("%s record not found", e.Collection)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

type InvalidRecordError struct {
	Collection string
	Err        error
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid %s record: %v", e.Collection, e.Err)
}

func (e *InvalidRecordError) Unwrap() error {
	return e.Err
}

func (e *InvalidRecordError) Is(target error) bool {
	return target == ErrInvalidRecord
}

// IsRetryable reports whether err is a transient failure worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}
