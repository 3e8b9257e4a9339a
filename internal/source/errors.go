package source

import (
	"errors"
	"fmt"
)

// TransientError is a network failure, timeout or overload response that is
// worth retrying.
type TransientError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient failure on %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("transient failure on %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalAuthError means the provider rejected the credentials.
type FatalAuthError struct {
	Op     string
	Status int
}

func (e *FatalAuthError) Error() string {
	return fmt.Sprintf("authentication rejected on %s: status %d", e.Op, e.Status)
}

// MalformedResponseError means a response could not be understood, so
// pagination cannot safely continue.
type MalformedResponseError struct {
	Op  string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response on %s: %v", e.Op, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// RejectedError is a non-retryable client error other than authentication.
type RejectedError struct {
	Op     string
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("request rejected on %s: status %d: %s", e.Op, e.Status, e.Body)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsFatal reports whether err must abort a collection run without retry.
func IsFatal(err error) bool {
	var auth *FatalAuthError
	var malformed *MalformedResponseError
	var rejected *RejectedError
	return errors.As(err, &auth) || errors.As(err, &malformed) || errors.As(err, &rejected)
}

// classifyStatus maps an HTTP status to the error taxonomy. It returns nil
// for success.
func classifyStatus(op string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 401 || status == 403:
		return &FatalAuthError{Op: op, Status: status}
	case status == 408 || status == 425 || status == 429 || status >= 500:
		return &TransientError{Op: op, Status: status}
	default:
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return &RejectedError{Op: op, Status: status, Body: snippet}
	}
}
