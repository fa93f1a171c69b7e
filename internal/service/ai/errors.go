package ai

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
)

// ErrExternalService matches every gateway failure that surfaced after the
// retry policy gave up.
var ErrExternalService = errors.New("external service error")

// ExternalServiceError wraps the last backend error of a failed call.
type ExternalServiceError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrExternalService) match.
func (e *ExternalServiceError) Is(target error) bool {
	return target == ErrExternalService
}

// StatusError carries the HTTP status returned by a backend.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("backend returned HTTP %d: %s", e.Code, e.Message)
}

// StatusCode returns the HTTP status.
func (e *StatusError) StatusCode() int { return e.Code }

var statusPattern = regexp.MustCompile(`(?i)(?:status(?:\s*code)?|http)\s*[:=]?\s*(\d{3})\b`)

// StatusOf extracts an HTTP status from err, or 0 when none is known.
func StatusOf(err error) int {
	if err == nil {
		return 0
	}
	var coded interface{ StatusCode() int }
	if errors.As(err, &coded) {
		return coded.StatusCode()
	}
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil && code >= 100 && code < 600 {
			return code
		}
	}
	return 0
}

// classify turns a provider error into a *StatusError when the status can be
// recovered from its text, keeping the original error as the message.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) {
		return err
	}
	if code := StatusOf(err); code != 0 {
		return fmt.Errorf("%w (%s)", &StatusError{Code: code, Message: http.StatusText(code)}, err.Error())
	}
	return err
}
