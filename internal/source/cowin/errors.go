package cowin

import (
	"errors"
	"fmt"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	URL  string
	Body string // first bytes of the response body
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("cowin: HTTP %d from %s: %s", e.Code, e.URL, e.Body)
	}
	return fmt.Sprintf("cowin: HTTP %d from %s", e.Code, e.URL)
}

// ParseError is returned when a response body does not have the expected shape.
type ParseError struct {
	Field string // JSON path of the offending field, empty for syntax errors
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("cowin: malformed response at %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("cowin: malformed response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var errMissing = errors.New("missing required field")

// IsParseError reports whether err is (or wraps) a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// IsStatusError reports whether err is (or wraps) a StatusError.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
