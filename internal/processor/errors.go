package processor

import (
	"errors"
	"fmt"
)

// permanentError marks failures that no retry can fix: business-rule
// rejections and payloads that can never import. The scheduler retires
// these immediately instead of burning retry budget.
type permanentError struct {
	msg string
	err error
}

func (e *permanentError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *permanentError) Unwrap() error { return e.err }

// permanent wraps an error as non-retryable
func permanent(err error, msg string) error {
	return &permanentError{msg: msg, err: err}
}

// permanentf creates a non-retryable error from a format string
func permanentf(format string, args ...any) error {
	return &permanentError{msg: fmt.Sprintf(format, args...)}
}

// isPermanent reports whether err is marked non-retryable
func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
