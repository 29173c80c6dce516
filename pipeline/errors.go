package pipeline

import "errors"

// permanentError marks a business-logic failure that must not be retried:
// the stage routes straight to a terminal branch.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the retry loop gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked
// permanent. Everything else is treated as transient and retried.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
