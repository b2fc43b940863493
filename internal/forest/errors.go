package forest

import (
	"errors"
	"fmt"
)

// AccountError is a business precondition failure: insufficient followers,
// unusable credentials, a permanent guild join failure. It aborts the current
// account and is never retried.
type AccountError struct {
	Reason string
	Err    error
}

func (e *AccountError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *AccountError) Unwrap() error { return e.Err }

func accountErrorf(format string, args ...any) error {
	return &AccountError{Reason: fmt.Sprintf(format, args...)}
}

func accountError(reason string, err error) error {
	return &AccountError{Reason: reason, Err: err}
}

// IsAccountError reports whether err should abort only the current account.
func IsAccountError(err error) bool {
	var ae *AccountError
	return errors.As(err, &ae)
}
