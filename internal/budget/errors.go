package budget

import "errors"

var (
	// ErrBudgetExceeded blocks a paid call because a ceiling was reached.
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrRetryable marks a transient or malformed-response failure worth retrying.
	ErrRetryable = errors.New("retryable provider error")
	// ErrRetriesExhausted is returned once every allowed attempt failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable)
}
