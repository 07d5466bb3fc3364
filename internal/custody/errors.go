package custody

import "errors"

var (
	// ErrInvalidAmount occurs on zero or negative amount requests.
	ErrInvalidAmount = errors.New("custody: amount must be positive")

	// ErrGlobalCapExceeded occurs when a deposit would push the tracked
	// bank-wide exposure strictly above the configured cap.
	ErrGlobalCapExceeded = errors.New("custody: global exposure cap exceeded")

	// ErrPerTxLimitExceeded occurs when a withdrawal's converted value
	// exceeds the converted per-transaction limit.
	ErrPerTxLimitExceeded = errors.New("custody: per-transaction withdrawal limit exceeded")

	// ErrStaleOrInvalidFeed occurs when a bound feed returns a degenerate
	// answer: non-positive price, zero update timestamp, or zero round id.
	ErrStaleOrInvalidFeed = errors.New("custody: stale or invalid price feed answer")

	// ErrReentrantCall occurs when an external call made during an operation
	// re-enters a mutating operation on the same service.
	ErrReentrantCall = errors.New("custody: reentrant call rejected")
)
