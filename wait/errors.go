package wait

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is matched by *TimeoutError.
var ErrTimeout = errors.New("timed out")

// TimeoutError means a condition did not hold before its timeout.
type TimeoutError struct {
	Condition string
	Elapsed   time.Duration

	// LastErr is the most recent error seen while evaluating the condition, if any.
	LastErr error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %s waiting for %s", e.Elapsed, e.Condition)
	if e.LastErr != nil {
		msg += fmt.Sprintf(" (last error: %s)", e.LastErr)
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func (e *TimeoutError) Unwrap() error { return e.LastErr }
