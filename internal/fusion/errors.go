package fusion

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks a contract violation by the caller, such as a
	// sample with the wrong number of axes. The sample is rejected.
	ErrInvalidInput = errors.New("fusion: invalid input")

	// ErrInitialization marks a session that cannot start, typically because
	// a required sensor is unavailable.
	ErrInitialization = errors.New("fusion: initialization failure")

	// ErrProcessing marks a recoverable per-sample failure. The sample is
	// skipped and engine state is left as it was.
	ErrProcessing = errors.New("fusion: processing error")

	// ErrInvalidParams marks out-of-range configuration
	ErrInvalidParams = errors.New("fusion: invalid parameters")
)

func invalidAxes(n int) error {
	return fmt.Errorf("%w: expected 3 axis values, got %d", ErrInvalidInput, n)
}
