package fork

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned when a fork option receives an absent
// collection, an unusable element, or a malformed command-line token.
var ErrInvalidArgument = errors.New("invalid argument")

// ArgumentError describes which argument of which operation was rejected.
type ArgumentError struct {
	// Op is the operation that rejected the argument (e.g. "SetAllJvmArgs").
	Op string `json:"op"`

	// Arg names the offending argument or token.
	Arg string `json:"arg,omitempty"`

	// Reason is the human-readable cause.
	Reason string `json:"reason"`
}

// Error implements the error interface.
func (e *ArgumentError) Error() string {
	if e.Arg != "" {
		return fmt.Sprintf("%s: invalid argument %q: %s", e.Op, e.Arg, e.Reason)
	}
	return fmt.Sprintf("%s: invalid argument: %s", e.Op, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidArgument.
func (e *ArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

func invalidArgument(op, arg, reason string) *ArgumentError {
	return &ArgumentError{Op: op, Arg: arg, Reason: reason}
}

// IsInvalidArgument reports whether err was caused by a rejected argument.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}
