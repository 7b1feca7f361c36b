package async

import (
	"fmt"

	"github.com/teranos/upilookup/errors"
)

// ControlError is returned when a control call is not valid in the current
// run state. The state is left unchanged.
type ControlError struct {
	Op     string    // start, pause, resume, cancel, reset
	From   RunStatus // status at the time of the call
	Reason string    // optional detail
}

func (e *ControlError) Error() string {
	msg := fmt.Sprintf("cannot %s run while %s", e.Op, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Unwrap lets errors.Is(err, errors.ErrInvalidTransition) match.
func (e *ControlError) Unwrap() error {
	return errors.ErrInvalidTransition
}

func rejected(op string, from RunStatus) error {
	return &ControlError{Op: op, From: from}
}

// AsControlError extracts a ControlError from err.
func AsControlError(err error) (*ControlError, bool) {
	var ce *ControlError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
