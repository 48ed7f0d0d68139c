package ledger

import (
	"errors"
	"fmt"
)

var ErrParticipantOutOfRange = errors.New("participant index out of range")

// ValidationError reports rejected input. State is never modified when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
