package signing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation signals malformed creation input; nothing is persisted.
	ErrValidation = errors.New("signing: invalid input")
	// ErrSessionNotFound is returned when no session exists for the identifier.
	ErrSessionNotFound = errors.New("signing: session not found")
	// ErrSignerNotFound is returned when the email matches no signer on the session.
	ErrSignerNotFound = errors.New("signing: signer not found")
	// ErrTerminalState signals an action against a completed, declined, or expired session.
	ErrTerminalState = errors.New("signing: session already finalized")
	// ErrExpired signals lazily detected expiration; the session is moved to
	// expired as a side effect of detection.
	ErrExpired = errors.New("signing: session expired")
	// ErrAlreadySigned signals a duplicate signing attempt by the same signer.
	ErrAlreadySigned = errors.New("signing: signer already signed")
)

// IncompleteFieldsError reports the required field ids owned by the signer
// that were absent from the submission, so the caller can re-prompt.
type IncompleteFieldsError struct {
	Missing []string
}

func (e *IncompleteFieldsError) Error() string {
	return fmt.Sprintf("signing: required fields missing: %s", strings.Join(e.Missing, ", "))
}
