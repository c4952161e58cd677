// Package actors provides the concurrent workload drivers for the signing
// stress test. Each actor hammers the workflow engine through its public
// operations only, the way independent parties would.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"signflow/signing"
)

// benign reports errors expected under contention; anything else fails the run.
func benign(err error) bool {
	var incomplete *signing.IncompleteFieldsError
	switch {
	case err == nil,
		errors.Is(err, signing.ErrAlreadySigned),
		errors.Is(err, signing.ErrTerminalState),
		errors.Is(err, signing.ErrExpired),
		errors.As(err, &incomplete):
		return true
	default:
		return false
	}
}

// Signer repeatedly tries to submit a signature for one signer until the
// attempt lands or the session reaches a terminal state.
func Signer(ctx context.Context, engine *signing.Service, sessionID, email, fieldID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		err := engine.SubmitSignature(ctx, signing.SubmitParams{
			SessionID:   sessionID,
			SignerEmail: email,
			Values:      []signing.FieldValue{{FieldID: fieldID, Value: "signed by " + email}},
			IP:          "203.0.113.7",
			UserAgent:   "stress-signer",
		})
		if !benign(err) {
			return fmt.Errorf("signer %s: %w", email, err)
		}
		if err == nil || errors.Is(err, signing.ErrAlreadySigned) || errors.Is(err, signing.ErrTerminalState) || errors.Is(err, signing.ErrExpired) {
			return nil
		}
		time.Sleep(time.Duration(5+rand.Intn(15)) * time.Millisecond)
	}
}

// Decliner declines one signer's session after a random delay, tolerating the
// race where the session completed or was declined first.
func Decliner(ctx context.Context, engine *signing.Service, sessionID, email string, stop <-chan struct{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return nil
	case <-time.After(time.Duration(rand.Intn(40)) * time.Millisecond):
	}

	err := engine.Decline(ctx, signing.DeclineParams{
		SessionID:   sessionID,
		SignerEmail: email,
		Reason:      "declined under stress",
		IP:          "203.0.113.8",
		UserAgent:   "stress-decliner",
	})
	if !benign(err) {
		return fmt.Errorf("decliner %s: %w", email, err)
	}
	return nil
}

// Viewer records views in a loop until stop closes. Views must never mutate
// session state.
func Viewer(ctx context.Context, engine *signing.Service, sessionID, email string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if err := engine.RecordView(ctx, sessionID, email, "203.0.113.9", "stress-viewer"); err != nil {
			return fmt.Errorf("viewer %s: %w", email, err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}
