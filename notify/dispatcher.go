// Package notify formats and delivers invitation, completion, and decline
// notices through an injected Notifier capability.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"signflow/access"
	"signflow/signing"
)

// Notifier is the abstract outbound message capability. No transport or
// format is mandated.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, recipient, subject, body string) error

func (f NotifierFunc) Send(ctx context.Context, recipient, subject, body string) error {
	return f(ctx, recipient, subject, body)
}

const maxConcurrentSends = 8

// Dispatcher fans notices out to signers. Each recipient is an independent
// delivery: a failure is logged and never aborts the remaining recipients,
// and never propagates to the state transition that triggered it. There are
// no retries; a failed send is terminal for that recipient.
type Dispatcher struct {
	notifier Notifier
	codec    access.Codec
	baseURL  string
	log      zerolog.Logger
}

func NewDispatcher(notifier Notifier, codec access.Codec, baseURL string, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		codec:    codec,
		baseURL:  baseURL,
		log:      log,
	}
}

// Invitations sends one signing invitation per signer, each carrying that
// signer's personal access link.
func (d *Dispatcher) Invitations(ctx context.Context, session signing.SigningSession) {
	subject := session.EmailSubject
	if subject == "" {
		subject = fmt.Sprintf("Signature requested: %s", session.DocumentName)
	}

	d.fanOut(ctx, session.ID, session.Signers, func(signer signing.Signer) (string, string, error) {
		link, err := access.SigningLink(d.baseURL, session.ID, signer.Email, d.codec)
		if err != nil {
			return "", "", err
		}
		body := session.EmailMessage
		if body == "" {
			body = fmt.Sprintf("Hello %s,\n\nYou have been asked to sign %q.", signer.Name, session.DocumentName)
		}
		body += fmt.Sprintf("\n\nReview and sign here: %s\nThis request expires on %s.",
			link, session.ExpiresAt.Format("Jan 2, 2006"))
		return subject, body, nil
	})
}

// Completion sends one completion notice to every signer.
func (d *Dispatcher) Completion(ctx context.Context, session signing.SigningSession, artifactRef string) {
	subject := fmt.Sprintf("Completed: %s", session.DocumentName)
	d.fanOut(ctx, session.ID, session.Signers, func(signer signing.Signer) (string, string, error) {
		body := fmt.Sprintf("Hello %s,\n\nAll parties have signed %q. Document reference: %s.",
			signer.Name, session.DocumentName, artifactRef)
		return subject, body, nil
	})
}

// Declined notifies every signer other than the decliner, carrying the reason.
func (d *Dispatcher) Declined(ctx context.Context, session signing.SigningSession, declinerEmail, reason string) {
	subject := fmt.Sprintf("Declined: %s", session.DocumentName)
	var recipients []signing.Signer
	for _, signer := range session.Signers {
		if signer.Email != declinerEmail {
			recipients = append(recipients, signer)
		}
	}
	d.fanOut(ctx, session.ID, recipients, func(signer signing.Signer) (string, string, error) {
		body := fmt.Sprintf("Hello %s,\n\n%s declined to sign %q.\nReason: %s\n\nThe signing request has been closed.",
			signer.Name, declinerEmail, session.DocumentName, reason)
		return subject, body, nil
	})
}

// fanOut runs one send per recipient concurrently. A failure to compose a
// message is reported the same way as a failure to deliver one.
func (d *Dispatcher) fanOut(ctx context.Context, sessionID string, recipients []signing.Signer, compose func(signing.Signer) (string, string, error)) {
	g := &errgroup.Group{}
	g.SetLimit(maxConcurrentSends)
	for _, signer := range recipients {
		signer := signer
		g.Go(func() error {
			subject, body, err := compose(signer)
			if err == nil {
				err = d.notifier.Send(ctx, signer.Email, subject, body)
			}
			if err != nil {
				d.log.Error().
					Err(err).
					Str("session_id", sessionID).
					Str("recipient", signer.Email).
					Msg("notification delivery failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}
