package signing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"signflow/audit"
)

const defaultExpirationDays = 30

// Dispatcher is the notification capability consumed by the state machine.
// Implementations isolate per-recipient failures; a send failure never
// surfaces as a failure of the state transition that triggered it.
type Dispatcher interface {
	Invitations(ctx context.Context, session SigningSession)
	Completion(ctx context.Context, session SigningSession, artifactRef string)
	Declined(ctx context.Context, session SigningSession, declinerEmail, reason string)
}

// Service is the workflow state machine. It owns session lifecycle
// transitions and consumes the store, event log, and dispatcher passed in at
// construction; there are no package-level singletons.
type Service struct {
	store      Store
	events     audit.Log
	dispatcher Dispatcher
	now        func() time.Time
	sessionID  func() string
	fieldID    func() string
}

func NewService(store Store, events audit.Log, dispatcher Dispatcher) *Service {
	return &Service{
		store:      store,
		events:     events,
		dispatcher: dispatcher,
		now:        time.Now,
		sessionID:  func() string { return uuid.NewString() },
		fieldID:    func() string { return uuid.NewString() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithIDGenerators(session, field func() string) *Service {
	if session != nil {
		s.sessionID = session
	}
	if field != nil {
		s.fieldID = field
	}
	return s
}

// CreateSession constructs and persists a pending session, then sends one
// invitation per signer and logs a sent event for each.
func (s *Service) CreateSession(ctx context.Context, params CreateParams) (SigningSession, error) {
	if len(params.Signers) == 0 {
		return SigningSession{}, fmt.Errorf("%w: at least one signer required", ErrValidation)
	}
	byEmail := make(map[string]struct{}, len(params.Signers))
	for _, sp := range params.Signers {
		if sp.Email == "" {
			return SigningSession{}, fmt.Errorf("%w: signer email required", ErrValidation)
		}
		if _, dup := byEmail[sp.Email]; dup {
			return SigningSession{}, fmt.Errorf("%w: duplicate signer %s", ErrValidation, sp.Email)
		}
		byEmail[sp.Email] = struct{}{}
	}
	for _, fp := range params.Fields {
		if _, ok := byEmail[fp.SignerEmail]; !ok {
			return SigningSession{}, fmt.Errorf("%w: field %q references unknown signer %s", ErrValidation, fp.Label, fp.SignerEmail)
		}
	}

	days := params.ExpirationDays
	if days <= 0 {
		days = defaultExpirationDays
	}
	now := s.now()

	session := SigningSession{
		ID:           s.sessionID(),
		DocumentRef:  params.DocumentRef,
		DocumentName: params.DocumentName,
		DocumentURL:  params.DocumentURL,
		Status:       StatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.AddDate(0, 0, days),
		EmailSubject: params.EmailSubject,
		EmailMessage: params.EmailMessage,
	}
	for _, sp := range params.Signers {
		session.Signers = append(session.Signers, Signer{
			Email:  sp.Email,
			Name:   sp.Name,
			Role:   sp.Role,
			Status: SignerPending,
		})
	}
	for _, fp := range params.Fields {
		session.Fields = append(session.Fields, SignatureField{
			ID:          s.fieldID(),
			Kind:        fp.Kind,
			Label:       fp.Label,
			Required:    fp.Required,
			Page:        fp.Page,
			X:           fp.X,
			Y:           fp.Y,
			Width:       fp.Width,
			Height:      fp.Height,
			SignerEmail: fp.SignerEmail,
		})
	}

	if err := s.store.Insert(ctx, session); err != nil {
		return SigningSession{}, fmt.Errorf("signing: persist session: %w", err)
	}

	for i := range session.Signers {
		s.appendEvent(ctx, session.ID, session.Signers[i].Email, audit.EventSent, "", "")
	}
	s.dispatcher.Invitations(ctx, session.Clone())

	return session, nil
}

// GetSession returns a consistent snapshot of the session.
func (s *Service) GetSession(ctx context.Context, id string) (SigningSession, error) {
	return s.store.Get(ctx, id)
}

// RecordView logs that a signer opened the document. Side-effect only; the
// session status is not mutated.
func (s *Service) RecordView(ctx context.Context, sessionID, signerEmail, ip, userAgent string) error {
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.SignerByEmail(signerEmail) == nil {
		return ErrSignerNotFound
	}
	s.appendEvent(ctx, sessionID, signerEmail, audit.EventOpened, ip, userAgent)
	return nil
}

// SubmitSignature applies a signer's field values and marks them signed.
// Expiration is detected lazily here: a session past its deadline is moved to
// expired and the call fails with ErrExpired rather than ErrTerminalState.
// If this signer completes the set, the session transitions to completed
// under the same per-session lock and completion notices go out exactly once.
func (s *Service) SubmitSignature(ctx context.Context, params SubmitParams) error {
	var (
		expired   bool
		completed bool
	)
	updated, err := s.store.Mutate(ctx, params.SessionID, func(session *SigningSession) error {
		if session.Status.Terminal() {
			return ErrTerminalState
		}
		if s.now().After(session.ExpiresAt) {
			session.Status = StatusExpired
			expired = true
			return nil
		}
		signer := session.SignerByEmail(params.SignerEmail)
		if signer == nil {
			return ErrSignerNotFound
		}
		if signer.Status == SignerSigned {
			return ErrAlreadySigned
		}

		required := requiredFieldIDs(session, params.SignerEmail)
		if missing := missingFieldIDs(required, params.Values); len(missing) > 0 {
			return &IncompleteFieldsError{Missing: missing}
		}

		applyFieldValues(session, params.SignerEmail, params.Values)

		now := s.now()
		ip := params.IP
		signer.Status = SignerSigned
		signer.SignedAt = &now
		signer.SignedIP = &ip
		session.Status = StatusInProgress

		if session.AllSigned() {
			session.Status = StatusCompleted
			session.CompletedAt = &now
			completed = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	if expired {
		s.appendEvent(ctx, params.SessionID, "", audit.EventExpired, params.IP, params.UserAgent)
		return ErrExpired
	}

	s.appendEvent(ctx, params.SessionID, params.SignerEmail, audit.EventSigned, params.IP, params.UserAgent)
	if completed {
		s.dispatcher.Completion(ctx, updated, updated.DocumentRef)
	}
	return nil
}

// Decline terminates the whole session: a single decline invalidates every
// remaining signer, and each of them is notified with the reason.
func (s *Service) Decline(ctx context.Context, params DeclineParams) error {
	updated, err := s.store.Mutate(ctx, params.SessionID, func(session *SigningSession) error {
		if session.Status.Terminal() {
			return ErrTerminalState
		}
		signer := session.SignerByEmail(params.SignerEmail)
		if signer == nil {
			return ErrSignerNotFound
		}
		signer.Status = SignerDeclined
		session.Status = StatusDeclined
		return nil
	})
	if err != nil {
		return err
	}

	s.appendEvent(ctx, params.SessionID, params.SignerEmail, audit.EventDeclined, params.IP, params.UserAgent)
	s.dispatcher.Declined(ctx, updated, params.SignerEmail, params.Reason)
	return nil
}

// ExtendExpiration pushes the deadline out by additionalDays. The deadline
// only ever moves forward; extension does not resurrect a terminal session.
// Returns false when the session does not exist.
func (s *Service) ExtendExpiration(ctx context.Context, sessionID string, additionalDays int) (bool, error) {
	if additionalDays < 0 {
		return false, fmt.Errorf("%w: additional days must not be negative", ErrValidation)
	}
	_, err := s.store.Mutate(ctx, sessionID, func(session *SigningSession) error {
		session.ExpiresAt = session.ExpiresAt.AddDate(0, 0, additionalDays)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Cancel forces a non-completed session to expired. A completed session is
// immutable. Returns false when the session does not exist.
func (s *Service) Cancel(ctx context.Context, sessionID string) (bool, error) {
	var cancelled bool
	_, err := s.store.Mutate(ctx, sessionID, func(session *SigningSession) error {
		if session.Status == StatusCompleted {
			return nil
		}
		if session.Status != StatusExpired {
			session.Status = StatusExpired
			cancelled = true
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}
	if cancelled {
		s.appendEvent(ctx, sessionID, "", audit.EventExpired, "", "")
	}
	return true, nil
}

// ExpireOverdue sweeps non-terminal sessions past their deadline into
// expired, using the same per-session lock as every other transition.
// Lazy detection in SubmitSignature remains authoritative; the sweep only
// keeps stored session lists from going stale. Returns the expired ids.
func (s *Service) ExpireOverdue(ctx context.Context) ([]string, error) {
	ids, err := s.store.ListOpenBefore(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("signing: list overdue: %w", err)
	}
	var swept []string
	for _, id := range ids {
		transitioned := false
		_, err := s.store.Mutate(ctx, id, func(session *SigningSession) error {
			if session.Status.Terminal() || !s.now().After(session.ExpiresAt) {
				return nil
			}
			session.Status = StatusExpired
			transitioned = true
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				continue
			}
			return swept, err
		}
		if transitioned {
			s.appendEvent(ctx, id, "", audit.EventExpired, "", "")
			swept = append(swept, id)
		}
	}
	return swept, nil
}

// Events returns the audit trail for a session in insertion order.
func (s *Service) Events(ctx context.Context, sessionID string) ([]audit.Event, error) {
	if _, err := s.store.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.events.BySession(ctx, sessionID)
}

func (s *Service) appendEvent(ctx context.Context, sessionID, signerEmail string, eventType audit.EventType, ip, userAgent string) {
	// Event append failures must not unwind a transition that already
	// persisted; the audit.Log implementations report their own errors.
	_ = s.events.Append(ctx, audit.Event{
		SessionID:   sessionID,
		SignerEmail: signerEmail,
		Type:        eventType,
		At:          s.now(),
		IP:          ip,
		UserAgent:   userAgent,
	})
}
