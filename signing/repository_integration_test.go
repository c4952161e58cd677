package signing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"signflow/audit"
)

// TestPGStore_Integration connects to a real PostgreSQL via DATABASE_URL and
// verifies the store round-trip, the row-locked mutation path, and the
// append-only event log.
func TestPGStore_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, tbl := range []string{"signing_sessions", "session_signers", "signature_fields", "signing_events"} {
		if !tableExists(ctx, t, pool, tbl) {
			t.Skipf("table %s missing; apply migrations/001_init.sql first", tbl)
		}
	}

	store := NewPGStore(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)
	sessionID := uuid.NewString()
	fieldID := uuid.NewString()

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		_, _ = pool.Exec(ctx2, `DELETE FROM signing_events WHERE session_id = $1`, sessionID)
		_, _ = pool.Exec(ctx2, `DELETE FROM signature_fields WHERE session_id = $1`, sessionID)
		_, _ = pool.Exec(ctx2, `DELETE FROM session_signers WHERE session_id = $1`, sessionID)
		_, _ = pool.Exec(ctx2, `DELETE FROM signing_sessions WHERE id = $1`, sessionID)
	})

	session := SigningSession{
		ID:           sessionID,
		DocumentRef:  "doc-ref",
		DocumentName: "Integration Agreement",
		Status:       StatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.AddDate(0, 0, 30),
		Signers: []Signer{
			{Email: fmt.Sprintf("a+%d@example.com", now.UnixNano()), Name: "Alice", Status: SignerPending},
		},
	}
	session.Fields = []SignatureField{
		{ID: fieldID, Kind: FieldSignature, Label: "sig", Required: true, Page: 1, SignerEmail: session.Signers[0].Email},
	}

	if err := store.Insert(ctx, session); err != nil {
		t.Fatalf("insert: %v", err)
	}

	loaded, err := store.Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != StatusPending || len(loaded.Signers) != 1 || len(loaded.Fields) != 1 {
		t.Fatalf("unexpected round-trip: %+v", loaded)
	}
	if !loaded.ExpiresAt.Equal(session.ExpiresAt) {
		t.Fatalf("expected deadline %v, got %v", session.ExpiresAt, loaded.ExpiresAt)
	}

	signerEmail := session.Signers[0].Email
	updated, err := store.Mutate(ctx, sessionID, func(s *SigningSession) error {
		signer := s.SignerByEmail(signerEmail)
		if signer == nil {
			return ErrSignerNotFound
		}
		signedAt := now.Add(time.Minute)
		ip := "203.0.113.9"
		signer.Status = SignerSigned
		signer.SignedAt = &signedAt
		signer.SignedIP = &ip
		val := "Alice"
		s.Fields[0].Value = &val
		s.Status = StatusCompleted
		s.CompletedAt = &signedAt
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if updated.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", updated.Status)
	}

	reloaded, err := store.Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("get after mutate: %v", err)
	}
	if reloaded.Status != StatusCompleted || reloaded.CompletedAt == nil {
		t.Fatalf("mutation not persisted: %+v", reloaded)
	}
	if reloaded.Fields[0].Value == nil || *reloaded.Fields[0].Value != "Alice" {
		t.Fatalf("field value not persisted: %+v", reloaded.Fields[0])
	}
	if reloaded.Signers[0].Status != SignerSigned || reloaded.Signers[0].SignedIP == nil {
		t.Fatalf("signer state not persisted: %+v", reloaded.Signers[0])
	}

	// A failed callback must roll the transaction back.
	boom := errors.New("boom")
	if _, err := store.Mutate(ctx, sessionID, func(s *SigningSession) error {
		s.Status = StatusDeclined
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	unchanged, _ := store.Get(ctx, sessionID)
	if unchanged.Status != StatusCompleted {
		t.Fatalf("rolled-back mutation leaked: %s", unchanged.Status)
	}

	if _, err := store.Get(ctx, uuid.NewString()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	// Event log round-trip against the same database.
	log := audit.NewPGLog(pool)
	for _, typ := range []audit.EventType{audit.EventSent, audit.EventSigned} {
		if err := log.Append(ctx, audit.Event{
			SessionID:   sessionID,
			SignerEmail: signerEmail,
			Type:        typ,
			At:          now,
			IP:          "203.0.113.9",
			UserAgent:   "integration-test",
		}); err != nil {
			t.Fatalf("append %s: %v", typ, err)
		}
	}
	events, err := log.BySession(ctx, sessionID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(events) != 2 || events[0].Type != audit.EventSent || events[1].Type != audit.EventSigned {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
