package signing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements Store backed by PostgreSQL. Single-writer-per-session
// is enforced with a row lock on the session row: Mutate holds
// SELECT ... FOR UPDATE for the duration of the callback, so the signer
// transition and completion detection commit atomically.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Insert(ctx context.Context, session SigningSession) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("signing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const sessionSQL = `
		INSERT INTO signing_sessions (id, document_ref, document_name, document_url, status, created_at, expires_at, completed_at, email_subject, email_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := tx.Exec(ctx, sessionSQL,
		session.ID,
		session.DocumentRef,
		session.DocumentName,
		session.DocumentURL,
		string(session.Status),
		session.CreatedAt,
		session.ExpiresAt,
		session.CompletedAt,
		session.EmailSubject,
		session.EmailMessage,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("signing: duplicate session id %s", session.ID)
		}
		return fmt.Errorf("signing: insert session: %w", err)
	}

	const signerSQL = `
		INSERT INTO session_signers (session_id, position, email, name, role, status, signed_at, signed_ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for i, signer := range session.Signers {
		if _, err := tx.Exec(ctx, signerSQL,
			session.ID, i, signer.Email, signer.Name, signer.Role, string(signer.Status), signer.SignedAt, signer.SignedIP,
		); err != nil {
			return fmt.Errorf("signing: insert signer %s: %w", signer.Email, err)
		}
	}

	const fieldSQL = `
		INSERT INTO signature_fields (id, session_id, position, kind, label, required, page, x, y, width, height, signer_email, value, signature_image)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	for i, f := range session.Fields {
		if _, err := tx.Exec(ctx, fieldSQL,
			f.ID, session.ID, i, string(f.Kind), f.Label, f.Required, f.Page, f.X, f.Y, f.Width, f.Height, f.SignerEmail, f.Value, f.SignatureImage,
		); err != nil {
			return fmt.Errorf("signing: insert field %s: %w", f.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("signing: commit insert: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id string) (SigningSession, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return SigningSession{}, fmt.Errorf("signing: begin read tx: %w", err)
	}
	defer tx.Rollback(ctx)

	session, err := loadSession(ctx, tx, id, false)
	if err != nil {
		return SigningSession{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return SigningSession{}, fmt.Errorf("signing: commit read: %w", err)
	}
	return session, nil
}

func (s *PGStore) Mutate(ctx context.Context, id string, fn func(*SigningSession) error) (SigningSession, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return SigningSession{}, fmt.Errorf("signing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	session, err := loadSession(ctx, tx, id, true)
	if err != nil {
		return SigningSession{}, err
	}

	if err := fn(&session); err != nil {
		return SigningSession{}, err
	}

	if err := writeBack(ctx, tx, session); err != nil {
		return SigningSession{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return SigningSession{}, fmt.Errorf("signing: commit mutate: %w", err)
	}
	return session, nil
}

func (s *PGStore) ListOpenBefore(ctx context.Context, t time.Time) ([]string, error) {
	const listSQL = `
		SELECT id FROM signing_sessions
		WHERE status IN ('pending', 'in_progress') AND expires_at < $1
		ORDER BY expires_at
	`
	rows, err := s.pool.Query(ctx, listSQL, t)
	if err != nil {
		return nil, fmt.Errorf("signing: list open sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("signing: scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("signing: iterate session ids: %w", err)
	}
	return ids, nil
}

func loadSession(ctx context.Context, tx pgx.Tx, id string, forUpdate bool) (SigningSession, error) {
	sessionSQL := `
		SELECT id, document_ref, document_name, document_url, status, created_at, expires_at, completed_at, email_subject, email_message
		FROM signing_sessions
		WHERE id = $1
	`
	if forUpdate {
		sessionSQL += " FOR UPDATE"
	}

	var (
		session SigningSession
		status  string
	)
	if err := tx.QueryRow(ctx, sessionSQL, id).Scan(
		&session.ID,
		&session.DocumentRef,
		&session.DocumentName,
		&session.DocumentURL,
		&status,
		&session.CreatedAt,
		&session.ExpiresAt,
		&session.CompletedAt,
		&session.EmailSubject,
		&session.EmailMessage,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SigningSession{}, ErrSessionNotFound
		}
		return SigningSession{}, fmt.Errorf("signing: load session: %w", err)
	}
	session.Status = SessionStatus(status)

	const signersSQL = `
		SELECT email, name, role, status, signed_at, signed_ip
		FROM session_signers
		WHERE session_id = $1
		ORDER BY position
	`
	rows, err := tx.Query(ctx, signersSQL, id)
	if err != nil {
		return SigningSession{}, fmt.Errorf("signing: load signers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			signer       Signer
			signerStatus string
		)
		if err := rows.Scan(&signer.Email, &signer.Name, &signer.Role, &signerStatus, &signer.SignedAt, &signer.SignedIP); err != nil {
			return SigningSession{}, fmt.Errorf("signing: scan signer: %w", err)
		}
		signer.Status = SignerStatus(signerStatus)
		session.Signers = append(session.Signers, signer)
	}
	if err := rows.Err(); err != nil {
		return SigningSession{}, fmt.Errorf("signing: iterate signers: %w", err)
	}
	rows.Close()

	const fieldsSQL = `
		SELECT id, kind, label, required, page, x, y, width, height, signer_email, value, signature_image
		FROM signature_fields
		WHERE session_id = $1
		ORDER BY position
	`
	fieldRows, err := tx.Query(ctx, fieldsSQL, id)
	if err != nil {
		return SigningSession{}, fmt.Errorf("signing: load fields: %w", err)
	}
	defer fieldRows.Close()
	for fieldRows.Next() {
		var (
			f    SignatureField
			kind string
		)
		if err := fieldRows.Scan(&f.ID, &kind, &f.Label, &f.Required, &f.Page, &f.X, &f.Y, &f.Width, &f.Height, &f.SignerEmail, &f.Value, &f.SignatureImage); err != nil {
			return SigningSession{}, fmt.Errorf("signing: scan field: %w", err)
		}
		f.Kind = FieldKind(kind)
		session.Fields = append(session.Fields, f)
	}
	if err := fieldRows.Err(); err != nil {
		return SigningSession{}, fmt.Errorf("signing: iterate fields: %w", err)
	}

	return session, nil
}

func writeBack(ctx context.Context, tx pgx.Tx, session SigningSession) error {
	const sessionSQL = `
		UPDATE signing_sessions
		SET status = $2, expires_at = $3, completed_at = $4
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, sessionSQL, session.ID, string(session.Status), session.ExpiresAt, session.CompletedAt); err != nil {
		return fmt.Errorf("signing: update session: %w", err)
	}

	const signerSQL = `
		UPDATE session_signers
		SET status = $3, signed_at = $4, signed_ip = $5
		WHERE session_id = $1 AND email = $2
	`
	for _, signer := range session.Signers {
		if _, err := tx.Exec(ctx, signerSQL, session.ID, signer.Email, string(signer.Status), signer.SignedAt, signer.SignedIP); err != nil {
			return fmt.Errorf("signing: update signer %s: %w", signer.Email, err)
		}
	}

	const fieldSQL = `
		UPDATE signature_fields
		SET value = $2, signature_image = $3
		WHERE id = $1
	`
	for _, f := range session.Fields {
		if _, err := tx.Exec(ctx, fieldSQL, f.ID, f.Value, f.SignatureImage); err != nil {
			return fmt.Errorf("signing: update field %s: %w", f.ID, err)
		}
	}

	return nil
}
