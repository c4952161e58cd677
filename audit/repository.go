package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGLog implements Log backed by the append-only signing_events table.
type PGLog struct {
	pool *pgxpool.Pool
}

func NewPGLog(pool *pgxpool.Pool) *PGLog {
	return &PGLog{pool: pool}
}

func (l *PGLog) Append(ctx context.Context, event Event) error {
	const insertSQL = `
		INSERT INTO signing_events (session_id, signer_email, type, occurred_at, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := l.pool.Exec(ctx, insertSQL,
		event.SessionID,
		event.SignerEmail,
		string(event.Type),
		event.At,
		event.IP,
		event.UserAgent,
	); err != nil {
		return fmt.Errorf("audit: append event: %w", err)
	}
	return nil
}

func (l *PGLog) BySession(ctx context.Context, sessionID string) ([]Event, error) {
	const selectSQL = `
		SELECT id, session_id, signer_email, type, occurred_at, ip, user_agent
		FROM signing_events
		WHERE session_id = $1
		ORDER BY id
	`
	rows, err := l.pool.Query(ctx, selectSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e   Event
			typ string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.SignerEmail, &typ, &e.At, &e.IP, &e.UserAgent); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.Type = EventType(typ)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate events: %w", err)
	}
	return events, nil
}
