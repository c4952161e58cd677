// Package oracles holds the SQL invariants checked during the signing
// stress run. Each query returns rows only when the invariant is violated.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_completed_iff_all_signed",
			SQL: `SELECT s.id FROM signing_sessions s
                  WHERE (s.status = 'completed') <> NOT EXISTS (
                      SELECT 1 FROM session_signers g
                      WHERE g.session_id = s.id AND g.status <> 'signed')`,
		},
		{
			Name: "O2_declined_has_decliner",
			SQL: `SELECT s.id FROM signing_sessions s
                  WHERE s.status = 'declined' AND NOT EXISTS (
                      SELECT 1 FROM session_signers g
                      WHERE g.session_id = s.id AND g.status = 'declined')`,
		},
		{
			Name: "O3_signed_signer_has_timestamp",
			SQL: `SELECT g.session_id, g.email FROM session_signers g
                  WHERE g.status = 'signed' AND g.signed_at IS NULL`,
		},
		{
			Name: "O4_completion_timestamp_present",
			SQL: `SELECT id FROM signing_sessions
                  WHERE (status = 'completed') <> (completed_at IS NOT NULL)`,
		},
		{
			Name: "O5_no_duplicate_signed_events",
			SQL: `SELECT session_id, signer_email, COUNT(*) FROM signing_events
                  WHERE type = 'signed'
                  GROUP BY session_id, signer_email HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_signed_event_matches_signer_state",
			SQL: `SELECT e.session_id, e.signer_email FROM signing_events e
                  WHERE e.type = 'signed' AND NOT EXISTS (
                      SELECT 1 FROM session_signers g
                      WHERE g.session_id = e.session_id
                        AND g.email = e.signer_email
                        AND g.status = 'signed')`,
		},
	}
}

// Check runs every oracle and returns a joined error describing violations.
func Check(ctx context.Context, pool *pgxpool.Pool) error {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return fmt.Errorf("oracle %s: query: %w", o.Name, err)
		}
		violated := rows.Next()
		rows.Close()
		if violated {
			return fmt.Errorf("oracle %s violated", o.Name)
		}
	}
	return nil
}
