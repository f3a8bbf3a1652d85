// Package postgres persists the audit trail in the audit_events table.
// The table is append-only: this package has no UPDATE or DELETE path.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	audit "stagepass/pkg/platform/audit"
	txcontext "stagepass/pkg/platform/tx"
)

// Store implements audit.Publisher over PostgreSQL.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const insertEvent = `
	INSERT INTO audit_events (
		stream, sequence, type, category, principal_id, masked_email, masked_ip,
		resource, action, success, error_message, details, request_id,
		timestamp, prev_hash, hash
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
`

// Publish appends a sealed batch atomically. The key is (stream, sequence);
// a duplicate fails the whole batch instead of being silently skipped.
func (s *Store) Publish(ctx context.Context, events []audit.Event) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.ExecutorFor(ctx, s.db)
		for _, e := range events {
			details, err := marshalDetails(e.Details)
			if err != nil {
				return err
			}
			_, err = exec.ExecContext(ctx, insertEvent,
				e.Stream,
				int64(e.Sequence), //nolint:gosec // sequences start at 1 and never approach 2^63
				string(e.Type),
				string(e.Category()),
				nullString(e.PrincipalID),
				nullString(e.MaskedEmail),
				nullString(e.MaskedIP),
				nullString(e.Resource),
				nullString(e.Action),
				e.Success,
				nullString(e.ErrorMessage),
				details,
				nullString(e.RequestID),
				e.Timestamp,
				e.PrevHash,
				e.Hash,
			)
			if err != nil {
				return fmt.Errorf("insert audit event %s/%d: %w", e.Stream, e.Sequence, err)
			}
		}
		return nil
	})
}

// Head returns the newest sequence and hash of stream so a restarted sink
// can resume its chain.
func (s *Store) Head(ctx context.Context, stream string) (uint64, string, error) {
	var (
		seq  int64
		hash string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT sequence, hash FROM audit_events WHERE stream = $1 ORDER BY sequence DESC LIMIT 1`,
		stream,
	).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("query audit head: %w", err)
	}
	return uint64(seq), hash, nil //nolint:gosec // stored sequences are positive
}

const selectColumns = `
	SELECT stream, sequence, type, principal_id, masked_email, masked_ip,
		   resource, action, success, error_message, details, request_id,
		   timestamp, prev_hash, hash
	FROM audit_events
`

// ListByPrincipal returns a principal's events across all streams, oldest
// first.
func (s *Store) ListByPrincipal(ctx context.Context, principalID string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+`WHERE principal_id = $1 ORDER BY timestamp, stream, sequence`, principalID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListRange returns up to limit events of stream starting at sequence from,
// the unit VerifyChain works on.
func (s *Store) ListRange(ctx context.Context, stream string, from uint64, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+`WHERE stream = $1 AND sequence >= $2 ORDER BY sequence LIMIT $3`,
		stream, int64(from), limit, //nolint:gosec // see Publish
	)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			e                                      audit.Event
			seq                                    int64
			typ                                    string
			principal, email, ip, resource, action sql.NullString
			errMsg, requestID                      sql.NullString
			details                                []byte
		)
		if err := rows.Scan(
			&e.Stream, &seq, &typ, &principal, &email, &ip,
			&resource, &action, &e.Success, &errMsg, &details, &requestID,
			&e.Timestamp, &e.PrevHash, &e.Hash,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Sequence = uint64(seq) //nolint:gosec // see Head
		e.Type = audit.EventType(typ)
		e.PrincipalID = principal.String
		e.MaskedEmail = email.String
		e.MaskedIP = ip.String
		e.Resource = resource.String
		e.Action = action.String
		e.ErrorMessage = errMsg.String
		e.RequestID = requestID.String
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func marshalDetails(details map[string]any) ([]byte, error) {
	if len(details) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal audit details: %w", err)
	}
	return b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
