// Package postgres stores API credentials in the api_credentials table.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"stagepass/internal/credential"
	id "stagepass/pkg/domain"
	"stagepass/pkg/platform/sentinel"
	txcontext "stagepass/pkg/platform/tx"
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const credentialColumns = `id, display_name, environment, hashed_secret, owner_id, scopes, expires_at, last_used_at, created_at`

func (s *Store) Create(ctx context.Context, c *credential.Credential) error {
	_, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO api_credentials (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.UUID(c.ID),
		c.DisplayName,
		string(c.Environment),
		c.HashedSecret,
		uuid.UUID(c.OwnerID),
		pq.Array(c.Scopes),
		c.ExpiresAt,
		c.LastUsedAt,
		c.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert credential: %w", sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (s *Store) FindByHash(ctx context.Context, hashedSecret string) (*credential.Credential, error) {
	row := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM api_credentials WHERE hashed_secret = $1`, hashedSecret)
	return scanCredential(row)
}

func (s *Store) FindByID(ctx context.Context, credentialID id.CredentialID) (*credential.Credential, error) {
	row := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM api_credentials WHERE id = $1`, uuid.UUID(credentialID))
	return scanCredential(row)
}

func (s *Store) ListByOwner(ctx context.Context, ownerID id.PrincipalID) ([]*credential.Credential, error) {
	rows, err := txcontext.ExecutorFor(ctx, s.db).QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM api_credentials WHERE owner_id = $1 ORDER BY created_at`,
		uuid.UUID(ownerID))
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	var out []*credential.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return out, nil
}

// TouchLastUsed is a single unconditional UPDATE, so concurrent touches
// resolve as last-write-wins without locking.
func (s *Store) TouchLastUsed(ctx context.Context, credentialID id.CredentialID, at time.Time) error {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx,
		`UPDATE api_credentials SET last_used_at = $2 WHERE id = $1`, uuid.UUID(credentialID), at)
	if err != nil {
		return fmt.Errorf("touch credential: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) Delete(ctx context.Context, credentialID id.CredentialID) error {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx,
		`DELETE FROM api_credentials WHERE id = $1`, uuid.UUID(credentialID))
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return requireAffected(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(row scanner) (*credential.Credential, error) {
	var (
		c                   credential.Credential
		credID, ownerID     uuid.UUID
		env                 string
		expiresAt, lastUsed sql.NullTime
	)
	err := row.Scan(&credID, &c.DisplayName, &env, &c.HashedSecret, &ownerID,
		pq.Array(&c.Scopes), &expiresAt, &lastUsed, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	c.ID = id.CredentialID(credID)
	c.OwnerID = id.PrincipalID(ownerID)
	c.Environment = credential.Environment(env)
	if expiresAt.Valid {
		t := expiresAt.Time
		c.ExpiresAt = &t
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		c.LastUsedAt = &t
	}
	return &c, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
