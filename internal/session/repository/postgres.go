package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/althaafka/pdfhub-api/internal/session/domain"
)

const uniqueViolation = "23505"

const sessionColumns = `id, token_hash, owner_id, issued_at, expires_at, active,
	revoked_at, revocation_reason, replaced_by, ip_address, user_agent`

// PostgresLedger stores refresh sessions in the refresh_sessions table.
// Every mutation for an owner runs under pg_advisory_xact_lock on that owner id.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger returns a ledger backed by db.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// InTx runs fn in a database transaction, committing only when fn returns nil.
func (l *PostgresLedger) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &postgresTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListByOwner returns every session of ownerID, newest first.
func (l *PostgresLedger) ListByOwner(ctx context.Context, ownerID string) ([]*domain.RefreshSession, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT `+sessionColumns+`
		FROM refresh_sessions
		WHERE owner_id = $1
		ORDER BY issued_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) LockOwner(ctx context.Context, ownerID string) error {
	_, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ownerID)
	return err
}

func (t *postgresTx) Insert(ctx context.Context, s *domain.RefreshSession) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `INSERT INTO refresh_sessions
		(token_hash, owner_id, issued_at, expires_at, active, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		s.TokenHash, s.OwnerID, s.IssuedAt, s.ExpiresAt, s.Active, s.Origin.IP, s.Origin.UserAgent,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, ErrDuplicateToken
		}
		return 0, err
	}
	s.ID = id
	return id, nil
}

func (t *postgresTx) FindByToken(ctx context.Context, tokenHash string) (*domain.RefreshSession, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+sessionColumns+`
		FROM refresh_sessions
		WHERE token_hash = $1`, tokenHash)
	return scanOne(row)
}

func (t *postgresTx) FindByID(ctx context.Context, id int64) (*domain.RefreshSession, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+sessionColumns+`
		FROM refresh_sessions
		WHERE id = $1`, id)
	return scanOne(row)
}

func (t *postgresTx) ListActiveByOwner(ctx context.Context, ownerID string) ([]*domain.RefreshSession, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+sessionColumns+`
		FROM refresh_sessions
		WHERE owner_id = $1 AND active
		ORDER BY issued_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

func (t *postgresTx) DeleteMany(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM refresh_sessions WHERE id IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	return err
}

func (t *postgresTx) Save(ctx context.Context, s *domain.RefreshSession) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE refresh_sessions
		SET active = $2, revoked_at = $3, revocation_reason = $4, replaced_by = $5
		WHERE id = $1`,
		s.ID, s.Active, timeToNullTime(s.RevokedAt), stringToNull(s.RevocationReason), int64ToNull(s.ReplacedBy),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row rowScanner) (*domain.RefreshSession, error) {
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func scanSessions(rows *sql.Rows) ([]*domain.RefreshSession, error) {
	defer rows.Close()
	var out []*domain.RefreshSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSession(row rowScanner) (*domain.RefreshSession, error) {
	var (
		s          domain.RefreshSession
		revokedAt  sql.NullTime
		reason     sql.NullString
		replacedBy sql.NullInt64
	)
	if err := row.Scan(
		&s.ID, &s.TokenHash, &s.OwnerID, &s.IssuedAt, &s.ExpiresAt, &s.Active,
		&revokedAt, &reason, &replacedBy, &s.Origin.IP, &s.Origin.UserAgent,
	); err != nil {
		return nil, err
	}
	s.RevokedAt = nullTimeToPtr(revokedAt)
	s.RevocationReason = reason.String
	if replacedBy.Valid {
		id := replacedBy.Int64
		s.ReplacedBy = &id
	}
	return &s, nil
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

func stringToNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func int64ToNull(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
