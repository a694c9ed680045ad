package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatewaylabs/bffgate/backend/internal/domain/model"
	"github.com/gatewaylabs/bffgate/backend/internal/services/sessions"
)

const sessionColumns = `id, user_id, device_id, device_name, user_agent, ip_address,
	status, created_at, last_activity_at, revoked_at, revocation_reason,
	refresh_token_hash, refresh_token_expires_at`

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func (r *SessionRepo) Create(ctx context.Context, session model.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (
			id, user_id, device_id, device_name, user_agent, ip_address,
			status, created_at, last_activity_at, refresh_token_hash, refresh_token_expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		session.ID, session.UserID, session.DeviceID, session.DeviceName,
		session.UserAgent, session.IPAddress, session.Status,
		session.CreatedAt, session.LastActivityAt,
		session.RefreshTokenHash, session.RefreshTokenExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id string) (model.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Session{}, sessions.ErrSessionNotFound
		}
		return model.Session{}, fmt.Errorf("select session: %w", err)
	}
	return session, nil
}

func (r *SessionRepo) GetByUser(ctx context.Context, userID string) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = $1 ORDER BY last_activity_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("select sessions by user: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

func (r *SessionRepo) GetActiveByUser(ctx context.Context, userID string) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = $1 AND status = 'active' ORDER BY last_activity_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("select active sessions: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

func (r *SessionRepo) TouchActivity(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET last_activity_at = $2
		WHERE id = $1 AND status = 'active'`, id, at)
	if err != nil {
		return fmt.Errorf("touch session activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sessions.ErrSessionNotFound
	}
	return nil
}

// Revoke flips an active session to revoked and returns the updated record.
// Already terminal sessions report ErrSessionNotFound so callers can treat
// repeat revocations as no-ops.
func (r *SessionRepo) Revoke(ctx context.Context, id, reason string, at time.Time) (model.Session, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE sessions
		SET status = 'revoked', revoked_at = $2, revocation_reason = $3
		WHERE id = $1 AND status = 'active'
		RETURNING `+sessionColumns, id, at, reason)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Session{}, sessions.ErrSessionNotFound
		}
		return model.Session{}, fmt.Errorf("revoke session: %w", err)
	}
	return session, nil
}

// RotateRefreshHash performs a compare-and-swap on the stored hash. The
// WHERE clause is the whole concurrency story: only the caller holding the
// current hash rotates, everyone else gets ErrHashMismatch.
func (r *SessionRepo) RotateRefreshHash(ctx context.Context, id, oldHash, newHash string, expiresAt *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET refresh_token_hash = $3, refresh_token_expires_at = $4
		WHERE id = $1 AND refresh_token_hash = $2 AND status = 'active'`,
		id, oldHash, newHash, expiresAt)
	if err != nil {
		return fmt.Errorf("rotate refresh hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check session existence: %w", err)
		}
		if !exists {
			return sessions.ErrSessionNotFound
		}
		return sessions.ErrHashMismatch
	}
	return nil
}

func (r *SessionRepo) MarkExpiredBefore(ctx context.Context, cutoff time.Time) ([]sessions.ExpiredSession, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE sessions
		SET status = 'expired'
		WHERE status = 'active'
		  AND (refresh_token_expires_at < $1 OR last_activity_at < $1)
		RETURNING id, user_id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("mark expired sessions: %w", err)
	}
	defer rows.Close()

	var expired []sessions.ExpiredSession
	for rows.Next() {
		var e sessions.ExpiredSession
		if err := rows.Scan(&e.ID, &e.UserID); err != nil {
			return nil, fmt.Errorf("scan expired session: %w", err)
		}
		expired = append(expired, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return expired, nil
}

func scanSession(row pgx.Row) (model.Session, error) {
	var s model.Session
	err := row.Scan(
		&s.ID, &s.UserID, &s.DeviceID, &s.DeviceName, &s.UserAgent, &s.IPAddress,
		&s.Status, &s.CreatedAt, &s.LastActivityAt, &s.RevokedAt, &s.RevocationReason,
		&s.RefreshTokenHash, &s.RefreshTokenExpiresAt,
	)
	return s, err
}

func scanSessions(rows pgx.Rows) ([]model.Session, error) {
	var out []model.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}
