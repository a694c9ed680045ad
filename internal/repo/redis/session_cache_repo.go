package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatewaylabs/bffgate/backend/internal/domain/enums"
	"github.com/gatewaylabs/bffgate/backend/internal/services/sessions"
)

const sessionInfoPrefix = "session_info:"

// SessionCacheRepo stores the hot session projection as redis hashes with a
// TTL, so stale entries age out on their own.
type SessionCacheRepo struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionCacheRepo(client *redis.Client, ttl time.Duration) *SessionCacheRepo {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionCacheRepo{client: client, ttl: ttl}
}

func (r *SessionCacheRepo) Get(ctx context.Context, sessionID string) (sessions.SessionInfo, error) {
	values, err := r.client.HGetAll(ctx, sessionInfoPrefix+sessionID).Result()
	if err != nil {
		return sessions.SessionInfo{}, fmt.Errorf("hgetall session info: %w", err)
	}
	if len(values) == 0 {
		return sessions.SessionInfo{}, sessions.ErrCacheMiss
	}

	info := sessions.SessionInfo{
		SessionID: sessionID,
		UserID:    values["user_id"],
		Status:    enums.SessionStatus(values["status"]),
	}
	if info.LastActivityAt, err = parseUnix(values["last_activity_at"]); err != nil {
		return sessions.SessionInfo{}, fmt.Errorf("parse last_activity_at: %w", err)
	}
	if info.ActivitySyncedAt, err = parseUnix(values["activity_synced_at"]); err != nil {
		return sessions.SessionInfo{}, fmt.Errorf("parse activity_synced_at: %w", err)
	}
	if raw := values["refresh_expires_at"]; raw != "" && raw != "0" {
		if info.RefreshTokenExpiresAt, err = parseUnix(raw); err != nil {
			return sessions.SessionInfo{}, fmt.Errorf("parse refresh_expires_at: %w", err)
		}
	}
	return info, nil
}

func (r *SessionCacheRepo) Put(ctx context.Context, info sessions.SessionInfo) error {
	if info.SessionID == "" {
		return sessions.ErrInvalidInput
	}

	fields := map[string]any{
		"user_id":          info.UserID,
		"status":           string(info.Status),
		"last_activity_at": info.LastActivityAt.Unix(),
	}
	if !info.ActivitySyncedAt.IsZero() {
		fields["activity_synced_at"] = info.ActivitySyncedAt.Unix()
	} else {
		fields["activity_synced_at"] = 0
	}
	if !info.RefreshTokenExpiresAt.IsZero() {
		fields["refresh_expires_at"] = info.RefreshTokenExpiresAt.Unix()
	} else {
		fields["refresh_expires_at"] = 0
	}

	key := sessionInfoPrefix + info.SessionID
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session info: %w", err)
	}
	return nil
}

func (r *SessionCacheRepo) Invalidate(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, sessionInfoPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("delete session info: %w", err)
	}
	return nil
}

func parseUnix(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if sec == 0 {
		return time.Time{}, nil
	}
	return time.Unix(sec, 0).UTC(), nil
}
