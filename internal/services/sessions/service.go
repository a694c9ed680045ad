package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gatewaylabs/bffgate/backend/internal/domain/enums"
	"github.com/gatewaylabs/bffgate/backend/internal/domain/model"
)

const (
	DefaultIdleActivity     = 30 * time.Minute
	DefaultRetentionHorizon = 720 * time.Hour

	revokeFanOutLimit = 8
)

type Config struct {
	// IdleActivity is how stale a session's recorded activity may get before
	// the next request forces a durable write.
	IdleActivity time.Duration
	// RetentionHorizon is how long an active session may sit idle, or past
	// its refresh expiry, before cleanup marks it expired.
	RetentionHorizon time.Duration
}

// Service owns session lifecycle: creation, activity tracking, revocation
// and cleanup. Reads go through the redis projection where possible.
type Service struct {
	store      SessionStore
	projection ProjectionCache
	tokens     AccessTokenInvalidator
	marker     RevocationMarker
	notifier   Notifier
	logger     *zap.Logger

	idleActivity     time.Duration
	retentionHorizon time.Duration
	now              func() time.Time
}

func New(store SessionStore, projection ProjectionCache, tokens AccessTokenInvalidator, marker RevocationMarker, logger *zap.Logger, cfg Config) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IdleActivity <= 0 {
		cfg.IdleActivity = DefaultIdleActivity
	}
	if cfg.RetentionHorizon <= 0 {
		cfg.RetentionHorizon = DefaultRetentionHorizon
	}

	return &Service{
		store:            store,
		projection:       projection,
		tokens:           tokens,
		marker:           marker,
		logger:           logger,
		idleActivity:     cfg.IdleActivity,
		retentionHorizon: cfg.RetentionHorizon,
		now:              time.Now,
	}
}

// AttachNotifier enables user notifications for bulk revocations.
func (s *Service) AttachNotifier(n Notifier) {
	s.notifier = n
}

// AttachTokenInvalidator swaps the token invalidation hook. The coordinator
// implements it but is constructed after the service, since each needs the
// other.
func (s *Service) AttachTokenInvalidator(inv AccessTokenInvalidator) {
	if inv != nil {
		s.tokens = inv
	}
}

func (s *Service) CreateSession(ctx context.Context, params CreateParams) (model.Session, error) {
	if strings.TrimSpace(params.UserID) == "" || strings.TrimSpace(params.DeviceID) == "" {
		return model.Session{}, fmt.Errorf("user id and device id are required: %w", ErrInvalidInput)
	}
	if params.RefreshTokenHash == "" {
		return model.Session{}, fmt.Errorf("refresh token hash is required: %w", ErrInvalidInput)
	}

	now := s.now()
	session := model.Session{
		ID:                    uuid.NewString(),
		UserID:                params.UserID,
		DeviceID:              params.DeviceID,
		Status:                enums.SessionStatusActive,
		CreatedAt:             now,
		LastActivityAt:        now,
		RefreshTokenHash:      params.RefreshTokenHash,
		RefreshTokenExpiresAt: params.RefreshTokenExpiresAt,
	}
	if v := strings.TrimSpace(params.DeviceName); v != "" {
		session.DeviceName = &v
	}
	if v := strings.TrimSpace(params.UserAgent); v != "" {
		session.UserAgent = &v
	}
	if v := strings.TrimSpace(params.IPAddress); v != "" {
		session.IPAddress = &v
	}

	if err := s.store.Create(ctx, session); err != nil {
		return model.Session{}, fmt.Errorf("create session: %w", err)
	}

	if err := s.projection.Put(ctx, projectionOf(session)); err != nil {
		s.logger.Warn("failed to seed session projection",
			zap.String("session_id", session.ID), zap.Error(err))
	}

	return session, nil
}

// GetSession loads the durable record. A miss is reported via the bool, not
// an error, so callers can distinguish absence from store failure.
func (s *Service) GetSession(ctx context.Context, sessionID string) (model.Session, bool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return model.Session{}, false, fmt.Errorf("session id is required: %w", ErrInvalidInput)
	}

	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return model.Session{}, false, nil
		}
		return model.Session{}, false, fmt.Errorf("get session: %w", err)
	}

	if session.Status == enums.SessionStatusActive {
		if err := s.projection.Put(ctx, projectionOf(session)); err != nil {
			s.logger.Warn("failed to refresh session projection",
				zap.String("session_id", session.ID), zap.Error(err))
		}
	}

	return session, true, nil
}

// UpdateActivity records activity lazily: the projection absorbs frequent
// requests and postgres only sees a write once the recorded activity is older
// than the idle threshold.
func (s *Service) UpdateActivity(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required: %w", ErrInvalidInput)
	}

	now := s.now()

	info, err := s.projection.Get(ctx, sessionID)
	if err == nil {
		if info.Status != enums.SessionStatusActive {
			return nil
		}
		info.LastActivityAt = now
		if now.Sub(info.ActivitySyncedAt) < s.idleActivity {
			// Absorbed: only the projection timestamp moves.
			if err := s.projection.Put(ctx, info); err != nil {
				s.logger.Warn("failed to bump session projection activity",
					zap.String("session_id", sessionID), zap.Error(err))
			}
			return nil
		}

		if err := s.store.TouchActivity(ctx, sessionID, now); err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				return nil
			}
			return fmt.Errorf("touch activity: %w", err)
		}

		info.ActivitySyncedAt = now
		if err := s.projection.Put(ctx, info); err != nil {
			s.logger.Warn("failed to update session projection",
				zap.String("session_id", sessionID), zap.Error(err))
		}
		return nil
	}

	if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("failed to read session projection",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	if err := s.store.TouchActivity(ctx, sessionID, now); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return fmt.Errorf("touch activity: %w", err)
	}

	// Projection miss: reload the durable record rather than fabricate an
	// entry with guessed fields. GetSession repopulates the projection.
	if _, _, err := s.GetSession(ctx, sessionID); err != nil {
		s.logger.Warn("failed to repopulate session projection",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	return nil
}

// IsSessionValid answers from the projection when it can; a cache miss falls
// back to postgres and repopulates the projection.
func (s *Service) IsSessionValid(ctx context.Context, sessionID string) (bool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return false, fmt.Errorf("session id is required: %w", ErrInvalidInput)
	}

	info, err := s.projection.Get(ctx, sessionID)
	if err == nil {
		return s.infoValid(info), nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("failed to read session projection",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	session, found, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return s.infoValid(projectionOf(session)), nil
}

// RevokeSession is idempotent: revoking a missing or already terminal session
// is a no-op. Markers and cache invalidation happen even on repeat calls so a
// crash between store write and cleanup cannot leave a usable token behind.
func (s *Service) RevokeSession(ctx context.Context, sessionID, reason string, notifyUser bool) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required: %w", ErrInvalidInput)
	}

	session, err := s.store.Revoke(ctx, sessionID, reason, s.now())
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.marker.MarkRevoked(sessionID)
			if cacheErr := s.projection.Invalidate(ctx, sessionID); cacheErr != nil {
				s.logger.Warn("failed to invalidate session projection",
					zap.String("session_id", sessionID), zap.Error(cacheErr))
			}
			return nil
		}
		return fmt.Errorf("revoke session: %w", err)
	}

	s.marker.MarkRevoked(sessionID)
	if err := s.projection.Invalidate(ctx, sessionID); err != nil {
		s.logger.Warn("failed to invalidate session projection",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	s.tokens.Invalidate(session.UserID, sessionID)

	s.logger.Info("session revoked",
		zap.String("session_id", sessionID),
		zap.String("user_id", session.UserID),
		zap.String("reason", reason))

	if notifyUser && s.notifier != nil {
		s.notifier.NotifySessionsRevoked(ctx, session.UserID, reason, 1)
	}

	return nil
}

// RevokeAllSessions revokes every active session the user has. Individual
// failures are logged and counted, not allowed to abort the sweep.
func (s *Service) RevokeAllSessions(ctx context.Context, userID, reason string, notifyUser bool) (int, error) {
	return s.revokeMany(ctx, userID, "", reason, notifyUser)
}

// RevokeOtherSessions revokes every active session except the current one.
func (s *Service) RevokeOtherSessions(ctx context.Context, userID, currentSessionID, reason string, notifyUser bool) (int, error) {
	if strings.TrimSpace(currentSessionID) == "" {
		return 0, fmt.Errorf("current session id is required: %w", ErrInvalidInput)
	}
	return s.revokeMany(ctx, userID, currentSessionID, reason, notifyUser)
}

func (s *Service) revokeMany(ctx context.Context, userID, keepSessionID, reason string, notifyUser bool) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("user id is required: %w", ErrInvalidInput)
	}

	active, err := s.store.GetActiveByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}

	var (
		group   errgroup.Group
		mu      sync.Mutex
		revoked int
		failed  int
	)
	group.SetLimit(revokeFanOutLimit)

	for _, session := range active {
		if session.ID == keepSessionID {
			continue
		}
		group.Go(func() error {
			err := s.RevokeSession(ctx, session.ID, reason, false)
			mu.Lock()
			if err != nil {
				failed++
				s.logger.Error("failed to revoke session in fan-out",
					zap.String("session_id", session.ID), zap.Error(err))
			} else {
				revoked++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	if notifyUser && s.notifier != nil && revoked > 0 {
		s.notifier.NotifySessionsRevoked(ctx, userID, reason, revoked)
	}

	if failed > 0 {
		return revoked, fmt.Errorf("revoked %d sessions, %d failed", revoked, failed)
	}
	return revoked, nil
}

func (s *Service) ListSessions(ctx context.Context, userID string) ([]model.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required: %w", ErrInvalidInput)
	}

	list, err := s.store.GetByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return list, nil
}

// RotateRefreshHash swaps the stored hash only if oldHash still matches, and
// drops the projection so the next read sees the rotated record.
func (s *Service) RotateRefreshHash(ctx context.Context, sessionID, oldHash, newHash string, expiresAt *time.Time) error {
	if strings.TrimSpace(sessionID) == "" || oldHash == "" || newHash == "" {
		return fmt.Errorf("session id and hashes are required: %w", ErrInvalidInput)
	}

	if err := s.store.RotateRefreshHash(ctx, sessionID, oldHash, newHash, expiresAt); err != nil {
		return err
	}

	if err := s.projection.Invalidate(ctx, sessionID); err != nil {
		s.logger.Warn("failed to invalidate session projection after rotation",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	return nil
}

// CleanupExpiredSessions marks active sessions expired once they are past the
// retention horizon, either by refresh expiry or by inactivity, and clears
// their cached state.
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retentionHorizon)

	expired, err := s.store.MarkExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark expired sessions: %w", err)
	}

	for _, session := range expired {
		if err := s.projection.Invalidate(ctx, session.ID); err != nil {
			s.logger.Warn("failed to invalidate projection for expired session",
				zap.String("session_id", session.ID), zap.Error(err))
		}
		s.tokens.Invalidate(session.UserID, session.ID)
	}

	if len(expired) > 0 {
		s.logger.Info("expired sessions cleaned up", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}

func (s *Service) infoValid(info SessionInfo) bool {
	if info.Status != enums.SessionStatusActive {
		return false
	}
	if !info.RefreshTokenExpiresAt.IsZero() && !info.RefreshTokenExpiresAt.After(s.now()) {
		return false
	}
	return true
}

func projectionOf(session model.Session) SessionInfo {
	info := SessionInfo{
		SessionID:        session.ID,
		UserID:           session.UserID,
		Status:           session.Status,
		LastActivityAt:   session.LastActivityAt,
		ActivitySyncedAt: session.LastActivityAt,
	}
	if session.RefreshTokenExpiresAt != nil {
		info.RefreshTokenExpiresAt = *session.RefreshTokenExpiresAt
	}
	return info
}
