package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lectern-app/lectern/models"
	"github.com/lectern-app/lectern/oauth"
)

const (
	// Duration is the fixed lifetime of a freshly created or refreshed session.
	Duration = 24 * time.Hour

	// ExtensionThreshold is the remaining lifetime below which an active
	// session gets silently renewed.
	ExtensionThreshold = time.Hour

	// StateTTL bounds the window between initiating a sign-in and the
	// provider redirect coming back.
	StateTTL = 600 * time.Second

	// cacheTTL for session entries; must not exceed the session lifetime.
	cacheTTL = time.Hour

	sessionKeyPrefix = "session:"
	stateKeyPrefix   = "oauth_state:"
)

var ErrSessionNotFound = errors.New("session not found")

// Store owns durable session rows plus the cache-aside index keyed by token.
// The durable store is authoritative; the cache is strictly an accelerator
// and is invalidated, never updated in place, on every write path.
type Store struct {
	db    *gorm.DB
	cache CacheStore
	log   *slog.Logger
}

func NewStore(db *gorm.DB, cache CacheStore) *Store {
	return &Store{
		db:    db,
		cache: cache,
		log:   slog.Default().With("system", "session"),
	}
}

func generateToken() string {
	raw := make([]byte, 32)
	rand.Read(raw)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// CreateSession writes one durable row and populates the cache entry for its
// token. This is the only point at which the raw token leaves the store.
func (s *Store) CreateSession(ctx context.Context, userID string, userAgent, ipHash *string) (*models.Session, error) {
	now := time.Now()
	sess := &models.Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		Token:          generateToken(),
		CreatedAt:      now,
		ExpiresAt:      now.Add(Duration),
		LastActivityAt: now,
		UserAgent:      userAgent,
		IPAddressHash:  ipHash,
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	s.cacheSession(ctx, sess)
	s.log.Info("session created", "sessionID", sess.ID, "userID", userID)
	return sess, nil
}

func (s *Store) cacheSession(ctx context.Context, sess *models.Session) {
	blob, err := json.Marshal(sess)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, sessionKeyPrefix+sess.Token, string(blob), cacheTTL); err != nil {
		sessionCacheErrors.Inc()
		s.log.Warn("session cache write failed", "err", err)
	}
}

// GetByToken is the cache-first lookup. A token matching an expired durable
// row is absent, regardless of cache state; absence is (nil, nil).
func (s *Store) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	cached, err := s.cache.Get(ctx, sessionKeyPrefix+token)
	if err != nil {
		// cache outage degrades latency, never correctness
		sessionCacheErrors.Inc()
		s.log.Warn("session cache read failed", "err", err)
	} else if cached != "" {
		var sess models.Session
		if err := json.Unmarshal([]byte(cached), &sess); err == nil {
			if time.Now().Before(sess.ExpiresAt) {
				sessionCacheHits.Inc()
				return &sess, nil
			}
			_ = s.cache.Purge(ctx, sessionKeyPrefix+token)
		}
	}
	sessionCacheMisses.Inc()

	var sess models.Session
	err = s.db.WithContext(ctx).
		Where("token = ? AND expires_at > ?", token, time.Now()).
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up session: %w", err)
	}
	s.cacheSession(ctx, &sess)
	return &sess, nil
}

// Extend pushes expiry and last-activity forward by d from now, and
// invalidates the cache entry so the next lookup re-reads the durable row.
func (s *Store) Extend(ctx context.Context, sessionID string, d time.Duration) (time.Time, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).Where("id = ?", sessionID).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, ErrSessionNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("looking up session: %w", err)
	}

	now := time.Now()
	newExpiry := now.Add(d)
	err = s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"expires_at":       newExpiry,
			"last_activity_at": now,
		}).Error
	if err != nil {
		return time.Time{}, fmt.Errorf("extending session: %w", err)
	}
	if err := s.cache.Purge(ctx, sessionKeyPrefix+sess.Token); err != nil {
		sessionCacheErrors.Inc()
		s.log.Warn("session cache purge failed", "err", err)
	}
	s.log.Debug("session extended", "sessionID", sessionID)
	return newExpiry, nil
}

// Delete removes one session and its cache entry.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	var sess models.Session
	err := s.db.WithContext(ctx).Where("id = ?", sessionID).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up session: %w", err)
	}
	if err := s.db.WithContext(ctx).Delete(&models.Session{}, "id = ?", sessionID).Error; err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if err := s.cache.Purge(ctx, sessionKeyPrefix+sess.Token); err != nil {
		sessionCacheErrors.Inc()
		s.log.Warn("session cache purge failed", "err", err)
	}
	s.log.Info("session deleted", "sessionID", sessionID)
	return nil
}

// DeleteAllForUser is the "sign out everywhere" path. Returns the number of
// sessions removed.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	var sessions []models.Session
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&sessions).Error; err != nil {
		return 0, fmt.Errorf("listing user sessions: %w", err)
	}
	res := s.db.WithContext(ctx).Delete(&models.Session{}, "user_id = ?", userID)
	if res.Error != nil {
		return 0, fmt.Errorf("deleting user sessions: %w", res.Error)
	}
	for _, sess := range sessions {
		if err := s.cache.Purge(ctx, sessionKeyPrefix+sess.Token); err != nil {
			sessionCacheErrors.Inc()
			s.log.Warn("session cache purge failed", "err", err)
		}
	}
	s.log.Info("all user sessions deleted", "userID", userID, "count", res.RowsAffected)
	return res.RowsAffected, nil
}

// ListForUser returns the user's non-expired sessions ordered by recency of
// activity.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, time.Now()).
		Order("last_activity_at desc").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("listing user sessions: %w", err)
	}
	return sessions, nil
}

// StoreOAuthState persists a state record for its TTL. State lives only in
// the cache tier, so a cache failure here is an error, not a degradation.
func (s *Store) StoreOAuthState(ctx context.Context, rec oauth.StateRecord) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.cache.Set(ctx, stateKeyPrefix+rec.Value, string(blob), StateTTL); err != nil {
		return fmt.Errorf("storing oauth state: %w", err)
	}
	return nil
}

// TakeOAuthState consumes a state record: read-and-delete in one operation,
// closing the replay window. Absent (expired or already consumed) is
// (nil, nil).
func (s *Store) TakeOAuthState(ctx context.Context, value string) (*oauth.StateRecord, error) {
	blob, err := s.cache.Take(ctx, stateKeyPrefix+value)
	if err != nil {
		return nil, fmt.Errorf("taking oauth state: %w", err)
	}
	if blob == "" {
		return nil, nil
	}
	var rec oauth.StateRecord
	if err := json.Unmarshal([]byte(blob), &rec); err != nil {
		return nil, fmt.Errorf("decoding oauth state: %w", err)
	}
	return &rec, nil
}

// SweepExpired removes expired durable rows. Their cache entries, if any,
// have shorter TTLs and age out on their own.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&models.Session{}, "expires_at <= ?", time.Now())
	if res.Error != nil {
		return 0, fmt.Errorf("sweeping expired sessions: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		sessionsSwept.Add(float64(res.RowsAffected))
		s.log.Info("expired sessions swept", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
