package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lectern-app/lectern/models"
	"github.com/lectern-app/lectern/oauth"
	"github.com/lectern-app/lectern/session"
)

// providerDeniedCode is the OAuth error code meaning the user declined the
// consent screen.
const providerDeniedCode = "access_denied"

// Service is the sign-in orchestrator: it composes the state codec, the
// provider client, the session store and the user table into the
// initiate -> callback -> session issuance protocol.
type Service struct {
	db       *gorm.DB
	sessions *session.Store
	provider *oauth.Client
	secret   []byte
	log      *slog.Logger
}

func NewService(db *gorm.DB, sessions *session.Store, provider *oauth.Client, secret []byte) *Service {
	return &Service{
		db:       db,
		sessions: sessions,
		provider: provider,
		secret:   secret,
		log:      slog.Default().With("system", "auth"),
	}
}

type InitiateResult struct {
	AuthURL string `json:"authUrl"`
	State   string `json:"state"`
}

// Initiate mints and persists a state record and builds the provider
// authorization URL. redirectURI is the caller's post-login redirect (the
// CLI's loopback listener); empty means the server default.
func (s *Service) Initiate(ctx context.Context, redirectURI string) (*InitiateResult, error) {
	rec := oauth.IssueState(s.secret, redirectURI)
	if err := s.sessions.StoreOAuthState(ctx, rec); err != nil {
		return nil, err
	}
	authURL := s.provider.AuthorizationURL(rec.Value, oauth.AuthOptions{
		RedirectURI: redirectURI,
	})
	s.log.Info("sign-in initiated", "hasRedirectURI", redirectURI != "")
	return &InitiateResult{AuthURL: authURL, State: rec.Value}, nil
}

type CallbackInput struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	UserAgent        string
	IPAddress        string
}

type CallbackResult struct {
	User             *models.User
	SessionToken     string
	SessionExpiresAt time.Time
	IsNewUser        bool
	RedirectURI      string
}

// HandleCallback runs the provider redirect to a terminal outcome. State is
// consumed (read-and-delete) before the HMAC check so a forged record can
// never be left live in storage by a failed verification.
func (s *Service) HandleCallback(ctx context.Context, in CallbackInput) (*CallbackResult, error) {
	if in.Error == providerDeniedCode {
		// user declined; does not consume state
		return nil, reject(CodeProviderDenied,
			"You declined to sign in. You can try again whenever you're ready.", nil)
	}
	if in.Error != "" {
		return nil, reject(CodeExchangeFailed,
			"Sign-in failed. Please try again.", fmt.Errorf("provider error: %s: %s", in.Error, in.ErrorDescription))
	}

	rec, err := s.sessions.TakeOAuthState(ctx, in.State)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		s.log.Warn("oauth state absent or expired")
		return nil, reject(CodeStateExpired,
			"Your sign-in session has expired. Please try signing in again.", nil)
	}
	if !oauth.VerifyState(*rec, s.secret) {
		s.log.Warn("oauth state failed verification")
		return nil, reject(CodeStateInvalid,
			"Invalid authentication request. Please try signing in again.", nil)
	}

	tokens, err := s.provider.Exchange(ctx, in.Code, rec.RedirectURI)
	if err != nil {
		if errors.Is(err, oauth.ErrNetwork) {
			return nil, reject(CodeProviderUnavailable,
				"We couldn't reach the sign-in provider. Please try again in a few moments.", err)
		}
		return nil, reject(CodeExchangeFailed,
			"Failed to complete sign-in. Please try again.", err)
	}

	ident, err := s.provider.ResolveIdentity(ctx, tokens)
	if err != nil {
		if errors.Is(err, oauth.ErrNetwork) {
			return nil, reject(CodeProviderUnavailable,
				"We couldn't reach the sign-in provider. Please try again in a few moments.", err)
		}
		return nil, reject(CodeIdentityFailed,
			"Failed to retrieve your profile. Please try again.", err)
	}

	user, isNew, err := s.upsertUser(ctx, ident)
	if err != nil {
		return nil, err
	}

	var userAgent, ipHash *string
	if in.UserAgent != "" {
		userAgent = &in.UserAgent
	}
	if in.IPAddress != "" {
		h := oauth.HashIP(in.IPAddress, s.secret)
		ipHash = &h
	}
	sess, err := s.sessions.CreateSession(ctx, user.ID, userAgent, ipHash)
	if err != nil {
		return nil, err
	}

	s.log.Info("sign-in complete", "userID", user.ID, "isNewUser", isNew)
	return &CallbackResult{
		User:             user,
		SessionToken:     sess.Token,
		SessionExpiresAt: sess.ExpiresAt,
		IsNewUser:        isNew,
		RedirectURI:      rec.RedirectURI,
	}, nil
}

// upsertUser looks the principal up by provider subject, creating on first
// sight. A duplicate-key failure on create is a benign race with a concurrent
// callback and is retried as a lookup.
func (s *Service) upsertUser(ctx context.Context, ident *oauth.Identity) (*models.User, bool, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("google_id = ?", ident.Subject).First(&user).Error
	if err == nil {
		if err := s.db.WithContext(ctx).Model(&user).
			Update("last_sign_in_at", time.Now()).Error; err != nil {
			return nil, false, fmt.Errorf("updating last sign-in: %w", err)
		}
		return &user, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("looking up user: %w", err)
	}

	now := time.Now()
	user = models.User{
		ID:           uuid.NewString(),
		GoogleID:     ident.Subject,
		Email:        ident.Email,
		CreatedAt:    now,
		LastSignInAt: now,
	}
	if ident.Name != "" {
		name := ident.Name
		user.DisplayName = &name
	}
	if ident.Picture != "" {
		pic := ident.Picture
		user.ProfilePicture = &pic
	}
	err = s.db.WithContext(ctx).Create(&user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		var existing models.User
		if lerr := s.db.WithContext(ctx).Where("google_id = ?", ident.Subject).First(&existing).Error; lerr != nil {
			return nil, false, fmt.Errorf("re-reading user after duplicate key: %w", lerr)
		}
		return &existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("creating user: %w", err)
	}
	s.log.Info("user created", "userID", user.ID)
	return &user, true, nil
}

// Refresh unconditionally extends the session by the fixed duration.
// Idempotent; the only failure beyond storage errors is an unknown session.
func (s *Service) Refresh(ctx context.Context, sessionID string) (time.Time, error) {
	newExpiry, err := s.sessions.Extend(ctx, sessionID, session.Duration)
	if errors.Is(err, session.ErrSessionNotFound) {
		return time.Time{}, reject(CodeSessionNotFound, "Session not found.", err)
	}
	if err != nil {
		return time.Time{}, err
	}
	return newExpiry, nil
}

// SignOut deletes the current session, or every session of the user when
// allSessions is set. Returns the number of sessions terminated.
func (s *Service) SignOut(ctx context.Context, userID, sessionID string, allSessions bool) (int64, error) {
	if allSessions {
		return s.sessions.DeleteAllForUser(ctx, userID)
	}
	err := s.sessions.Delete(ctx, sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return 0, reject(CodeSessionNotFound, "Session not found.", err)
	}
	if err != nil {
		return 0, err
	}
	return 1, nil
}

// Profile returns the public profile of an authenticated user.
func (s *Service) Profile(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, reject(CodeSessionNotFound, "User not found.", err)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	return &user, nil
}

// Sessions lists the user's live sessions for the "active sessions" view.
func (s *Service) Sessions(ctx context.Context, userID string) ([]models.Session, error) {
	return s.sessions.ListForUser(ctx, userID)
}
