package credstore

import (
	"context"
	"log/slog"
	"time"
)

// RefreshThreshold is the remaining-lifetime window in which a still-valid
// token gets proactively refreshed.
const RefreshThreshold = time.Hour

func IsExpired(acct *StoredAccount) bool {
	return !acct.ExpiresAt.After(time.Now())
}

func IsExpiringSoon(acct *StoredAccount) bool {
	return !acct.ExpiresAt.After(time.Now().Add(RefreshThreshold))
}

// Refresher extends the server-side session for a token and returns the new
// expiry.
type Refresher interface {
	RefreshSession(ctx context.Context, token string) (time.Time, error)
}

// GetValidAccount returns the active account with a usable token, refreshing
// it when it is inside the threshold window. A failed refresh of a
// still-valid token returns the stale account rather than failing; only an
// expired token yields nil.
func GetValidAccount(ctx context.Context, store Store, refresher Refresher) (*StoredAccount, error) {
	log := slog.Default().With("system", "credstore")

	acct, err := store.GetActive()
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, nil
	}
	if IsExpired(acct) {
		log.Info("session token expired")
		return nil, nil
	}
	if !IsExpiringSoon(acct) {
		return acct, nil
	}

	log.Info("session token expiring soon, refreshing")
	newExpiry, err := refresher.RefreshSession(ctx, acct.SessionToken)
	if err != nil {
		log.Warn("session refresh failed, using current token", "err", err)
		return acct, nil
	}
	acct.ExpiresAt = newExpiry
	if err := store.Save(*acct); err != nil {
		log.Warn("persisting refreshed expiry failed", "err", err)
	}
	return acct, nil
}
