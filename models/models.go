package models

import (
	"time"
)

// User is an authenticated principal, keyed by the Google OIDC subject.
type User struct {
	ID             string `gorm:"type:uuid;primarykey"`
	GoogleID       string `gorm:"uniqueIndex;size:255"`
	Email          string `gorm:"index;size:255"`
	DisplayName    *string
	ProfilePicture *string
	CreatedAt      time.Time
	LastSignInAt   time.Time
}

// Session is one authenticated device/browser instance. The token is the
// bearer secret presented on every request; it is returned to the caller
// exactly once, at creation.
type Session struct {
	ID             string `gorm:"type:uuid;primarykey"`
	UserID         string `gorm:"type:uuid;index"`
	Token          string `gorm:"uniqueIndex;size:512"`
	CreatedAt      time.Time
	ExpiresAt      time.Time `gorm:"index"`
	LastActivityAt time.Time
	UserAgent      *string
	// one-way HMAC of the originating IP, never the raw address
	IPAddressHash *string `gorm:"size:64"`
}

type Bookmark struct {
	ID        string `gorm:"type:uuid;primarykey"`
	UserID    string `gorm:"type:uuid;index:idx_bookmark_user_url,unique"`
	URL       string `gorm:"index:idx_bookmark_user_url,unique"`
	Title     *string
	CreatedAt time.Time
}

type Feed struct {
	ID             string `gorm:"type:uuid;primarykey"`
	UserID         string `gorm:"type:uuid;index:idx_feed_user_url,unique"`
	FeedURL        string `gorm:"index:idx_feed_user_url,unique"`
	Title          *string
	Description    *string
	SiteURL        *string
	LastFetchedAt  *time.Time
	LastFetchError *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
