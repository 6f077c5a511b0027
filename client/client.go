// Package client is the JSON/HTTP client for the lectern API, used by the
// CLI and by integration tests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lectern-app/lectern/util/cliutil"
)

var ErrUnauthorized = errors.New("authentication required")

// APIError is a structured error response from the server.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed: %s (HTTP %d)", e.Code, e.StatusCode)
}

type Client struct {
	Host      string
	AuthToken string
	HTTP      *http.Client
}

func NewClient(host string) *Client {
	httpc := cliutil.NewHttpClient()
	httpc.Timeout = 30 * time.Second
	return &Client{
		Host: host,
		HTTP: httpc,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Host+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		_ = json.Unmarshal(raw, apiErr)
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	DisplayName    *string   `json:"displayName"`
	ProfilePicture *string   `json:"profilePicture"`
	CreatedAt      time.Time `json:"createdAt"`
	LastSignInAt   time.Time `json:"lastSignInAt"`
}

type InitiateResult struct {
	AuthURL string `json:"authUrl"`
	State   string `json:"state"`
}

// Initiate starts a sign-in. redirectURI is the loopback listener address
// for browser flows; empty for the server's default redirect.
func (c *Client) Initiate(ctx context.Context, redirectURI string) (*InitiateResult, error) {
	var out InitiateResult
	err := c.do(ctx, http.MethodPost, "/v1/auth/initiate", map[string]string{
		"redirectUri": redirectURI,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type CallbackResult struct {
	User    User `json:"user"`
	Session struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
	} `json:"session"`
	IsNewUser   bool   `json:"isNewUser"`
	RedirectURI string `json:"redirectUri"`
}

// Callback forwards the provider redirect payload for session issuance.
func (c *Client) Callback(ctx context.Context, code, state string) (*CallbackResult, error) {
	var out CallbackResult
	err := c.do(ctx, http.MethodPost, "/v1/auth/callback", map[string]string{
		"code":  code,
		"state": state,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshSession extends the session behind token and returns its new expiry.
// Implements the credstore refresher contract.
func (c *Client) RefreshSession(ctx context.Context, token string) (time.Time, error) {
	prev := c.AuthToken
	c.AuthToken = token
	defer func() { c.AuthToken = prev }()

	var out struct {
		ExpiresAt time.Time `json:"expiresAt"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/auth/refresh", map[string]any{}, &out); err != nil {
		return time.Time{}, err
	}
	return out.ExpiresAt, nil
}

// SignOut terminates the current session, or every session when allSessions
// is set. Returns the count of terminated sessions.
func (c *Client) SignOut(ctx context.Context, allSessions bool) (int64, error) {
	var out struct {
		TerminatedSessions int64 `json:"terminatedSessions"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/auth/signout", map[string]bool{
		"allSessions": allSessions,
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.TerminatedSessions, nil
}

func (c *Client) Profile(ctx context.Context) (*User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, "/v1/auth/profile", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type SessionInfo struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	UserAgent      *string   `json:"userAgent"`
	IsCurrent      bool      `json:"isCurrent"`
}

func (c *Client) Sessions(ctx context.Context) ([]SessionInfo, error) {
	var out struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/auth/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

type Bookmark struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     *string   `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c *Client) CreateBookmark(ctx context.Context, url string, title *string) (*Bookmark, error) {
	var out Bookmark
	err := c.do(ctx, http.MethodPost, "/v1/bookmarks", map[string]any{
		"url":   url,
		"title": title,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListBookmarks(ctx context.Context) ([]Bookmark, error) {
	var out struct {
		Bookmarks []Bookmark `json:"bookmarks"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/bookmarks", nil, &out); err != nil {
		return nil, err
	}
	return out.Bookmarks, nil
}

func (c *Client) DeleteBookmark(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/bookmarks/"+id, nil, nil)
}

type Feed struct {
	ID            string     `json:"id"`
	FeedURL       string     `json:"feedUrl"`
	Title         *string    `json:"title"`
	Description   *string    `json:"description"`
	SiteURL       *string    `json:"siteUrl"`
	LastFetchedAt *time.Time `json:"lastFetchedAt"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func (c *Client) SubscribeFeed(ctx context.Context, feedURL string, title *string) (*Feed, error) {
	var out Feed
	err := c.do(ctx, http.MethodPost, "/v1/feeds", map[string]any{
		"feedUrl": feedURL,
		"title":   title,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListFeeds(ctx context.Context) ([]Feed, error) {
	var out struct {
		Feeds []Feed `json:"feeds"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/feeds", nil, &out); err != nil {
		return nil, err
	}
	return out.Feeds, nil
}

func (c *Client) UnsubscribeFeed(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/feeds/"+id, nil, nil)
}
