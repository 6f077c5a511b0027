package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedIDToken(t *testing.T, sub, email string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":            sub,
		"email":          email,
		"email_verified": true,
		"name":           "Test User",
		"picture":        "https://example.com/p.png",
		"exp":            time.Now().Add(time.Hour).Unix(),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return raw
}

func TestExchangeSuccess(t *testing.T) {
	assert := assert.New(t)
	idToken := signedIDToken(t, "google-sub-1", "alice@example.com")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal("test-code", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-123",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{
		ClientID:     "cid",
		ClientSecret: "cs",
		RedirectURI:  "http://localhost/callback",
		TokenURL:     srv.URL,
	})

	tokens, err := c.Exchange(context.Background(), "test-code", "")
	require.NoError(t, err)
	assert.Equal("at-123", tokens.AccessToken)
	assert.Equal(idToken, tokens.IDToken)

	ident, err := c.ResolveIdentity(context.Background(), tokens)
	require.NoError(t, err)
	assert.Equal("google-sub-1", ident.Subject)
	assert.Equal("alice@example.com", ident.Email)
}

func TestExchangeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{TokenURL: srv.URL})
	_, err := c.Exchange(context.Background(), "bad-code", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenExchange)
	assert.NotErrorIs(t, err, ErrNetwork)
}

func TestExchangeMalformedBody(t *testing.T) {
	// a 200 response with a garbled body is the provider's failure, not a
	// connectivity one
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("{not-json"))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{TokenURL: srv.URL})
	_, err := c.Exchange(context.Background(), "code", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenExchange)
	assert.NotErrorIs(t, err, ErrNetwork)
}

func TestExchangeUnreachable(t *testing.T) {
	// a closed server looks like a network failure, not a provider rejection
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(ClientConfig{TokenURL: srv.URL})
	_, err := c.Exchange(context.Background(), "code", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestResolveIdentityUserInfoFallback(t *testing.T) {
	assert := assert.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("Bearer at-456", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"sub":   "google-sub-2",
			"email": "bob@example.com",
			"name":  "Bob",
		})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{UserInfoURL: srv.URL})
	ident, err := c.ResolveIdentity(context.Background(), &Tokens{AccessToken: "at-456"})
	require.NoError(t, err)
	assert.Equal("google-sub-2", ident.Subject)
	assert.Equal("bob@example.com", ident.Email)
}

func TestResolveIdentityInvalidProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"sub": "", "email": "nope"})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{UserInfoURL: srv.URL})
	_, err := c.ResolveIdentity(context.Background(), &Tokens{AccessToken: "at"})
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestAuthorizationURL(t *testing.T) {
	assert := assert.New(t)
	c := NewClient(ClientConfig{
		ClientID:    "cid",
		RedirectURI: "https://api.example.com/callback",
	})

	u := c.AuthorizationURL("state-abc", AuthOptions{})
	assert.Contains(u, "state=state-abc")
	assert.Contains(u, "prompt=consent")
	assert.Contains(u, "access_type=offline")

	u = c.AuthorizationURL("s", AuthOptions{
		LoginHint:   "alice@example.com",
		RedirectURI: "http://127.0.0.1:8085/callback",
	})
	assert.Contains(u, "login_hint=alice%40example.com")
	assert.Contains(u, "127.0.0.1%3A8085")
}
