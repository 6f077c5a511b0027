package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	googleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// ClientConfig holds the registered OAuth application credentials.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	// RedirectURI is the default redirect target; per-flow URIs (the CLI's
	// loopback listener) override it via AuthOptions / Exchange.
	RedirectURI string

	// Endpoint overrides for tests. Zero values mean Google.
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// AuthOptions tune a single authorization URL.
type AuthOptions struct {
	// Prompt defaults to "consent", forcing re-consent on every sign-in.
	Prompt      string
	LoginHint   string
	RedirectURI string
}

// Client drives the authorization-code exchange against the identity
// provider. It holds no per-flow state and is safe for concurrent use.
type Client struct {
	cfg         ClientConfig
	userInfoURL string
	httpc       *http.Client
	log         *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.AuthURL == "" {
		cfg.AuthURL = googleAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = googleTokenURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = googleUserInfoURL
	}
	return &Client{
		cfg:         cfg,
		userInfoURL: cfg.UserInfoURL,
		httpc:       &http.Client{Timeout: 15 * time.Second},
		log:         slog.Default().With("system", "oauth"),
	}
}

func (c *Client) oauth2Config(redirectURI string) *oauth2.Config {
	if redirectURI == "" {
		redirectURI = c.cfg.RedirectURI
	}
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.cfg.AuthURL,
			TokenURL: c.cfg.TokenURL,
		},
	}
}

// AuthorizationURL assembles the provider authorization URL. The state value
// is opaque and passed through unmodified.
func (c *Client) AuthorizationURL(state string, opts AuthOptions) string {
	prompt := opts.Prompt
	if prompt == "" {
		prompt = "consent"
	}
	params := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", prompt),
	}
	if opts.LoginHint != "" {
		params = append(params, oauth2.SetAuthURLParam("login_hint", opts.LoginHint))
	}
	return c.oauth2Config(opts.RedirectURI).AuthCodeURL(state, params...)
}

// Tokens is the provider's response to a successful code exchange.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
}

// Exchange swaps an authorization code for tokens. One network call, no
// internal retries; retry policy belongs to the caller. The redirectURI must
// match the one the code was issued against.
func (c *Client) Exchange(ctx context.Context, code, redirectURI string) (*Tokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpc)
	tok, err := c.oauth2Config(redirectURI).Exchange(ctx, code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			c.log.Error("token exchange rejected", "status", rerr.Response.StatusCode)
			return nil, fmt.Errorf("%w: %s", ErrTokenExchange, rerr.ErrorCode)
		}
		var uerr *url.Error
		if errors.As(err, &uerr) {
			c.log.Error("token endpoint unreachable", "err", err)
			return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		// a response that came back but could not be parsed is the
		// provider's failure, not a connectivity one
		c.log.Error("token response malformed", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrTokenExchange)
	}
	out := &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if idt, ok := tok.Extra("id_token").(string); ok {
		out.IDToken = idt
	}
	return out, nil
}

// Identity is the minimal authenticated identity schema.
type Identity struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	jwt.RegisteredClaims
}

// ResolveIdentity extracts the authenticated identity from an exchange
// result. A well-formed embedded ID token is decoded locally (signature
// verification happened on the provider's TLS channel we received it over);
// otherwise one authenticated userinfo call is made.
func (c *Client) ResolveIdentity(ctx context.Context, tokens *Tokens) (*Identity, error) {
	if tokens.IDToken != "" {
		if ident, err := decodeIDToken(tokens.IDToken); err == nil {
			return ident, nil
		}
		// fall through to userinfo on any decode problem
	}
	return c.fetchUserInfo(ctx, tokens.AccessToken)
}

func decodeIDToken(raw string) (*Identity, error) {
	var claims idTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, err
	}
	ident := &Identity{
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Picture:       claims.Picture,
	}
	if err := validateIdentity(ident); err != nil {
		return nil, err
	}
	return ident, nil
}

func (c *Client) fetchUserInfo(ctx context.Context, accessToken string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.log.Error("userinfo endpoint unreachable", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Error("userinfo request failed", "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: status %d", ErrUserInfo, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	var ident Identity
	if err := json.Unmarshal(body, &ident); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := validateIdentity(&ident); err != nil {
		return nil, err
	}
	return &ident, nil
}

func validateIdentity(ident *Identity) error {
	if ident.Subject == "" {
		return fmt.Errorf("%w: empty subject", ErrInvalidResponse)
	}
	if _, err := mail.ParseAddress(ident.Email); err != nil {
		return fmt.Errorf("%w: invalid email", ErrInvalidResponse)
	}
	return nil
}
