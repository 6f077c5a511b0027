package oauth

import "errors"

var (
	// ErrNetwork indicates the provider could not be reached at all. Retryable
	// by the caller; this package never retries internally.
	ErrNetwork = errors.New("identity provider unreachable")

	// ErrTokenExchange indicates the provider rejected the authorization code
	// exchange (non-success status or a body that failed to parse).
	ErrTokenExchange = errors.New("token exchange failed")

	// ErrUserInfo indicates the userinfo endpoint returned an error.
	ErrUserInfo = errors.New("userinfo request failed")

	// ErrInvalidResponse indicates the provider returned a response that does
	// not satisfy the minimal identity schema (empty subject, invalid email).
	ErrInvalidResponse = errors.New("malformed identity provider response")
)
