package auth

// RejectCode is the stable machine-readable code carried by every rejection.
type RejectCode string

const (
	CodeStateExpired        RejectCode = "state_expired"
	CodeStateInvalid        RejectCode = "state_invalid"
	CodeProviderDenied      RejectCode = "provider_denied"
	CodeProviderUnavailable RejectCode = "provider_unavailable"
	CodeExchangeFailed      RejectCode = "exchange_failed"
	CodeIdentityFailed      RejectCode = "identity_failed"
	CodeSessionNotFound     RejectCode = "session_not_found"
)

// RejectionError is a terminal sign-in failure. Message is safe to show an
// end user; provider internals stay in the wrapped error and are only logged
// server-side.
type RejectionError struct {
	Code    RejectCode
	Message string
	err     error
}

func (e *RejectionError) Error() string { return e.Message }

func (e *RejectionError) Unwrap() error { return e.err }

func reject(code RejectCode, msg string, err error) *RejectionError {
	return &RejectionError{Code: code, Message: msg, err: err}
}
