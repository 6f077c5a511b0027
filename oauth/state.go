package oauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// StateRecord is the single-use binding between an issued anti-forgery token
// and the caller's intended post-login redirect. The MAC is keyed by the
// server session secret; the record is only as trustworthy as verification
// against that secret. TTL and single-use are enforced by the session store,
// not here.
type StateRecord struct {
	Value       string `json:"state"`
	MAC         string `json:"hmac"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

// IssueState mints a fresh state record: 16 random bytes, base64url, bound to
// the secret via HMAC-SHA256. The redirect URI is carried through unchanged.
func IssueState(secret []byte, redirectURI string) StateRecord {
	raw := make([]byte, 16)
	rand.Read(raw)
	value := base64.RawURLEncoding.EncodeToString(raw)
	return StateRecord{
		Value:       value,
		MAC:         stateMAC(value, secret),
		RedirectURI: redirectURI,
	}
}

// VerifyState recomputes the MAC over rec.Value and compares in constant
// time. Stateless: storage-level single-use and TTL checks happen elsewhere.
func VerifyState(rec StateRecord, secret []byte) bool {
	return hmac.Equal([]byte(stateMAC(rec.Value, secret)), []byte(rec.MAC))
}

func stateMAC(value string, secret []byte) string {
	m := hmac.New(sha256.New, secret)
	m.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil))
}

// HashIP produces the one-way hash of a client IP stored on sessions. The raw
// address is never persisted.
func HashIP(ip string, secret []byte) string {
	m := hmac.New(sha256.New, secret)
	m.Write([]byte(ip))
	return hex.EncodeToString(m.Sum(nil))
}
