package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateIssueVerify(t *testing.T) {
	assert := assert.New(t)
	secret := []byte("0123456789abcdef0123456789abcdef")

	rec := IssueState(secret, "http://127.0.0.1:8085/callback")
	assert.NotEmpty(rec.Value)
	assert.NotEmpty(rec.MAC)
	assert.Equal("http://127.0.0.1:8085/callback", rec.RedirectURI)
	assert.True(VerifyState(rec, secret))
}

func TestStateUnique(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		rec := IssueState(secret, "")
		require.False(t, seen[rec.Value], "state value repeated")
		seen[rec.Value] = true
	}
}

func TestStateTampered(t *testing.T) {
	assert := assert.New(t)
	secret := []byte("0123456789abcdef0123456789abcdef")

	rec := IssueState(secret, "")

	tampered := rec
	tampered.Value = rec.Value[:len(rec.Value)-1] + "A"
	if tampered.Value == rec.Value {
		tampered.Value = rec.Value[:len(rec.Value)-1] + "B"
	}
	assert.False(VerifyState(tampered, secret))

	badMAC := rec
	badMAC.MAC = "bm90LXRoZS1tYWM"
	assert.False(VerifyState(badMAC, secret))

	assert.False(VerifyState(rec, []byte("another-secret-another-secret-00")))
}
