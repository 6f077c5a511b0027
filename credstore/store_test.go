package credstore

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBackend is an in-memory documentBackend for exercising the account
// operations without touching a keyring or disk.
type memBackend struct {
	raw []byte
}

func (b *memBackend) load() ([]byte, error) { return b.raw, nil }
func (b *memBackend) save(raw []byte) error { b.raw = raw; return nil }
func (b *memBackend) reset() error          { b.raw = nil; return nil }

func memStore() (*backendStore, *memBackend) {
	backend := &memBackend{}
	return &backendStore{backend: backend, log: slog.Default()}, backend
}

func account(email string) StoredAccount {
	return StoredAccount{
		Email:        email,
		Name:         "Test User",
		SessionToken: "token-" + email,
		ExpiresAt:    time.Now().Add(24 * time.Hour),
		CreatedAt:    time.Now(),
	}
}

func TestEmptyStore(t *testing.T) {
	assert := assert.New(t)
	store, _ := memStore()

	active, err := store.GetActive()
	require.NoError(t, err)
	assert.Nil(active)

	accounts, err := store.List()
	require.NoError(t, err)
	assert.Empty(accounts)
}

func TestFirstAccountBecomesActive(t *testing.T) {
	assert := assert.New(t)
	store, _ := memStore()

	require.NoError(t, store.Save(account("alice@example.com")))
	require.NoError(t, store.Save(account("bob@example.com")))

	active, err := store.GetActive()
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal("alice@example.com", active.Email)

	accounts, err := store.List()
	require.NoError(t, err)
	assert.Len(accounts, 2)
}

func TestSwitchActive(t *testing.T) {
	assert := assert.New(t)
	store, _ := memStore()

	require.NoError(t, store.Save(account("alice@example.com")))
	require.NoError(t, store.Save(account("bob@example.com")))

	require.NoError(t, store.SetActive("bob@example.com"))
	active, err := store.GetActive()
	require.NoError(t, err)
	assert.Equal("bob@example.com", active.Email)

	err = store.SetActive("nobody@example.com")
	assert.ErrorIs(err, ErrAccountNotFound)
}

func TestRemovePromotesRemaining(t *testing.T) {
	assert := assert.New(t)
	store, _ := memStore()

	require.NoError(t, store.Save(account("alice@example.com")))
	require.NoError(t, store.Save(account("bob@example.com")))

	require.NoError(t, store.Remove("alice@example.com"))
	active, err := store.GetActive()
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal("bob@example.com", active.Email)

	require.NoError(t, store.Remove("bob@example.com"))
	active, err = store.GetActive()
	require.NoError(t, err)
	assert.Nil(active)
}

func TestSaveUpdatesExisting(t *testing.T) {
	assert := assert.New(t)
	store, _ := memStore()

	acct := account("alice@example.com")
	require.NoError(t, store.Save(acct))

	acct.SessionToken = "rotated-token"
	require.NoError(t, store.Save(acct))

	got, err := store.Get("alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal("rotated-token", got.SessionToken)

	accounts, err := store.List()
	require.NoError(t, err)
	assert.Len(accounts, 1)
}

func TestCorruptPayloadResets(t *testing.T) {
	assert := assert.New(t)
	store, backend := memStore()

	require.NoError(t, store.Save(account("alice@example.com")))
	backend.raw = []byte("{not json")

	accounts, err := store.List()
	require.NoError(t, err)
	assert.Empty(accounts)
	assert.Nil(backend.raw, "corrupt payload should be cleared")
}

func TestFileBackendRoundtrip(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	t.Setenv(EncryptionKeyEnv, "file-store-test-key")

	backend := &fileBackend{
		path: filepath.Join(dir, "credentials.enc"),
		key:  deriveFileKey(),
	}
	store := &backendStore{backend: backend, log: slog.Default()}

	require.NoError(t, store.Save(account("alice@example.com")))

	// a fresh store over the same file sees the same payload
	reopened := &backendStore{
		backend: &fileBackend{path: backend.path, key: deriveFileKey()},
		log:     slog.Default(),
	}
	got, err := reopened.GetActive()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal("alice@example.com", got.Email)
	assert.Equal("token-alice@example.com", got.SessionToken)
}

func TestFileBackendWrongKeyResets(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.enc")

	t.Setenv(EncryptionKeyEnv, "key-one")
	first := &backendStore{
		backend: &fileBackend{path: path, key: deriveFileKey()},
		log:     slog.Default(),
	}
	require.NoError(t, first.Save(account("alice@example.com")))

	// undecryptable data resets to empty instead of erroring
	t.Setenv(EncryptionKeyEnv, "key-two")
	second := &backendStore{
		backend: &fileBackend{path: path, key: deriveFileKey()},
		log:     slog.Default(),
	}
	accounts, err := second.List()
	require.NoError(t, err)
	assert.Empty(accounts)
}

func TestClear(t *testing.T) {
	assert := assert.New(t)
	store, _ := memStore()

	require.NoError(t, store.Save(account("alice@example.com")))
	require.NoError(t, store.Clear())

	accounts, err := store.List()
	require.NoError(t, err)
	assert.Empty(accounts)
}
