package credstore

import (
	"errors"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "lectern"
	keyringUser    = "credentials"
)

// keyringAvailable probes the OS keyring with a harmless read. A missing
// entry is fine; only transport-level failures count as unavailable.
func keyringAvailable() bool {
	_, err := keyring.Get(keyringService, "availability-check")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}

type keyringBackend struct{}

func (keyringBackend) load() ([]byte, error) {
	val, err := keyring.Get(keyringService, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(val), nil
}

func (keyringBackend) save(raw []byte) error {
	return keyring.Set(keyringService, keyringUser, string(raw))
}

func (keyringBackend) reset() error {
	err := keyring.Delete(keyringService, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// NewKeyringStore stores the credential payload as a single keyring secret.
func NewKeyringStore() Store {
	return &backendStore{
		backend: keyringBackend{},
		log:     slog.Default().With("system", "credstore", "backend", "keyring"),
	}
}
