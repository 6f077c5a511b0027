package credstore

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"runtime"

	"github.com/adrg/xdg"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// EncryptionKeyEnv overrides the derived file-encryption key material.
const EncryptionKeyEnv = "LECTERN_CREDENTIALS_KEY"

const credentialsFile = "lectern/credentials.enc"

type fileBackend struct {
	path string
	key  [32]byte
}

// NewFileStore is the fallback when no OS keyring is reachable (headless
// boxes, CI). The payload is sealed with a key derived from machine-local
// values, or from LECTERN_CREDENTIALS_KEY when set.
func NewFileStore() (Store, error) {
	path, err := xdg.StateFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("resolving credentials path: %w", err)
	}
	return &backendStore{
		backend: &fileBackend{path: path, key: deriveFileKey()},
		log:     slog.Default().With("system", "credstore", "backend", "file"),
	}, nil
}

func deriveFileKey() [32]byte {
	material := os.Getenv(EncryptionKeyEnv)
	if material == "" {
		username := "default"
		if u, err := user.Current(); err == nil {
			username = u.Username
		}
		material = runtime.GOOS + "-" + runtime.GOARCH + "-" + username
	}

	var key [32]byte
	r := hkdf.New(sha256.New, []byte(material), []byte("lectern-credentials"), nil)
	io.ReadFull(r, key[:])
	return key
}

func (b *fileBackend) load() ([]byte, error) {
	sealed, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(sealed) < 24 {
		// truncated file; treated as corrupt upstream
		return []byte("corrupt"), nil
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &b.key)
	if !ok {
		// wrong key or tampered file; surface as undecodable so the
		// caller resets to empty
		return []byte("corrupt"), nil
	}
	return plain, nil
}

func (b *fileBackend) save(raw []byte) error {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}
	sealed := secretbox.Seal(nonce[:], raw, &nonce, &b.key)
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(b.path, sealed, 0o600)
}

func (b *fileBackend) reset() error {
	err := os.Remove(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
