// Package credstore persists CLI sign-in credentials across invocations,
// preferring the OS keyring and falling back to an encrypted file.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// StoredAccount is one signed-in identity, keyed by email.
type StoredAccount struct {
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	ProfilePicture string    `json:"picture,omitempty"`
	SessionToken   string    `json:"sessionToken"`
	ExpiresAt      time.Time `json:"expiresAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

// payload is the versioned on-disk/in-keyring document holding every account
// plus the active selection. Version gates future migrations.
type payload struct {
	Version       int                      `json:"version"`
	ActiveAccount string                   `json:"activeAccount,omitempty"`
	Accounts      map[string]StoredAccount `json:"accounts"`
}

const payloadVersion = 1

func emptyPayload() payload {
	return payload{Version: payloadVersion, Accounts: map[string]StoredAccount{}}
}

var ErrAccountNotFound = errors.New("account not found")

// Store is the multi-account credential store. Implementations hold the whole
// payload as a single document, so writes are last-writer-wins.
type Store interface {
	GetActive() (*StoredAccount, error)
	Get(email string) (*StoredAccount, error)
	List() ([]StoredAccount, error)
	Save(account StoredAccount) error
	SetActive(email string) error
	Remove(email string) error
	Clear() error
}

// Open probes the OS keyring and returns the keyring-backed store when it
// works, otherwise the encrypted file store.
func Open() (Store, error) {
	log := slog.Default().With("system", "credstore")
	if keyringAvailable() {
		log.Debug("using OS keyring for credential storage")
		return NewKeyringStore(), nil
	}
	log.Warn("OS keyring unavailable, using encrypted file storage")
	return NewFileStore()
}

// backendStore implements the account operations on top of a raw
// load/save/reset document backend.
type backendStore struct {
	backend documentBackend
	log     *slog.Logger
}

// documentBackend reads and writes the serialized payload. load returns
// (nil, nil) when nothing is stored yet.
type documentBackend interface {
	load() ([]byte, error)
	save([]byte) error
	reset() error
}

func (s *backendStore) loadPayload() (payload, error) {
	raw, err := s.backend.load()
	if err != nil {
		return payload{}, fmt.Errorf("reading credentials: %w", err)
	}
	if raw == nil {
		return emptyPayload(), nil
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil || p.Version != payloadVersion || p.Accounts == nil {
		// corrupt or foreign data: reset rather than brick the CLI
		s.log.Warn("invalid credential payload, resetting")
		if err := s.backend.reset(); err != nil {
			return payload{}, fmt.Errorf("resetting credentials: %w", err)
		}
		return emptyPayload(), nil
	}
	return p, nil
}

func (s *backendStore) savePayload(p payload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.backend.save(raw); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	return nil
}

func (s *backendStore) GetActive() (*StoredAccount, error) {
	p, err := s.loadPayload()
	if err != nil {
		return nil, err
	}
	if p.ActiveAccount == "" {
		return nil, nil
	}
	if acct, ok := p.Accounts[p.ActiveAccount]; ok {
		return &acct, nil
	}
	return nil, nil
}

func (s *backendStore) Get(email string) (*StoredAccount, error) {
	p, err := s.loadPayload()
	if err != nil {
		return nil, err
	}
	if acct, ok := p.Accounts[email]; ok {
		return &acct, nil
	}
	return nil, nil
}

func (s *backendStore) List() ([]StoredAccount, error) {
	p, err := s.loadPayload()
	if err != nil {
		return nil, err
	}
	out := make([]StoredAccount, 0, len(p.Accounts))
	for _, acct := range p.Accounts {
		out = append(out, acct)
	}
	return out, nil
}

// Save upserts the account. The first account saved becomes active.
func (s *backendStore) Save(account StoredAccount) error {
	p, err := s.loadPayload()
	if err != nil {
		return err
	}
	p.Accounts[account.Email] = account
	if p.ActiveAccount == "" {
		p.ActiveAccount = account.Email
	}
	if err := s.savePayload(p); err != nil {
		return err
	}
	s.log.Debug("account saved", "accounts", len(p.Accounts))
	return nil
}

func (s *backendStore) SetActive(email string) error {
	p, err := s.loadPayload()
	if err != nil {
		return err
	}
	if _, ok := p.Accounts[email]; !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, email)
	}
	p.ActiveAccount = email
	return s.savePayload(p)
}

// Remove drops the account; when it was active, an arbitrary remaining
// account is promoted.
func (s *backendStore) Remove(email string) error {
	p, err := s.loadPayload()
	if err != nil {
		return err
	}
	delete(p.Accounts, email)
	if p.ActiveAccount == email {
		p.ActiveAccount = ""
		for remaining := range p.Accounts {
			p.ActiveAccount = remaining
			break
		}
	}
	return s.savePayload(p)
}

func (s *backendStore) Clear() error {
	return s.backend.reset()
}
