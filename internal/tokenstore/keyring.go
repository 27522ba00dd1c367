package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zalando/go-keyring"
)

// KeyringStore keeps the token record in OS-native secure credential storage.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
type KeyringStore struct {
	service string
	user    string
	nowFunc func() time.Time
}

// Compile-time check to ensure KeyringStore implements TokenStore
var _ TokenStore = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore for the given service and user identifiers.
func NewKeyringStore(service, user string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	return &KeyringStore{
		service: service,
		user:    user,
		nowFunc: time.Now,
	}, nil
}

// EnsureSchema is a no-op: the keyring entry is created by the first Save.
func (k *KeyringStore) EnsureSchema(ctx context.Context) error {
	return ctx.Err()
}

// Load returns the record from the system keyring, or nil if there is no entry.
func (k *KeyringStore) Load(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	secret, err := keyring.Get(k.service, k.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("reading keyring", err)
	}

	rec, err := decodeRecord([]byte(secret))
	if err != nil {
		return nil, storageError(fmt.Sprintf("decoding keyring entry for service %s, user %s", k.service, k.user), err)
	}
	return rec, nil
}

// Save overwrites the keyring entry with the new record.
func (k *KeyringStore) Save(ctx context.Context, accessToken string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeRecord(accessToken, expiresAt, k.nowFunc())
	if err != nil {
		return storageError("encoding token record", err)
	}

	if err := keyring.Set(k.service, k.user, string(data)); err != nil {
		return storageError("writing keyring", err)
	}
	return nil
}
