package keystore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"

	"fusionchat/internal/crypto"
	"fusionchat/internal/ports"
)

// Well-known keys in the underlying store.
const (
	KeySymmetric = "encryption_key"
	KeyPublic    = "public_key"
	KeyPrivate   = "private_key"
	KeySalt      = "encryption_salt"
)

// ErrNotInitialized is a programming error: SetItem/GetItem were called
// before Initialize.
var ErrNotInitialized = errors.New("secure store used before Initialize")

// SecureStore wraps a key-value store so values are encrypted at rest with a
// session key derived from the user's password.
type SecureStore struct {
	kv         ports.IKeyValueStore
	sessionKey []byte
	logger     *slog.Logger
}

func NewSecureStore(kv ports.IKeyValueStore, logger *slog.Logger) *SecureStore {
	return &SecureStore{kv: kv, logger: logger}
}

// Initialize derives and caches the session key from the persisted salt,
// generating and persisting a new salt on first use.
func (s *SecureStore) Initialize(ctx context.Context, password string) error {
	encoded, ok, err := s.kv.Get(ctx, KeySalt)
	if err != nil {
		return err
	}

	var salt []byte
	if ok {
		salt, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return crypto.ErrKeyImport
		}
	} else {
		salt, err = crypto.GenerateSalt()
		if err != nil {
			return err
		}
		if err := s.kv.Set(ctx, KeySalt, base64.StdEncoding.EncodeToString(salt)); err != nil {
			return err
		}
		s.logger.Info("secure store salt generated")
	}

	s.sessionKey = crypto.DeriveKeyFromPassword(password, salt)
	return nil
}

func (s *SecureStore) Initialized() bool {
	return s.sessionKey != nil
}

// SetItem encrypts value with the session key and persists the
// {ciphertext, iv} pair.
func (s *SecureStore) SetItem(ctx context.Context, key, value string) error {
	if s.sessionKey == nil {
		return ErrNotInitialized
	}

	payload, err := crypto.Encrypt(value, s.sessionKey)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, key, string(raw))
}

// GetItem decrypts and returns the stored value. An absent key or a value
// that fails to decrypt is reported as not found, not as an error, to keep
// callers simple.
func (s *SecureStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	if s.sessionKey == nil {
		return "", false, ErrNotInitialized
	}

	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}

	var payload crypto.EncryptedPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		s.logger.Warn("secure store value is not an encrypted payload", "key", key)
		return "", false, nil
	}

	value, err := crypto.Decrypt(payload, s.sessionKey)
	if err != nil {
		s.logger.Warn("secure store decryption failed", "key", key, "error", err)
		return "", false, nil
	}
	return value, true, nil
}

func (s *SecureStore) RemoveItem(ctx context.Context, key string) error {
	return s.kv.Remove(ctx, key)
}

func (s *SecureStore) Clear(ctx context.Context) error {
	return s.kv.Clear(ctx)
}

// Teardown drops the cached session key. The salt stays persisted so a later
// Initialize with the same password derives the same key.
func (s *SecureStore) Teardown() {
	s.sessionKey = nil
}
