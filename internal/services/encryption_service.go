package services

import (
	"context"
	"log/slog"

	"fusionchat/internal/crypto"
	"fusionchat/internal/keystore"
)

// EncryptionService owns the lifecycle of the user's key material: generated
// once when encryption is enabled, restored from the secure store across
// sessions, destroyed when disabled. The symmetric key never leaves the
// device unencrypted.
type EncryptionService struct {
	store  *keystore.SecureStore
	logger *slog.Logger
}

func NewEncryptionService(store *keystore.SecureStore, logger *slog.Logger) *EncryptionService {
	return &EncryptionService{store: store, logger: logger}
}

// Enable generates fresh key material, persists it through the secure store,
// and returns the message cipher.
func (s *EncryptionService) Enable(ctx context.Context) (MessageCipher, error) {
	key, err := crypto.GenerateSymmetricKey()
	if err != nil {
		return nil, err
	}
	jwk, err := crypto.ExportSymmetricKey(key)
	if err != nil {
		return nil, err
	}

	pair, err := crypto.GenerateAsymmetricKeyPair()
	if err != nil {
		return nil, err
	}
	publicKey, err := crypto.ExportPublicKey(&pair.PublicKey)
	if err != nil {
		return nil, err
	}
	privateKey, err := crypto.ExportPrivateKey(pair)
	if err != nil {
		return nil, err
	}

	if err := s.store.SetItem(ctx, keystore.KeySymmetric, jwk); err != nil {
		return nil, err
	}
	if err := s.store.SetItem(ctx, keystore.KeyPublic, publicKey); err != nil {
		return nil, err
	}
	if err := s.store.SetItem(ctx, keystore.KeyPrivate, privateKey); err != nil {
		return nil, err
	}

	s.logger.Info("encryption enabled")
	return NewSymmetricCipher(key), nil
}

// Restore loads previously persisted key material. Returns a nil cipher when
// encryption was never enabled.
func (s *EncryptionService) Restore(ctx context.Context) (MessageCipher, error) {
	jwk, ok, err := s.store.GetItem(ctx, keystore.KeySymmetric)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	key, err := crypto.ImportSymmetricKey(jwk)
	if err != nil {
		// Malformed key material must not silently fall back to plaintext.
		s.logger.Error("persisted symmetric key is malformed")
		return nil, err
	}
	return NewSymmetricCipher(key), nil
}

// Disable destroys the key material and erases the salt. Irreversible for
// previously encrypted content.
func (s *EncryptionService) Disable(ctx context.Context) error {
	for _, key := range []string{keystore.KeySymmetric, keystore.KeyPublic, keystore.KeyPrivate, keystore.KeySalt} {
		if err := s.store.RemoveItem(ctx, key); err != nil {
			return err
		}
	}
	s.store.Teardown()
	s.logger.Info("encryption disabled, key material destroyed")
	return nil
}
