package services_test

import (
	"context"
	"log/slog"
	"testing"

	"fusionchat/internal/adapters"
	"fusionchat/internal/keystore"
	"fusionchat/internal/services"

	"github.com/stretchr/testify/assert"
)

func newEncryption(t *testing.T) (*services.EncryptionService, *keystore.SecureStore, *adapters.MemoryKVStore) {
	t.Helper()
	kv := adapters.NewMemoryKVStore()
	store := keystore.NewSecureStore(kv, slog.Default())
	assert.NoError(t, store.Initialize(context.Background(), "correct horse battery staple"))
	return services.NewEncryptionService(store, slog.Default()), store, kv
}

func TestEncryption_EnableProducesWorkingCipher(t *testing.T) {
	service, _, _ := newEncryption(t)
	ctx := context.Background()

	cipher, err := service.Enable(ctx)
	assert.NoError(t, err)
	assert.NotNil(t, cipher)

	enc, err := cipher.EncryptText("secret greeting")
	assert.NoError(t, err)
	assert.NotEqual(t, "secret greeting", enc.Ciphertext)

	plaintext, err := cipher.DecryptText(enc)
	assert.NoError(t, err)
	assert.Equal(t, "secret greeting", plaintext)
}

func TestEncryption_RestoreAcrossSessions(t *testing.T) {
	kv := adapters.NewMemoryKVStore()
	ctx := context.Background()
	password := "correct horse battery staple"

	firstStore := keystore.NewSecureStore(kv, slog.Default())
	assert.NoError(t, firstStore.Initialize(ctx, password))
	first := services.NewEncryptionService(firstStore, slog.Default())

	cipher, err := first.Enable(ctx)
	assert.NoError(t, err)
	enc, err := cipher.EncryptText("persists")
	assert.NoError(t, err)
	firstStore.Teardown()

	// Same device store, fresh session with the same password.
	secondStore := keystore.NewSecureStore(kv, slog.Default())
	assert.NoError(t, secondStore.Initialize(ctx, password))
	second := services.NewEncryptionService(secondStore, slog.Default())

	restored, err := second.Restore(ctx)
	assert.NoError(t, err)
	assert.NotNil(t, restored)

	plaintext, err := restored.DecryptText(enc)
	assert.NoError(t, err)
	assert.Equal(t, "persists", plaintext)
}

func TestEncryption_RestoreWithoutEnableReturnsNilCipher(t *testing.T) {
	service, _, _ := newEncryption(t)

	cipher, err := service.Restore(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, cipher)
}

func TestEncryption_RestoreWithWrongPasswordSeesNothing(t *testing.T) {
	kv := adapters.NewMemoryKVStore()
	ctx := context.Background()

	firstStore := keystore.NewSecureStore(kv, slog.Default())
	assert.NoError(t, firstStore.Initialize(ctx, "right password"))
	_, err := services.NewEncryptionService(firstStore, slog.Default()).Enable(ctx)
	assert.NoError(t, err)
	firstStore.Teardown()

	secondStore := keystore.NewSecureStore(kv, slog.Default())
	assert.NoError(t, secondStore.Initialize(ctx, "wrong password"))

	// Undecryptable key material reads as absent, not as an error.
	cipher, err := services.NewEncryptionService(secondStore, slog.Default()).Restore(ctx)
	assert.NoError(t, err)
	assert.Nil(t, cipher)
}

func TestEncryption_DisableDestroysKeyMaterial(t *testing.T) {
	service, store, _ := newEncryption(t)
	ctx := context.Background()

	_, err := service.Enable(ctx)
	assert.NoError(t, err)

	assert.NoError(t, service.Disable(ctx))
	assert.False(t, store.Initialized())

	// A fresh session finds nothing to restore.
	assert.NoError(t, store.Initialize(ctx, "correct horse battery staple"))
	cipher, err := service.Restore(ctx)
	assert.NoError(t, err)
	assert.Nil(t, cipher)
}
