package keystore

import (
	"context"
	"log/slog"
	"testing"

	"fusionchat/internal/adapters"

	"github.com/stretchr/testify/assert"
)

func TestSecureStore_UseBeforeInitialize(t *testing.T) {
	store := NewSecureStore(adapters.NewMemoryKVStore(), slog.Default())
	ctx := context.Background()

	err := store.SetItem(ctx, "some_key", "value")
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, _, err = store.GetItem(ctx, "some_key")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestSecureStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := adapters.NewMemoryKVStore()
	store := NewSecureStore(kv, slog.Default())

	assert.NoError(t, store.Initialize(ctx, "passw0rd"))
	assert.True(t, store.Initialized())

	assert.NoError(t, store.SetItem(ctx, "token", "super secret"))

	value, ok, err := store.GetItem(ctx, "token")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "super secret", value)

	// The persisted value must not contain the plaintext.
	raw, ok, err := kv.Get(ctx, "token")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.NotContains(t, raw, "super secret")
}

func TestSecureStore_AbsentKeyIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewSecureStore(adapters.NewMemoryKVStore(), slog.Default())
	assert.NoError(t, store.Initialize(ctx, "passw0rd"))

	_, ok, err := store.GetItem(ctx, "missing")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestSecureStore_DecryptFailureIsNotFound(t *testing.T) {
	ctx := context.Background()
	kv := adapters.NewMemoryKVStore()
	store := NewSecureStore(kv, slog.Default())
	assert.NoError(t, store.Initialize(ctx, "passw0rd"))
	assert.NoError(t, store.SetItem(ctx, "token", "super secret"))

	// A session key derived from a different password cannot open the value;
	// that reads as absent, not as an error.
	wrong := NewSecureStore(kv, slog.Default())
	assert.NoError(t, wrong.Initialize(ctx, "hunter2"))

	_, ok, err := wrong.GetItem(ctx, "token")
	assert.NoError(t, err)
	assert.False(t, ok)

	// Corrupted stored value reads as absent too.
	assert.NoError(t, kv.Set(ctx, "token", "not an encrypted payload"))
	_, ok, err = store.GetItem(ctx, "token")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestSecureStore_SaltSurvivesSessions(t *testing.T) {
	ctx := context.Background()
	kv := adapters.NewMemoryKVStore()

	first := NewSecureStore(kv, slog.Default())
	assert.NoError(t, first.Initialize(ctx, "passw0rd"))
	assert.NoError(t, first.SetItem(ctx, "token", "persisted across sessions"))
	first.Teardown()
	assert.False(t, first.Initialized())

	second := NewSecureStore(kv, slog.Default())
	assert.NoError(t, second.Initialize(ctx, "passw0rd"))

	value, ok, err := second.GetItem(ctx, "token")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "persisted across sessions", value)
}

func TestSecureStore_RemoveAndClear(t *testing.T) {
	ctx := context.Background()
	store := NewSecureStore(adapters.NewMemoryKVStore(), slog.Default())
	assert.NoError(t, store.Initialize(ctx, "passw0rd"))

	assert.NoError(t, store.SetItem(ctx, "a", "1"))
	assert.NoError(t, store.SetItem(ctx, "b", "2"))

	assert.NoError(t, store.RemoveItem(ctx, "a"))
	_, ok, _ := store.GetItem(ctx, "a")
	assert.False(t, ok)

	assert.NoError(t, store.Clear(ctx))
	_, ok, _ = store.GetItem(ctx, "b")
	assert.False(t, ok)
}
