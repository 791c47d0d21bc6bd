package ports

import "context"

// IKeyValueStore is the device-local persistent store used for key material
// and call snapshots.
type IKeyValueStore interface {
	// Get returns the stored value, or ok=false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}
