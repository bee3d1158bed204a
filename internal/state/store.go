package state

import "context"

// Store is a small durable key/value surface. The exchange layer uses it to
// persist the last issued nonce and the journal recorder appends trade events
// under it.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
