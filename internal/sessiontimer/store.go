package sessiontimer

import (
	"context"

	"github.com/ericfisherdev/hairscope-lab/internal/storage"
)

// Store is the key-value view a Timer reads and writes. Keys are relative
// to the store's scope. *storage.Namespace implements it.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Clear(ctx context.Context) error
	Publish(ctx context.Context, change storage.Change) error
	Subscribe(ctx context.Context) (*storage.Subscription, error)
}

var _ Store = (*storage.Namespace)(nil)
