package domain

import (
	"context"
	"time"
)

// Cache guarda respostas serializadas por chave com TTL.
// Get devolve ok=false quando a chave não existe ou expirou.
type Cache interface {
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
