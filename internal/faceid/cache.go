package faceid

import (
	"context"
	"sync"

	"github.com/andresmejia3/checkmates/internal/types"
)

// EmbeddingCache stores gallery embeddings keyed by identity and image digest.
// A re-enrolled image has a new digest, so a stale vector is never returned.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, key, digest string) (types.Embedding, bool, error)
	PutEmbedding(ctx context.Context, key, digest string, emb types.Embedding) error
}

type cachedEmbedding struct {
	digest string
	vec    types.Embedding
}

// MemoryCache is a process-local EmbeddingCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cachedEmbedding
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cachedEmbedding)}
}

func (c *MemoryCache) GetEmbedding(_ context.Context, key, digest string) (types.Embedding, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.digest != digest {
		return nil, false, nil
	}
	out := make(types.Embedding, len(e.vec))
	copy(out, e.vec)
	return out, true, nil
}

// PutEmbedding replaces any previous vector for key.
func (c *MemoryCache) PutEmbedding(_ context.Context, key, digest string, emb types.Embedding) error {
	vec := make(types.Embedding, len(emb))
	copy(vec, emb)
	c.mu.Lock()
	c.entries[key] = cachedEmbedding{digest: digest, vec: vec}
	c.mu.Unlock()
	return nil
}

// Len returns the number of cached identities.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// TieredCache reads through a fast front cache to a durable back cache and
// writes to both. Back-cache hits are promoted to the front.
type TieredCache struct {
	front EmbeddingCache
	back  EmbeddingCache
}

// NewTieredCache layers front over back.
func NewTieredCache(front, back EmbeddingCache) *TieredCache {
	return &TieredCache{front: front, back: back}
}

func (c *TieredCache) GetEmbedding(ctx context.Context, key, digest string) (types.Embedding, bool, error) {
	if vec, ok, err := c.front.GetEmbedding(ctx, key, digest); err == nil && ok {
		return vec, true, nil
	}
	vec, ok, err := c.back.GetEmbedding(ctx, key, digest)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := c.front.PutEmbedding(ctx, key, digest, vec); err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (c *TieredCache) PutEmbedding(ctx context.Context, key, digest string, emb types.Embedding) error {
	if err := c.back.PutEmbedding(ctx, key, digest, emb); err != nil {
		return err
	}
	return c.front.PutEmbedding(ctx, key, digest, emb)
}
