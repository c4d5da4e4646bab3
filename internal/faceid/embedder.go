package faceid

import (
	"context"
	"fmt"

	"github.com/andresmejia3/checkmates/internal/types"
	"github.com/andresmejia3/checkmates/internal/utils"
	"go.uber.org/zap"
)

// Extractor turns raw image bytes into detected faces. It is initialized once at
// startup and shared by every component that needs embeddings.
type Extractor interface {
	DetectFaces(ctx context.Context, image []byte) ([]types.FaceResult, error)
}

// Embedder picks the embedding of the first detected face and, when a cache is
// configured, reuses gallery embeddings across scans.
type Embedder struct {
	extractor Extractor
	cache     EmbeddingCache
	log       *zap.Logger
}

// NewEmbedder wraps extractor. cache may be nil to re-extract on every scan.
func NewEmbedder(extractor Extractor, cache EmbeddingCache, log *zap.Logger) *Embedder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Embedder{extractor: extractor, cache: cache, log: log}
}

// Embed returns the first face's embedding or ErrNoFaceDetected.
func (e *Embedder) Embed(ctx context.Context, image []byte) (types.Embedding, error) {
	faces, err := e.extractor.DetectFaces(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("extract embedding: %w", err)
	}
	if len(faces) == 0 || len(faces[0].Vec) == 0 {
		return nil, ErrNoFaceDetected
	}
	return types.Embedding(faces[0].Vec), nil
}

// EntryEmbedding resolves the embedding for a gallery entry, consulting the
// cache before extracting. Cache failures degrade to extraction.
func (e *Embedder) EntryEmbedding(ctx context.Context, entry types.GalleryEntry) (types.Embedding, error) {
	if e.cache == nil {
		return e.Embed(ctx, entry.Image)
	}

	digest := utils.ContentHash(entry.Image)
	if vec, ok, err := e.cache.GetEmbedding(ctx, entry.Key, digest); err != nil {
		e.log.Warn("embedding cache lookup failed", zap.String("key", entry.Key), zap.Error(err))
	} else if ok {
		return vec, nil
	}

	vec, err := e.Embed(ctx, entry.Image)
	if err != nil {
		return nil, err
	}
	e.remember(ctx, entry.Key, entry.Image, vec)
	return vec, nil
}

func (e *Embedder) remember(ctx context.Context, key string, image []byte, vec types.Embedding) {
	if e.cache == nil {
		return
	}
	if err := e.cache.PutEmbedding(ctx, key, utils.ContentHash(image), vec); err != nil {
		e.log.Warn("embedding cache store failed", zap.String("key", key), zap.Error(err))
	}
}
