package faceid

import (
	"context"
	"errors"
	"iter"
	"path"
	"strings"

	"github.com/andresmejia3/checkmates/internal/blob"
	"github.com/andresmejia3/checkmates/internal/types"
	"go.uber.org/zap"
)

const (
	// GalleryPrefix is the blob prefix holding one image per identity.
	GalleryPrefix    = "faces/"
	galleryExt       = ".jpg"
	galleryImageType = "image/jpeg"
)

// BlobName returns the object name an identity's image is stored under.
func BlobName(key string) string {
	return GalleryPrefix + key + galleryExt
}

// KeyFromBlobName derives the identity key from a stored object name.
// Objects that are not gallery images report false.
func KeyFromBlobName(name string) (string, bool) {
	if !strings.HasPrefix(name, GalleryPrefix) || !strings.HasSuffix(name, galleryExt) {
		return "", false
	}
	key := strings.TrimSuffix(path.Base(name), galleryExt)
	if key == "" {
		return "", false
	}
	return key, true
}

// ValidateKey rejects identity keys that cannot round-trip through the blob layout.
func ValidateKey(key string) error {
	if key == "" {
		return NewValidationError("email", "email is required")
	}
	if strings.Contains(key, "/") {
		return NewValidationError("email", "email must not contain '/'")
	}
	return nil
}

// Gallery maps identity keys to enrolled images. Entries are overwritten on
// re-enrollment and never deleted here.
type Gallery struct {
	blobs    blob.Store
	embedder *Embedder
	log      *zap.Logger
}

// NewGallery creates a Gallery over blobs.
func NewGallery(blobs blob.Store, embedder *Embedder, log *zap.Logger) *Gallery {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gallery{blobs: blobs, embedder: embedder, log: log}
}

// Enroll stores image under key after checking it contains a face. The gallery
// is left untouched when no face is found. Returns the stored object reference.
func (g *Gallery) Enroll(ctx context.Context, key string, image []byte) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}

	vec, err := g.embedder.Embed(ctx, image)
	if err != nil {
		return "", err
	}

	ref, err := g.blobs.Put(ctx, BlobName(key), image, galleryImageType)
	if err != nil {
		return "", storageErr("upload gallery image", err)
	}

	g.embedder.remember(ctx, key, image, vec)
	g.log.Info("enrolled identity", zap.String("key", key), zap.String("ref", ref))
	return ref, nil
}

// Entries lazily enumerates enrolled identities, downloading each image as it
// is reached. Order follows the blob store and may differ between calls.
// Objects removed between listing and download are skipped.
func (g *Gallery) Entries(ctx context.Context) iter.Seq2[types.GalleryEntry, error] {
	return func(yield func(types.GalleryEntry, error) bool) {
		for name, err := range g.blobs.List(ctx, GalleryPrefix) {
			if err != nil {
				yield(types.GalleryEntry{}, storageErr("list gallery", err))
				return
			}
			key, ok := KeyFromBlobName(name)
			if !ok {
				continue
			}

			data, err := g.blobs.Get(ctx, name)
			if errors.Is(err, blob.ErrNotFound) {
				g.log.Warn("gallery image vanished during scan", zap.String("blob", name))
				continue
			}
			if err != nil {
				yield(types.GalleryEntry{}, storageErr("download "+name, err))
				return
			}

			if !yield(types.GalleryEntry{Key: key, Name: name, Image: data}, nil) {
				return
			}
		}
	}
}

// Keys lists enrolled identity keys without downloading images.
func (g *Gallery) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	for name, err := range g.blobs.List(ctx, GalleryPrefix) {
		if err != nil {
			return nil, storageErr("list gallery", err)
		}
		if key, ok := KeyFromBlobName(name); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
