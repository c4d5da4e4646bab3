package cmd

import (
	"context"
	"fmt"

	"github.com/andresmejia3/checkmates/internal/blob"
	"github.com/andresmejia3/checkmates/internal/config"
	"github.com/andresmejia3/checkmates/internal/faceid"
	"github.com/andresmejia3/checkmates/internal/store"
	"github.com/andresmejia3/checkmates/internal/utils"
	"github.com/andresmejia3/checkmates/internal/worker"
	"go.uber.org/zap"
)

// engine bundles the running face model pool with the flows built on it.
type engine struct {
	pool    *worker.Pool
	gallery *faceid.Gallery
	service *faceid.Service
}

// Close stops the model processes.
func (e *engine) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
}

// openBlobStore selects the gallery backend.
func openBlobStore(c *config.Config, db *store.Store) (blob.Store, error) {
	switch c.BlobBackend {
	case config.BlobPostgres:
		return db, nil
	case config.BlobFS:
		return blob.NewFileStore(c.BlobDir)
	case config.BlobAzure:
		return blob.NewAzureStore(blob.AzureConfig{
			AccountName:   c.Azure.Account,
			AccountKey:    c.Azure.Key,
			ContainerName: c.Azure.Container,
			ServiceURL:    c.Azure.ServiceURL,
		})
	default:
		return nil, fmt.Errorf("unknown blob backend %q", c.BlobBackend)
	}
}

// embeddingCache returns nil when caching is disabled.
func embeddingCache(c *config.Config, db *store.Store) faceid.EmbeddingCache {
	if !c.EmbeddingCache {
		return nil
	}
	return faceid.NewTieredCache(faceid.NewMemoryCache(), db)
}

// openGallery builds a read-only gallery that never touches the model.
func openGallery() (*faceid.Gallery, error) {
	blobs, err := openBlobStore(cfg, DB)
	if err != nil {
		return nil, err
	}
	return faceid.NewGallery(blobs, nil, logger), nil
}

// startEngine spawns the model workers and wires the enrollment and check flows.
func startEngine(ctx context.Context) (*engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	blobs, err := openBlobStore(cfg, DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	logger.Info("starting face model workers",
		zap.Int("engines", cfg.Worker.Engines),
		zap.String("script", cfg.Worker.Script),
	)
	pool, err := worker.NewPool(cfg.Worker.Engines, worker.Config{
		Python:      cfg.Worker.Python,
		Script:      cfg.Worker.Script,
		Dim:         cfg.Worker.Dim,
		ReadTimeout: cfg.Worker.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start face model: %w", err)
	}

	embedder := faceid.NewEmbedder(pool, embeddingCache(cfg, DB), logger)
	gallery := faceid.NewGallery(blobs, embedder, logger)
	svc := faceid.NewService(
		gallery,
		embedder,
		faceid.NewMatcher(embedder, cfg.MatchThreshold, pool.Size(), logger),
		faceid.NewRecorder(DB),
		logger,
	)
	return &engine{pool: pool, gallery: gallery, service: svc}, nil
}

// fail prints the error box and hands the error back for cobra's exit code.
func fail(what string, err error) error {
	utils.ShowError(what, err, nil)
	return err
}
