package storage

import (
	"context"

	"github.com/rs/zerolog"

	"worker/internal/infra"
)

// NewStore selects the storage backend from configuration: S3 when a
// bucket is configured, local filesystem otherwise.
func NewStore(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (Store, error) {
	if cfg.S3Bucket != "" {
		return NewS3Store(ctx, S3Options{
			Bucket:    cfg.S3Bucket,
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Logger:    logger,
		})
	}
	logger.Warn().Str("path", cfg.StoragePath).Msg("storage: no bucket configured, using filesystem store")
	return NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
}
