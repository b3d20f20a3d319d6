// Package storage publishes workflow output artifacts to object storage
// and mints time-limited retrieval URLs.
package storage

import (
	"context"
	"errors"
	"time"
)

// PresignTTL bounds the validity of minted retrieval URLs. The URLs are
// capability-bearing, not durable addresses.
const PresignTTL = 24 * time.Hour

// ErrWriteFailed marks a failed object write. It is propagated, not
// retried here; retry policy belongs to the storage transport.
var ErrWriteFailed = errors.New("storage: write failed")

// StoredArtifact is the result of publishing one artifact.
type StoredArtifact struct {
	Key       string
	URL       string
	ExpiresAt time.Time
}

// Store is the object storage surface the worker consumes. Upload must
// never mint a URL for a key whose write did not succeed.
type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (StoredArtifact, error)
	Exists(ctx context.Context, key string) (bool, error)
	Download(ctx context.Context, key string) ([]byte, error)
}
