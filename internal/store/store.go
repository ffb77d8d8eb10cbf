// Package store persists encounter artifacts: audio, transcripts, and
// exports. Backends share one interface so callers never care whether bytes
// land on disk or in an object store.
package store

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// ArtifactStore abstracts artifact storage backends.
type ArtifactStore interface {
	// Save stores artifact data. key format: {session_id}/{filename}
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// Open returns a reader for the artifact.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks whether the artifact is present.
	Exists(ctx context.Context, key string) bool

	// Delete removes the artifact. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Type returns "local", "s3", or "encrypted".
	Type() string
}

// S3Options configures the object-store backend. Empty Bucket selects the
// local backend instead.
type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
	AccessKey string
	SecretKey string
}

// Enabled reports whether S3 storage is configured.
func (o S3Options) Enabled() bool { return o.Bucket != "" }

// New creates an ArtifactStore: S3 when configured, local disk otherwise.
// S3 credentials and bucket access are verified at startup.
func New(opts S3Options, dataDir string, log zerolog.Logger) (ArtifactStore, error) {
	if !opts.Enabled() {
		return NewLocalStore(dataDir), nil
	}

	s3store, err := NewS3Store(opts, log)
	if err != nil {
		return nil, fmt.Errorf("s3 init failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("s3 startup check failed (bucket=%q endpoint=%q): %w",
			opts.Bucket, opts.Endpoint, err)
	}
	log.Info().Str("bucket", opts.Bucket).Str("endpoint", opts.Endpoint).Msg("s3 connection verified")

	return s3store, nil
}
