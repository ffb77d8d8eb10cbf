package store

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/snarg/scribe-engine/internal/crypto"
)

// EncryptedStore wraps another store, sealing every artifact at rest.
// Keys and metadata stay in the clear; only artifact bytes are protected.
type EncryptedStore struct {
	inner ArtifactStore
	svc   *crypto.Service
}

// NewEncryptedStore wraps inner so all saved data is encrypted.
func NewEncryptedStore(inner ArtifactStore, svc *crypto.Service) *EncryptedStore {
	return &EncryptedStore{inner: inner, svc: svc}
}

func (s *EncryptedStore) Save(ctx context.Context, key string, data []byte, contentType string) error {
	sealed, err := s.svc.Encrypt(data)
	if err != nil {
		return fmt.Errorf("sealing %s: %w", key, err)
	}
	return s.inner.Save(ctx, key, sealed, "application/octet-stream")
}

func (s *EncryptedStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.inner.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	sealed, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	plain, err := s.svc.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(plain)), nil
}

func (s *EncryptedStore) Exists(ctx context.Context, key string) bool {
	return s.inner.Exists(ctx, key)
}

func (s *EncryptedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *EncryptedStore) Type() string { return "encrypted" }
