// Package blobstore provides file storage for uploaded cognitive-test results.
// It defines the BlobStore interface, an in-memory implementation suitable for
// testing and development, GridFS and S3 backends, and an Echo helper that
// streams a stored blob back to the client.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
	ErrEmptyFile          = errors.New("file is empty")
)

// ---------------------------------------------------------------------------
// Validation constants
// ---------------------------------------------------------------------------

// MaxFileSize is the maximum allowed blob size in bytes (20 MB).
const MaxFileSize = 20 * 1024 * 1024

// AllowedContentTypes lists the upload types the analysis pipeline accepts.
var AllowedContentTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
	"application/pdf": true,
}

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// BlobMetadata describes a stored blob.
type BlobMetadata struct {
	ID          string    `json:"id" bson:"blobId"`
	FileName    string    `json:"nombre" bson:"nombre"`
	ContentType string    `json:"contentType" bson:"contentType"`
	Size        int64     `json:"size" bson:"size"`
	Hash        string    `json:"hash" bson:"hash"`
	Owner       string    `json:"-" bson:"owner,omitempty"`
	CreatedAt   time.Time `json:"-" bson:"createdAt"`
}

// ---------------------------------------------------------------------------
// BlobStore interface
// ---------------------------------------------------------------------------

// BlobStore defines the contract for blob storage backends.
type BlobStore interface {
	Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error)
	Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error)
	Delete(ctx context.Context, id string) error
}

// Validate checks the name and content type before any bytes are read.
func Validate(meta BlobMetadata) error {
	if meta.FileName == "" {
		return ErrMissingFileName
	}
	if !AllowedContentTypes[meta.ContentType] {
		return fmt.Errorf("%w: %s", ErrInvalidContentType, meta.ContentType)
	}
	return nil
}

// prepare validates meta, reads content fully (bounded by MaxFileSize), and
// fills in the id, size, hash and timestamp. All backends share it.
func prepare(meta BlobMetadata, content io.Reader) (BlobMetadata, []byte, error) {
	if err := Validate(meta); err != nil {
		return meta, nil, err
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return meta, nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return meta, nil, ErrFileTooLarge
	}
	if len(data) == 0 {
		return meta, nil, ErrEmptyFile
	}

	h := sha256.Sum256(data)

	meta.ID = uuid.New().String()
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", h)
	meta.CreatedAt = time.Now().UTC()
	return meta, data, nil
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	metadata BlobMetadata
	content  []byte
}

// InMemoryBlobStore is a thread-safe, in-memory BlobStore for testing/dev.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

// NewInMemoryBlobStore returns a ready-to-use InMemoryBlobStore.
func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{
		blobs: make(map[string]*storedBlob),
	}
}

// Upload validates inputs, reads the content, computes a SHA-256 hash, and
// stores the blob in memory.
func (s *InMemoryBlobStore) Upload(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.blobs[meta.ID] = &storedBlob{
		metadata: meta,
		content:  data,
	}
	s.mu.Unlock()

	out := meta // copy
	return &out, nil
}

// Download returns an io.ReadCloser over the blob content and its metadata.
func (s *InMemoryBlobStore) Download(_ context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrBlobNotFound
	}

	meta := blob.metadata // copy
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

// Delete removes a blob by ID.
func (s *InMemoryBlobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[id]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, id)
	return nil
}

// Len reports the number of stored blobs.
func (s *InMemoryBlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// ---------------------------------------------------------------------------
// HTTP helper
// ---------------------------------------------------------------------------

// Serve streams blob id to the client with its stored content type. Callers
// are expected to have checked access already.
func Serve(c echo.Context, store BlobStore, id string) error {
	rc, meta, err := store.Download(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "file not found")
		}
		return err
	}
	defer rc.Close()

	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, meta.FileName))
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}
