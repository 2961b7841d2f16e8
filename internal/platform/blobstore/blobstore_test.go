package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func seedBlob(t *testing.T, store BlobStore, fileName, contentType, content string) *BlobMetadata {
	t.Helper()
	meta := BlobMetadata{
		FileName:    fileName,
		ContentType: contentType,
		Owner:       "patient-1",
	}
	result, err := store.Upload(context.Background(), meta, strings.NewReader(content))
	if err != nil {
		t.Fatalf("seedBlob: %v", err)
	}
	return result
}

// ---------------------------------------------------------------------------
// Store tests
// ---------------------------------------------------------------------------

func TestInMemoryBlobStore_Upload(t *testing.T) {
	store := NewInMemoryBlobStore()
	content := "fake png bytes"

	result, err := store.Upload(context.Background(), BlobMetadata{
		FileName:    "dibujo.png",
		ContentType: "image/png",
	}, strings.NewReader(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.ID == "" {
		t.Fatal("expected non-empty ID")
	}
	if result.Size != int64(len(content)) {
		t.Errorf("expected Size=%d, got %d", len(content), result.Size)
	}
	want := fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
	if result.Hash != want {
		t.Errorf("expected Hash=%s, got %s", want, result.Hash)
	}
	if result.CreatedAt.IsZero() {
		t.Fatal("expected non-zero CreatedAt")
	}
}

func TestInMemoryBlobStore_Download(t *testing.T) {
	store := NewInMemoryBlobStore()
	content := "%PDF-1.4 test"

	uploaded := seedBlob(t, store, "resultado.pdf", "application/pdf", content)

	rc, meta, err := store.Download(context.Background(), uploaded.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("error reading content: %v", err)
	}
	if string(data) != content {
		t.Errorf("expected content=%q, got %q", content, string(data))
	}
	if meta.FileName != "resultado.pdf" {
		t.Errorf("expected FileName=resultado.pdf, got %s", meta.FileName)
	}
}

func TestInMemoryBlobStore_DownloadNotFound(t *testing.T) {
	store := NewInMemoryBlobStore()

	_, _, err := store.Download(context.Background(), "nonexistent-id")
	if err != ErrBlobNotFound {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestInMemoryBlobStore_Delete(t *testing.T) {
	store := NewInMemoryBlobStore()
	b := seedBlob(t, store, "a.png", "image/png", "x")

	if err := store.Delete(context.Background(), b.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Delete(context.Background(), b.ID); err != ErrBlobNotFound {
		t.Errorf("expected ErrBlobNotFound on second delete, got %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("expected empty store, got %d", store.Len())
	}
}

func TestUpload_Validation(t *testing.T) {
	store := NewInMemoryBlobStore()
	tests := []struct {
		name    string
		meta    BlobMetadata
		content io.Reader
		want    error
	}{
		{"missing name", BlobMetadata{ContentType: "image/png"}, strings.NewReader("x"), ErrMissingFileName},
		{"bad type", BlobMetadata{FileName: "a.txt", ContentType: "text/plain"}, strings.NewReader("x"), ErrInvalidContentType},
		{"empty", BlobMetadata{FileName: "a.png", ContentType: "image/png"}, strings.NewReader(""), ErrEmptyFile},
		{"too large", BlobMetadata{FileName: "a.png", ContentType: "image/png"}, bytes.NewReader(make([]byte, MaxFileSize+1)), ErrFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Upload(context.Background(), tt.meta, tt.content)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if store.Len() != 0 {
		t.Errorf("rejected uploads must not be stored, got %d", store.Len())
	}
}

func TestAllowedContentTypes(t *testing.T) {
	for _, ct := range []string{"image/png", "image/jpeg", "image/webp", "application/pdf"} {
		if !AllowedContentTypes[ct] {
			t.Errorf("expected %s to be allowed", ct)
		}
	}
	if AllowedContentTypes["application/zip"] {
		t.Error("expected application/zip to be rejected")
	}
}

func TestInMemoryBlobStore_ConcurrentUploads(t *testing.T) {
	store := NewInMemoryBlobStore()
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Upload(context.Background(), BlobMetadata{
				FileName:    fmt.Sprintf("f%d.png", i),
				ContentType: "image/png",
			}, strings.NewReader("data"))
			if err != nil {
				t.Errorf("upload %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	if store.Len() != 25 {
		t.Errorf("expected 25 blobs, got %d", store.Len())
	}
}

// ---------------------------------------------------------------------------
// S3 store with a fake client
// ---------------------------------------------------------------------------

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	types   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, meta: map[string]map[string]string{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	f.objects[key] = data
	f.meta[key] = in.Metadata
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	data, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentType:   aws.String(f.types[key]),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      f.meta[key],
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_RoundTrip(t *testing.T) {
	fake := newFakeS3()
	store := NewS3Store(fake, "alzheon-test")

	uploaded := seedBlob(t, store, "reloj.jpg", "image/jpeg", "jpeg-bytes")
	if _, ok := fake.objects["submissions/"+uploaded.ID]; !ok {
		t.Fatalf("expected object under submissions/ prefix, have %v", fake.objects)
	}

	rc, meta, err := store.Download(context.Background(), uploaded.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "jpeg-bytes" {
		t.Errorf("content = %q", data)
	}
	if meta.FileName != "reloj.jpg" || meta.ContentType != "image/jpeg" || meta.Hash != uploaded.Hash {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}

func TestS3Store_DownloadNotFound(t *testing.T) {
	store := NewS3Store(newFakeS3(), "alzheon-test")
	_, _, err := store.Download(context.Background(), "missing")
	if err != ErrBlobNotFound {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// HTTP helper
// ---------------------------------------------------------------------------

func TestServe(t *testing.T) {
	store := NewInMemoryBlobStore()
	b := seedBlob(t, store, "dibujo.png", "image/png", "png-data")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := Serve(c, store, b.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}
	if rec.Body.String() != "png-data" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestServe_NotFound(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := Serve(c, NewInMemoryBlobStore(), "missing")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404 HTTPError, got %v", err)
	}
}
