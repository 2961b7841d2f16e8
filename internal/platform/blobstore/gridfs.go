package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GridFSStore keeps blobs in a Mongo GridFS bucket. The blob id is used as
// the GridFS file id; metadata travels in the file's metadata document.
type GridFSStore struct {
	db     *mongo.Database
	bucket string
}

func NewGridFSStore(db *mongo.Database, bucket string) *GridFSStore {
	if bucket == "" {
		bucket = "submissions"
	}
	return &GridFSStore{db: db, bucket: bucket}
}

// open builds a bucket handle for one operation. Deadlines are per-bucket in
// the driver, so handles are not shared between concurrent calls.
func (s *GridFSStore) open(ctx context.Context) (*gridfs.Bucket, error) {
	b, err := gridfs.NewBucket(s.db, options.GridFSBucket().SetName(s.bucket))
	if err != nil {
		return nil, fmt.Errorf("open gridfs bucket %s: %w", s.bucket, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = b.SetReadDeadline(dl)
		_ = b.SetWriteDeadline(dl)
	}
	return b, nil
}

func (s *GridFSStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}
	b, err := s.open(ctx)
	if err != nil {
		return nil, err
	}

	opts := options.GridFSUpload().SetMetadata(bson.M{
		"contentType": meta.ContentType,
		"hash":        meta.Hash,
		"owner":       meta.Owner,
	})
	if err := b.UploadFromStreamWithID(meta.ID, meta.FileName, bytes.NewReader(data), opts); err != nil {
		return nil, fmt.Errorf("gridfs upload %s: %w", meta.FileName, err)
	}
	return &meta, nil
}

type gridfsMeta struct {
	ContentType string `bson:"contentType"`
	Hash        string `bson:"hash"`
	Owner       string `bson:"owner"`
}

func (s *GridFSStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	b, err := s.open(ctx)
	if err != nil {
		return nil, nil, err
	}
	stream, err := b.OpenDownloadStream(id)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("gridfs download %s: %w", id, err)
	}

	file := stream.GetFile()
	var m gridfsMeta
	if len(file.Metadata) > 0 {
		if err := bson.Unmarshal(file.Metadata, &m); err != nil {
			stream.Close()
			return nil, nil, fmt.Errorf("decode gridfs metadata %s: %w", id, err)
		}
	}
	if m.ContentType == "" {
		m.ContentType = "application/octet-stream"
	}

	meta := &BlobMetadata{
		ID:          id,
		FileName:    file.Name,
		ContentType: m.ContentType,
		Size:        file.Length,
		Hash:        m.Hash,
		Owner:       m.Owner,
		CreatedAt:   file.UploadDate.UTC(),
	}
	return stream, meta, nil
}

func (s *GridFSStore) Delete(ctx context.Context, id string) error {
	b, err := s.open(ctx)
	if err != nil {
		return err
	}
	if err := b.Delete(id); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("gridfs delete %s: %w", id, err)
	}
	return nil
}
