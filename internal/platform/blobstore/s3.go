package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps blobs as objects under a key prefix in one bucket.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Client builds an S3 client from the default AWS credential chain.
// A non-empty endpoint switches to path-style addressing (MinIO, LocalStack).
func NewS3Client(ctx context.Context, endpoint string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func NewS3Store(client S3API, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: "submissions"}
}

func (s *S3Store) key(id string) string {
	return path.Join(s.prefix, id)
}

func (s *S3Store) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(meta.ID)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(meta.Size),
		ContentType:   aws.String(meta.ContentType),
		Metadata: map[string]string{
			"filename": meta.FileName,
			"sha256":   meta.Hash,
			"owner":    meta.Owner,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("s3 put %s: %w", meta.ID, err)
	}
	return &meta, nil
}

func (s *S3Store) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("s3 get %s: %w", id, err)
	}

	meta := &BlobMetadata{
		ID:          id,
		FileName:    out.Metadata["filename"],
		ContentType: aws.ToString(out.ContentType),
		Size:        aws.ToInt64(out.ContentLength),
		Hash:        out.Metadata["sha256"],
		Owner:       out.Metadata["owner"],
	}
	if meta.FileName == "" {
		meta.FileName = id
	}
	if out.LastModified != nil {
		meta.CreatedAt = out.LastModified.UTC()
	}
	return out.Body, meta, nil
}

// Delete removes the object. S3 does not report missing keys on delete, so
// this never returns ErrBlobNotFound.
func (s *S3Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", id, err)
	}
	return nil
}
