package attach

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const presignExpiry = 7 * 24 * time.Hour

// S3Blobs stores screenshot binaries in an S3-compatible bucket instead of
// inline document attachments, keeping the document store lean.
type S3Blobs struct {
	client *minio.Client
	bucket string
}

// S3Config holds the connection settings for the blob store.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewS3Blobs connects to the blob store and ensures the bucket exists.
func NewS3Blobs(ctx context.Context, cfg S3Config) (*S3Blobs, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect blob store: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		log.Printf("attach: created bucket %s", cfg.Bucket)
	}

	return &S3Blobs{client: client, bucket: cfg.Bucket}, nil
}

// PutScreenshot uploads a tab's screenshot and returns a presigned URL for
// it. The object is keyed by tab id, so a newer screenshot replaces the old
// one.
func (b *S3Blobs) PutScreenshot(ctx context.Context, tabID string, data []byte, contentType string) (string, error) {
	object := "screenshots/" + tabID
	_, err := b.client.PutObject(ctx, b.bucket, object, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload screenshot %s: %w", object, err)
	}

	url, err := b.client.PresignedGetObject(ctx, b.bucket, object, presignExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign screenshot %s: %w", object, err)
	}
	return url.String(), nil
}

// Remove deletes a tab's screenshot object, if present.
func (b *S3Blobs) Remove(ctx context.Context, tabID string) error {
	object := "screenshots/" + tabID
	err := b.client.RemoveObject(ctx, b.bucket, object, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("remove screenshot %s: %w", object, err)
	}
	return nil
}
