package clients

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
	Prefix          string
}

// S3Client stores proof images in an S3-compatible bucket and hands out
// short-lived presigned URLs for admin review.
type S3Client struct {
	raw    *minio.Client
	bucket string
	prefix string
	urlTTL time.Duration
}

func NewS3Client(ctx context.Context, cfg S3Config) (*S3Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	return &S3Client{
		raw:    client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		urlTTL: 15 * time.Minute,
	}, nil
}

func (c *S3Client) Save(ctx context.Context, fileName string, data []byte, contentType string) (string, error) {
	if c.raw == nil {
		return "", errors.New("s3 client is nil")
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return "", fmt.Errorf("failed to generate object name: %w", err)
	}
	key := fmt.Sprintf("%s%s_%s", c.prefix, hex.EncodeToString(randBytes), fileName)

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	reader := bytes.NewReader(data)
	_, err := c.raw.PutObject(ctx, c.bucket, key, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %q failed: %w", key, err)
	}

	return key, nil
}

func (c *S3Client) Exists(ctx context.Context, ref string) (bool, error) {
	if c.raw == nil {
		return false, errors.New("s3 client is nil")
	}
	if ref == "" {
		return false, nil
	}

	_, err := c.raw.StatObject(ctx, c.bucket, ref, minio.StatObjectOptions{})
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == minio.NoSuchKey {
			return false, nil
		}
		return false, fmt.Errorf("stat object %q failed: %w", ref, err)
	}
	return true, nil
}

func (c *S3Client) URL(ctx context.Context, ref string) (string, error) {
	if c.raw == nil {
		return "", errors.New("s3 client is nil")
	}

	u, err := c.raw.PresignedGetObject(ctx, c.bucket, ref, c.urlTTL, nil)
	if err != nil {
		return "", fmt.Errorf("presign get object %q failed: %w", ref, err)
	}

	return u.String(), nil
}
