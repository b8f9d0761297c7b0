package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds S3/MinIO configuration
type S3Config struct {
	Endpoint        string // e.g., "http://localhost:9000" for MinIO
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	PublicURL       string // Public URL of the bucket (e.g., "http://localhost:9000/media")
}

// S3Storage reads source videos from an S3-compatible bucket
type S3Storage struct {
	client    *s3.Client
	bucket    string
	publicURL string
	maxSize   int64
}

// NewS3Storage creates a new S3 storage client
func NewS3Storage(cfg S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	client := s3.New(s3.Options{
		Region:       cfg.Region,
		BaseEndpoint: aws.String(cfg.Endpoint),
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		UsePathStyle: true, // Required for MinIO
	})

	return &S3Storage{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		maxSize:   DefaultMaxVideoSize,
	}, nil
}

// KeyFromURL returns the object key if rawURL points into this bucket
func (s *S3Storage) KeyFromURL(rawURL string) (string, bool) {
	return keyFromURL(s.publicURL, rawURL)
}

func keyFromURL(publicURL, rawURL string) (string, bool) {
	if publicURL == "" {
		return "", false
	}
	prefix := publicURL + "/"
	if !strings.HasPrefix(rawURL, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(rawURL, prefix)
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	if key == "" {
		return "", false
	}
	return key, true
}

// Fetch downloads an object by key
func (s *S3Storage) Fetch(ctx context.Context, key string) (*Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: s3 key %s", ErrVideoUnavailable, key)
		}
		return nil, fmt.Errorf("%w: getting s3 object: %v", ErrSourceTransient, err)
	}
	defer out.Body.Close()

	if out.ContentLength != nil && *out.ContentLength > s.maxSize {
		return nil, ErrVideoTooLarge
	}
	data, err := readLimited(out.Body, s.maxSize)
	if err != nil {
		return nil, fmt.Errorf("reading s3 object: %w", err)
	}

	return &Object{
		Data:        data,
		ContentType: aws.ToString(out.ContentType),
	}, nil
}
