package ttscache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// objectCacheControl keeps rendered audio cacheable for a year; entries are
// content-addressed by voice binding and version tag, never mutated in place.
const objectCacheControl = "public, max-age=31536000"

// Compile-time assertion that S3Store implements ObjectStore.
var _ ObjectStore = (*S3Store)(nil)

// S3Store is an ObjectStore backed by an S3 (or S3-compatible) bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates an S3Store using the default AWS credential chain.
// endpoint, when non-empty, targets an S3-compatible service such as MinIO.
func NewS3Store(ctx context.Context, bucket, region, endpoint string) (*S3Store, error) {
	if bucket == "" {
		return nil, errors.New("ttscache: bucket must not be empty")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("ttscache: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: bucket}, nil
}

// NewS3StoreFromClient wraps an existing client, mainly for tests.
func NewS3StoreFromClient(client *s3.Client, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// Get implements ObjectStore.
func (s *S3Store) Get(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ttscache: get s3://%s/%s: %w", s.bucket, name, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("ttscache: read s3://%s/%s: %w", s.bucket, name, err)
	}
	return data, nil
}

// Put implements ObjectStore.
func (s *S3Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(name),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String("audio/basic"),
		CacheControl: aws.String(objectCacheControl),
	})
	if err != nil {
		return fmt.Errorf("ttscache: put s3://%s/%s: %w", s.bucket, name, err)
	}
	return nil
}
