// Package storage holds the object stores for invoice attachments.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	ledgerapp "github.com/erp/ledger/internal/application/ledger"
	infraconfig "github.com/erp/ledger/internal/infrastructure/config"
	"github.com/erp/ledger/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var _ ledgerapp.ObjectStorage = (*S3ObjectStorage)(nil)

var errEmptyKey = errors.New("storage key is required")

const (
	defaultEndpoint          = "http://localhost:9000"
	defaultRegion            = "us-east-1"
	defaultPresignExpiration = 15 * time.Minute
)

// S3ObjectStorage keeps invoice attachments in an S3-compatible bucket
// (AWS S3, RustFS, MinIO).
type S3ObjectStorage struct {
	client            *s3.Client
	presign           *s3.PresignClient
	bucket            string
	presignExpiration time.Duration
	logger            *zap.Logger
}

// S3ObjectStorageOption configures an S3ObjectStorage
type S3ObjectStorageOption func(*S3ObjectStorage)

func WithLogger(logger *zap.Logger) S3ObjectStorageOption {
	return func(s *S3ObjectStorage) {
		s.logger = logger
	}
}

func WithPresignExpiration(d time.Duration) S3ObjectStorageOption {
	return func(s *S3ObjectStorage) {
		s.presignExpiration = d
	}
}

// NewS3ObjectStorage builds the attachment store from configuration. Bucket
// and static credentials are required. The endpoint defaults to a local
// RustFS and gets a scheme from UseSSL when it has none.
func NewS3ObjectStorage(cfg *infraconfig.StorageConfig, opts ...S3ObjectStorageOption) (*S3ObjectStorage, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	for _, req := range []struct{ value, name string }{
		{cfg.Bucket, "bucket"},
		{cfg.AccessKey, "access key"},
		{cfg.SecretKey, "secret key"},
	} {
		if req.value == "" {
			return nil, fmt.Errorf("storage %s is required", req.name)
		}
	}
	endpoint, err := endpointURL(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		o.BaseEndpoint = aws.String(endpoint)
	})

	s := &S3ObjectStorage{
		client:            client,
		presign:           s3.NewPresignClient(client),
		bucket:            cfg.Bucket,
		presignExpiration: cfg.PresignExpiration,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.presignExpiration <= 0 {
		s.presignExpiration = defaultPresignExpiration
	}
	return s, nil
}

func endpointURL(raw string, useSSL bool) (string, error) {
	if raw == "" {
		return defaultEndpoint, nil
	}
	if !strings.Contains(raw, "://") {
		scheme := "http://"
		if useSSL {
			scheme = "https://"
		}
		raw = scheme + raw
	}
	if _, err := url.Parse(raw); err != nil {
		return "", fmt.Errorf("invalid storage endpoint: %w", err)
	}
	return raw, nil
}

// isNotFound matches the typed S3 errors and the bare API error codes some
// S3-compatible servers send for a 404.
func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}

// EnsureBucket creates the bucket when it is missing. Called once at startup.
func (s *S3ObjectStorage) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	var owned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &owned) {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("Attachment bucket created", zap.String("bucket", s.bucket))
	return nil
}

// GenerateDownloadURL presigns a GET for key. A non-positive expiresIn
// falls back to the configured presign expiration.
func (s *S3ObjectStorage) GenerateDownloadURL(ctx context.Context, key string, expiresIn time.Duration) (string, time.Time, error) {
	if key == "" {
		return "", time.Time{}, errEmptyKey
	}
	if expiresIn <= 0 {
		expiresIn = s.presignExpiration
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiresIn))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return req.URL, time.Now().Add(expiresIn), nil
}

// Upload writes data under key. Attachments pass through the service so the
// key is recorded on the invoice in the same request.
func (s *S3ObjectStorage) Upload(ctx context.Context, key string, data []byte, contentType string) (err error) {
	if key == "" {
		return errEmptyKey
	}
	ctx, span := s.startSpan(ctx, "upload", key, attribute.Int("storage.size", len(data)))
	defer endSpan(span, &err)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	s.logger.Debug("Attachment uploaded", zap.String("key", key), zap.Int("size", len(data)))
	return nil
}

// DeleteObject removes an attachment. Deleting a missing key succeeds.
func (s *S3ObjectStorage) DeleteObject(ctx context.Context, key string) (err error) {
	if key == "" {
		return errEmptyKey
	}
	ctx, span := s.startSpan(ctx, "delete", key)
	defer endSpan(span, &err)

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	s.logger.Debug("Attachment deleted", zap.String("key", key))
	return nil
}

// ObjectExists heads key
func (s *S3ObjectStorage) ObjectExists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errEmptyKey
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
}

// GetBucket returns the bucket name
func (s *S3ObjectStorage) GetBucket() string {
	return s.bucket
}

func (s *S3ObjectStorage) startSpan(ctx context.Context, op, key string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := telemetry.StartSpan(ctx, "storage."+op)
	span.SetAttributes(append([]attribute.KeyValue{
		attribute.String("storage.bucket", s.bucket),
		attribute.String("storage.key", key),
	}, extra...)...)
	return ctx, span
}

func endSpan(span trace.Span, err *error) {
	telemetry.RecordError(span, *err)
	span.End()
}
