// Package s3blob implements storage.BlobStore on S3-compatible object
// storage (AWS S3, MinIO).
package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/adminboard/pkg/observability"
	"github.com/platinummonkey/adminboard/pkg/storage"
)

// Store handles object storage operations
type Store struct {
	client  *s3.Client
	bucket  string
	baseURL string
	metrics *observability.Metrics
}

// New builds an S3 client from cfg and makes sure the bucket exists
func New(ctx context.Context, cfg storage.Config, metrics *observability.Metrics) (*Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	s := NewWithClient(client, cfg.S3Bucket, cfg.PublicBaseURL, metrics)
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}
	return s, nil
}

// NewWithClient wraps an existing client without touching the bucket
func NewWithClient(client *s3.Client, bucket, baseURL string, metrics *observability.Metrics) *Store {
	return &Store{client: client, bucket: bucket, baseURL: baseURL, metrics: metrics}
}

func (s *Store) span(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return observability.Tracer().Start(ctx, "S3."+op,
		trace.WithAttributes(
			attribute.String("s3.operation", op),
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", key),
		),
	)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Put uploads content. The body is buffered so the request can be signed
// over plain HTTP endpoints.
func (s *Store) Put(ctx context.Context, path string, content io.Reader, contentType string) (obj storage.Object, err error) {
	start := time.Now()
	ctx, span := s.span(ctx, "PutObject", path)
	defer func() {
		finish(span, err)
		s.metrics.ObserveStorage("put", "s3", start, err)
	}()

	path, err = storage.CleanPath(path)
	if err != nil {
		return storage.Object{}, err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return storage.Object{}, fmt.Errorf("failed to read content: %w", err)
	}
	span.SetAttributes(attribute.Int("content.size", len(data)))

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err = s.client.PutObject(ctx, input); err != nil {
		return storage.Object{}, fmt.Errorf("failed to upload to s3: %w", err)
	}

	return storage.Object{
		Path:        path,
		ContentType: contentType,
		Size:        int64(len(data)),
		URL:         s.URL(path),
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

func (s *Store) Get(ctx context.Context, path string) (rc io.ReadCloser, obj storage.Object, err error) {
	start := time.Now()
	ctx, span := s.span(ctx, "GetObject", path)
	defer func() {
		finish(span, err)
		s.metrics.ObserveStorage("get", "s3", start, err)
	}()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.Object{}, storage.ErrNotFound
		}
		return nil, storage.Object{}, fmt.Errorf("failed to get object from s3: %w", err)
	}

	obj = storage.Object{
		Path:        path,
		ContentType: aws.ToString(out.ContentType),
		Size:        aws.ToInt64(out.ContentLength),
		URL:         s.URL(path),
	}
	if out.LastModified != nil {
		obj.UpdatedAt = out.LastModified.UTC()
	}
	return out.Body, obj, nil
}

func (s *Store) Exists(ctx context.Context, path string) (ok bool, err error) {
	ctx, span := s.span(ctx, "HeadObject", path)
	defer func() { finish(span, err) }()

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, path string) (err error) {
	start := time.Now()
	ctx, span := s.span(ctx, "DeleteObject", path)
	defer func() {
		finish(span, err)
		s.metrics.ObserveStorage("delete", "s3", start, err)
	}()

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) (objs []storage.Object, err error) {
	ctx, span := s.span(ctx, "ListObjectsV2", prefix)
	defer func() { finish(span, err) }()

	prefix = strings.TrimLeft(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, item := range page.Contents {
			key := aws.ToString(item.Key)
			obj := storage.Object{Path: key, Size: aws.ToInt64(item.Size), URL: s.URL(key)}
			if item.LastModified != nil {
				obj.UpdatedAt = item.LastModified.UTC()
			}
			objs = append(objs, obj)
		}
	}
	return objs, nil
}

func (s *Store) Bucket() string { return s.bucket }

func (s *Store) URL(path string) string { return storage.PathStyleURL(s.baseURL, s.bucket, path) }

// HealthCheck verifies S3 connectivity
func (s *Store) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}

	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	if err != nil && !errors.As(err, &owned) && !errors.As(err, &exists) {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}
