// Package s3 stores cached beatmaps in an S3-compatible bucket (AWS, MinIO).
package s3

import (
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
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/beatmapanalyzer/beatmapanalyzer/internal/logging"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/metrics"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/storage"
)

// Config holds S3 backend settings.
type Config struct {
	Endpoint  string // empty uses the AWS default resolver
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Prefix    string // prepended to every key, e.g. "maps/"
}

// objectAPI is the part of *s3.Client the backend uses.
type objectAPI interface {
	GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// Backend implements storage.Backend on one bucket and key prefix.
type Backend struct {
	api    objectAPI
	bucket string
	prefix string
}

// NewBackend connects to the bucket, creating it when it is missing. A
// failed bucket check is logged, not returned, so the server still starts
// while the object store is briefly unavailable.
func NewBackend(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backend: bucket is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("s3 backend: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true // MinIO
	})

	if err := ensureBucket(ctx, client, cfg.Bucket); err != nil {
		logging.Error("s3 bucket check failed", zap.String("bucket", cfg.Bucket), zap.Error(err))
	}

	return newBackend(client, cfg.Bucket, cfg.Prefix), nil
}

func newBackend(api objectAPI, bucket, prefix string) *Backend {
	return &Backend{api: api, bucket: bucket, prefix: prefix}
}

func ensureBucket(ctx context.Context, client *s3.Client, bucket string) error {
	start := time.Now()
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}

	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	observe("create_bucket", start, err == nil)
	if err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	logging.Info("created s3 bucket", zap.String("bucket", bucket))
	return nil
}

func observe(op string, start time.Time, ok bool) {
	metrics.RecordStorageOperation("s3", op, time.Since(start), ok)
}

func (b *Backend) key(key string) *string {
	return aws.String(b.prefix + key)
}

// isNotFound reports whether err is S3's way of saying the key is absent.
// GetObject returns NoSuchKey, HeadObject a bare NotFound, and some
// S3-compatible stores only set the error code.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

// GetObject streams the object for key. A missing key matches
// storage.ErrNotFound.
func (b *Backend) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	start := time.Now()
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    b.key(key),
	})
	switch {
	case err == nil:
		observe("get", start, true)
		return out.Body, aws.ToInt64(out.ContentLength), nil
	case isNotFound(err):
		observe("get", start, true)
		return nil, 0, fmt.Errorf("get %s: %w", key, storage.ErrNotFound)
	default:
		observe("get", start, false)
		return nil, 0, fmt.Errorf("get %s: %w", key, err)
	}
}

// PutObject uploads a map document. S3 object writes are atomic, so readers
// never observe a partial map.
func (b *Backend) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	start := time.Now()
	_, err := b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           b.key(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("text/plain; charset=utf-8"),
	})
	observe("put", start, err == nil)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	logging.Debug("s3 object stored", zap.String("key", key), zap.Int64("size", size))
	return nil
}

// DeleteObject removes the object for key. S3 treats a missing key as success.
func (b *Backend) DeleteObject(ctx context.Context, key string) error {
	start := time.Now()
	_, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    b.key(key),
	})
	observe("delete", start, err == nil)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (b *Backend) ObjectExists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	_, err := b.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    b.key(key),
	})
	if err != nil && !isNotFound(err) {
		observe("head", start, false)
		return false, fmt.Errorf("head %s: %w", key, err)
	}
	observe("head", start, true)
	return err == nil, nil
}

// ListObjects pages through every object under the prefix. Returned keys
// have the prefix stripped.
func (b *Backend) ListObjects(ctx context.Context) ([]storage.ObjectInfo, error) {
	start := time.Now()
	pages := s3.NewListObjectsV2Paginator(b.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})

	var objects []storage.ObjectInfo
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			observe("list", start, false)
			return nil, fmt.Errorf("list %s/%s: %w", b.bucket, b.prefix, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, storage.ObjectInfo{
				Key:     strings.TrimPrefix(aws.ToString(obj.Key), b.prefix),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}
	observe("list", start, true)
	return objects, nil
}

func (b *Backend) Type() string { return "s3" }

func (b *Backend) Close() error { return nil }
