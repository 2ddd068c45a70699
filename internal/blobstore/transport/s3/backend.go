// Package s3 provides a transport driver backed by an S3-compatible bucket.
// Retrieval URLs are presigned GET requests, so they expire like Bot API
// download links and flow through the same cache.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/gezibash/arc-botstore/internal/blobstore/transport"
	"github.com/gezibash/arc-botstore/internal/storage"
)

const (
	KeyBucket          = "bucket"
	KeyRegion          = "region"
	KeyEndpoint        = "endpoint"
	KeyPrefix          = "prefix"
	KeyAccessKeyID     = "access_key_id"
	KeySecretAccessKey = "secret_access_key"
	KeyForcePathStyle  = "force_path_style"
	KeyURLTTL          = "url_ttl"
	KeyMaxUploadBytes  = "max_upload_bytes"
	KeyVerifyBucket    = "verify_bucket"
)

func init() {
	transport.Register("s3", NewFactory, Defaults)
}

// Defaults returns the default configuration for the s3 driver.
func Defaults() map[string]string {
	return map[string]string{
		KeyRegion:         "us-east-1",
		KeyPrefix:         "blobs/",
		KeyForcePathStyle: "false",
		KeyURLTTL:         "1h",
		KeyMaxUploadBytes: fmt.Sprint(int64(2) << 30),
		KeyVerifyBucket:   "true",
	}
}

// NewFactory creates an s3 transport from a configuration map.
func NewFactory(ctx context.Context, config map[string]string) (transport.Transport, error) {
	bucket := storage.GetString(config, KeyBucket, "")
	if bucket == "" {
		return nil, storage.NewConfigError("s3", KeyBucket, "cannot be empty")
	}

	region := storage.GetString(config, KeyRegion, "us-east-1")
	endpoint := storage.GetString(config, KeyEndpoint, "")
	prefix := storage.GetString(config, KeyPrefix, "")
	accessKeyID := storage.GetString(config, KeyAccessKeyID, "")
	secretAccessKey := storage.GetString(config, KeySecretAccessKey, "")

	forcePathStyle, err := storage.GetBool(config, KeyForcePathStyle, false)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("s3", KeyForcePathStyle, config[KeyForcePathStyle], err.Error())
	}
	verify, err := storage.GetBool(config, KeyVerifyBucket, true)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("s3", KeyVerifyBucket, config[KeyVerifyBucket], err.Error())
	}
	urlTTL, err := storage.GetDuration(config, KeyURLTTL, time.Hour)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("s3", KeyURLTTL, config[KeyURLTTL], err.Error())
	}
	maxUpload, err := storage.GetInt64(config, KeyMaxUploadBytes, int64(2)<<30)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("s3", KeyMaxUploadBytes, config[KeyMaxUploadBytes], err.Error())
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("s3", "", "failed to load AWS config", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = forcePathStyle
		// Retries belong to the gateway's engine, which rotates backends.
		o.RetryMaxAttempts = 1
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	if verify {
		if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
			return nil, storage.NewConfigErrorWithCause("s3", KeyBucket, "bucket not accessible", err)
		}
	}

	slog.Info("s3 transport initialized", "bucket", bucket, "region", region, "prefix", prefix)

	return &Backend{
		client:    client,
		presign:   s3.NewPresignClient(client),
		bucket:    bucket,
		prefix:    prefix,
		urlTTL:    urlTTL,
		maxUpload: maxUpload,
	}, nil
}

// Backend is an S3 implementation of transport.Transport.
type Backend struct {
	client    *s3.Client
	presign   *s3.PresignClient
	bucket    string
	prefix    string
	urlTTL    time.Duration
	maxUpload int64
	closed    atomic.Bool
}

// MaxUploadBytes implements transport.Limiter.
func (b *Backend) MaxUploadBytes() int64 {
	return b.maxUpload
}

// Upload puts data under prefix+name. The object key doubles as file id.
func (b *Backend) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if b.closed.Load() {
		return "", transport.ErrClosed
	}

	key := b.prefix + name
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload: %w", classify(err))
	}
	return key, nil
}

// ResolveURL presigns a GET for the object.
func (b *Backend) ResolveURL(ctx context.Context, fileID string) (string, time.Duration, error) {
	if b.closed.Load() {
		return "", 0, transport.ErrClosed
	}

	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(fileID),
	}, s3.WithPresignExpires(b.urlTTL))
	if err != nil {
		return "", 0, fmt.Errorf("s3 resolve: %w", classify(err))
	}
	return req.URL, b.urlTTL, nil
}

// Close marks the backend closed; the SDK client needs no cleanup.
func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

func classify(err error) error {
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() >= 400 {
		te := transport.FromStatus(respErr.HTTPStatusCode(), http.StatusText(respErr.HTTPStatusCode()))
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			te.Description = apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()
		}
		te.Cause = err
		return te
	}
	return &transport.Error{Kind: transport.KindTransient, Cause: err}
}
