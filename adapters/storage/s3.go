package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/Skryldev/image-shelf/config"
	"github.com/Skryldev/image-shelf/core"
	apperrors "github.com/Skryldev/image-shelf/errors"
)

// ContentType is stored with every backing file object.
const ContentType = "application/cbor"

// S3API is the subset of *s3.Client used by the adapter, so tests can inject
// a fake.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3 keeps backing files as objects in a single bucket.  A PutObject
// replaces the whole object, so readers see the old or the new file, never
// a partial one.
type S3 struct {
	client S3API
	bucket string
	prefix string
}

// NewS3 creates an S3 adapter.  client must not be nil.
func NewS3(client S3API, bucket, prefix string) (*S3, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 storage: client must not be nil")
	}
	if bucket == "" {
		return nil, fmt.Errorf("s3 storage: bucket required")
	}
	return &S3{client: client, bucket: bucket, prefix: prefix}, nil
}

// NewS3FromConfig builds an aws-sdk-go-v2 client from cfg.  Static keys are
// used when set; otherwise the default credential chain applies.
func NewS3FromConfig(ctx context.Context, cfg config.S3Config) (*S3, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "s3.config", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewS3(client, cfg.Bucket, cfg.Prefix)
}

func (s *S3) objectKey(key string) string { return s.prefix + key }

func (s *S3) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "s3.get", err)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, apperrors.New(apperrors.CategoryStorage, "s3.get", fmt.Errorf("%w: %s", core.ErrNotFound, key))
		}
		return nil, classify(ctx, "s3.get", err)
	}
	return out.Body, nil
}

func (s *S3) Put(ctx context.Context, key string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "s3.put", err)
	}
	// Buffer so the SDK gets a seekable body with a known length.
	body, err := io.ReadAll(r)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "s3.put.read", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(ContentType),
	})
	if err != nil {
		return classify(ctx, "s3.put", err)
	}
	return nil
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "s3.exists", err)
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, classify(ctx, "s3.exists", err)
}

// classify marks err transient only when the SDK's own retry policy would
// retry it: throttling, 5xx responses, timeouts and connection errors.
// AccessDenied, NoSuchBucket and a cancelled context are permanent.
func classify(ctx context.Context, op string, err error) error {
	if ctx.Err() == nil && retryables.IsErrorRetryable(err) == aws.TrueTernary {
		return apperrors.Transient(apperrors.CategoryStorage, op, err)
	}
	return apperrors.New(apperrors.CategoryStorage, op, err)
}

var retryables = retry.IsErrorRetryables(retry.DefaultRetryables)

// isNotFound matches both GetObject's NoSuchKey and HeadObject's bare 404.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

var _ core.StorageAdapter = (*S3)(nil)
