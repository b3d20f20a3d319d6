package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// s3API is the slice of the S3 client this store uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type s3Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Options configures an S3Store. Endpoint is optional and enables
// S3-compatible services (R2, MinIO).
type S3Options struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Logger    zerolog.Logger
}

// S3Store publishes artifacts to an S3-compatible bucket and mints
// presigned GET URLs.
type S3Store struct {
	api     s3API
	presign s3Presigner
	bucket  string
	logger  zerolog.Logger
}

// NewS3Store builds a store with static credentials and bounded adaptive
// retry on the transport, matching the reference deployment.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	if opts.AccessKey == "" || opts.SecretKey == "" {
		return nil, errors.New("storage: access and secret keys are required")
	}
	region := opts.Region
	if region == "" {
		region = "auto"
	}

	cred := credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(cred),
		awsconfig.WithRegion(region),
		awsconfig.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewAdaptiveMode(), 3)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		api:     client,
		presign: s3.NewPresignClient(client),
		bucket:  opts.Bucket,
		logger:  opts.Logger,
	}, nil
}

// Upload writes data under key, then presigns a GET for it. Presigning is
// unreachable unless the put succeeded.
func (s *S3Store) Upload(ctx context.Context, key string, data []byte, contentType string) (StoredArtifact, error) {
	if contentType == "" {
		contentType = "image/png"
	}
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return StoredArtifact{}, fmt.Errorf("%w: put %q: %v", ErrWriteFailed, key, err)
	}

	signed, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(PresignTTL))
	if err != nil {
		return StoredArtifact{}, fmt.Errorf("storage: presign %q: %w", key, err)
	}

	s.logger.Info().
		Str("key", key).
		Int("bytes", len(data)).
		Str("bucket", s.bucket).
		Msg("storage: uploaded artifact")

	return StoredArtifact{
		Key:       key,
		URL:       signed.URL,
		ExpiresAt: time.Now().Add(PresignTTL),
	}, nil
}

// Exists reports whether an object is present under key.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("storage: head %q: %w", key, err)
	}
	return true, nil
}

// Download fetches an object's content.
func (s *S3Store) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: get %q: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: read %q: %w", key, err)
	}
	return data, nil
}
