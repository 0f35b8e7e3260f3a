// Package s3 provides an archive sink backed by AWS S3 (or an S3-compatible store).
package s3

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/JakeFAU/webarchiver/internal/storage"
)

// Config captures the parameters required to reach a bucket.
type Config struct {
	Bucket string
	// Region and Profile are optional; the default AWS credential chain is used otherwise.
	Region  string
	Profile string
	// Endpoint targets S3-compatible stores such as MinIO; path-style addressing is used when set.
	Endpoint string
}

// PutObjectAPI is the subset of the S3 client the sink needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Sink buffers artifacts in memory and uploads them as one object on commit.
type Sink struct {
	client PutObjectAPI
	bucket string
}

// New creates an S3-backed sink from an existing client.
func New(client PutObjectAPI, cfg Config) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Sink{client: client, bucket: cfg.Bucket}, nil
}

// NewFromConfig loads AWS configuration and builds a client for cfg.
func NewFromConfig(ctx context.Context, cfg Config) (*Sink, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return New(client, cfg)
}

// Open starts a buffered artifact that will be stored under key.
func (s *Sink) Open(_ context.Context, key string) (storage.Artifact, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("key is required")
	}
	return storage.NewBufferedArtifact(func(ctx context.Context, body io.Reader, size int64) (string, error) {
		return s.put(ctx, key, body, size)
	}), nil
}

func (s *Sink) put(ctx context.Context, key string, body io.Reader, size int64) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/warc"),
	})
	if err != nil {
		return "", fmt.Errorf("put object s3://%s/%s: %w", s.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
