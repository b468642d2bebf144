// Package share delivers exported journals off the device.
package share

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Sink stores one named document and returns where it ended up.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// ExportName returns the object name for a journal export taken at t.
func ExportName(branchID string, t time.Time) string {
	return fmt.Sprintf("app_logs_%s_%s.txt", branchID, t.UTC().Format("20060102T150405Z"))
}

var errBadName = errors.New("invalid export name")

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", errBadName, name)
	}
	return nil
}

// FileSink writes exports into a directory.
type FileSink struct {
	Dir string
}

func (s FileSink) Put(_ context.Context, name string, data []byte) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.Dir, 0700); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

// S3Config holds configuration for S3Sink.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional, for MinIO or LocalStack
	Prefix   string
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads exports to a bucket.
type S3Sink struct {
	client putObjectAPI
	bucket string
	prefix string
}

// NewS3Sink builds an S3 client from the default AWS credential chain.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Sink) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	key := s.prefix + name
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put failed: %w", err)
	}
	return "s3://" + s.bucket + "/" + key, nil
}
