package deadletter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goliatone/go-botfactory/core"
	goerrors "github.com/goliatone/go-errors"
)

// S3API is the subset of the S3 client the archive uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// S3Sink archives dead letters as JSON objects under
// <prefix><tenant>/<yyyy>/<mm>/<dd>/<id>.json. Payloads stay sealed with the
// tenant queue key.
type S3Sink struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Client builds an S3 client, honouring a custom endpoint for MinIO or
// LocalStack.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("deadletter: load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func NewS3Sink(client S3API, cfg S3Config) (*S3Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("deadletter: s3 client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("deadletter: s3 bucket is required")
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Sink{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (s *S3Sink) Key(letter core.DeadLetter) string {
	failedAt := letter.FailedAt.UTC()
	return s.prefix + path.Join(
		letter.Tenant,
		failedAt.Format("2006"),
		failedAt.Format("01"),
		failedAt.Format("02"),
		letter.ID+".json",
	)
}

func (s *S3Sink) Publish(ctx context.Context, letter core.DeadLetter) error {
	body, err := json.Marshal(letter)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.Key(letter)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return s3WrapError(err, "deadletter: s3 put failed", letter.Tenant)
	}
	return nil
}

// Purge deletes every archived object of tenant.
func (s *S3Sink) Purge(ctx context.Context, tenant string) error {
	prefix := s.prefix + tenant + "/"
	var token *string
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return s3WrapError(err, "deadletter: s3 list failed", tenant)
		}
		for _, object := range page.Contents {
			if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    object.Key,
			}); err != nil {
				return s3WrapError(err, "deadletter: s3 delete failed", tenant)
			}
		}
		if page.IsTruncated == nil || !*page.IsTruncated {
			return nil
		}
		token = page.NextContinuationToken
	}
}

func s3WrapError(err error, message string, tenant string) error {
	return core.WrapError(err, goerrors.CategoryExternal, message, core.ErrorInternal, map[string]any{"tenant": tenant})
}

var (
	_ core.DeadLetterSink = (*S3Sink)(nil)
	_ Purger              = (*S3Sink)(nil)
	_ S3API               = (*s3.Client)(nil)
)
