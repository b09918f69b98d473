package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// objectAPI is the subset of the S3 client used by S3Sink.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config selects the bucket and, for S3-compatible services like MinIO, the endpoint.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// S3Sink keeps backups as objects under a key prefix.
type S3Sink struct {
	client objectAPI
	bucket string
	prefix string
	loc    *time.Location
}

// NewS3Sink builds a sink using the default AWS credential chain.
func NewS3Sink(ctx context.Context, cfg S3Config, loc *time.Location) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3Sink(client, cfg.Bucket, cfg.Prefix, loc), nil
}

func newS3Sink(client objectAPI, bucket, prefix string, loc *time.Location) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix, loc: loc}
}

func (s *S3Sink) key(name string) string { return s.prefix + name }

// Write uploads doc as name.
func (s *S3Sink) Write(ctx context.Context, name string, doc Document) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, doc); err != nil {
		return "", err
	}
	key := s.key(name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("upload backup %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Read downloads and decodes the backup stored as name.
func (s *S3Sink) Read(ctx context.Context, name string) (Document, error) {
	key := s.key(name)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return Document{}, fmt.Errorf("download backup %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()
	return Decode(out.Body, s.loc)
}

// List returns backup names below the prefix sorted ascending.
func (s *S3Sink) List(ctx context.Context) ([]string, error) {
	var (
		names []string
		token *string
	)
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list backups: %w", err)
		}
		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if name != "" && !strings.Contains(name, "/") && strings.HasSuffix(name, ".json") {
				names = append(names, name)
			}
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	sort.Strings(names)
	return names, nil
}
