package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(client *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return client.PutObject(ctx, in)
	}
)

// Config describes an S3-compatible object store (MinIO-style static
// credentials plus a custom endpoint).
type Config struct {
	Region    string
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	// PublicBaseURL is the externally reachable prefix for stored
	// objects; defaults to the endpoint when empty.
	PublicBaseURL string
}

// Client uploads media objects and issues public URLs for them.
type Client struct {
	s3     *s3.Client
	config Config
}

// New constructs a storage client from static credentials.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("storage: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage: bucket is required")
	}

	awsCfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	return &Client{s3: client, config: cfg}, nil
}

// NewObjectKey issues a date-partitioned random key for an upload.
func NewObjectKey(prefix string) string {
	now := time.Now().UTC()
	return fmt.Sprintf("%s/%d/%02d/%02d/%v", prefix, now.Year(), now.Month(), now.Day(), uuid.New())
}

// Upload stores the object and returns its key.
func (c *Client) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(c.config.Bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := putObject(c.s3, ctx, input); err != nil {
		return "", err
	}
	return key, nil
}

// PublicURL returns the externally reachable URL for a stored object.
func (c *Client) PublicURL(key string) string {
	base := c.config.PublicBaseURL
	if base == "" {
		base = c.config.Endpoint
	}
	return strings.TrimSuffix(base, "/") + "/" + c.config.Bucket + "/" + strings.TrimPrefix(key, "/")
}
