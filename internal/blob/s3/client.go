// Package s3blob uploads ledger archives to S3 or an S3-compatible store
// (MinIO, R2, iDrive e2) with aws-sdk-go-v2.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds object store connection parameters.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint for compatible providers. Empty
	// means AWS S3.
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// UseSSL picks the scheme when Endpoint has none.
	UseSSL         bool
	ForcePathStyle bool
	// Prefix is prepended to every object key.
	Prefix string
}

// Client holds the SDK client and the target bucket.
type Client struct {
	s3     *s3.Client
	bucket string
	prefix string
}

// New builds a client with static credentials.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3blob: bucket is required")
	}
	if cfg.Region == "" {
		return nil, errors.New("s3blob: region is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{
		s3:     client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Health checks that the bucket is reachable.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Bucket returns the target bucket.
func (c *Client) Bucket() string { return c.bucket }

func (c *Client) objectKey(path string) string {
	path = strings.TrimPrefix(path, "/")
	if c.prefix == "" {
		return path
	}
	return c.prefix + "/" + path
}

func normaliseEndpoint(endpoint string, useSSL bool) string {
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
