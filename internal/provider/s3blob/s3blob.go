// Package s3blob stores blobs in an S3 compatible bucket, keyed by content digest.
package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/openmined/blobdispatch/internal/blob"
)

const (
	metaFilename = "filename"
	metaDigest   = "digest"
)

// Config holds the bucket and credentials of an S3 provider
type Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	// Prefix is prepended to object keys inside the bucket, e.g. "blobs/"
	Prefix string `mapstructure:"prefix"`
}

func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region required")
	}
	return nil
}

// s3API is the part of the S3 client the provider uses
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Provider stores blobs as S3 objects named by their sha256 digest
type Provider struct {
	client s3API
	config *Config
}

// New creates a provider over an existing client. Use NewWithConfig to build the client as well.
func New(client s3API, cfg *Config) *Provider {
	return &Provider{client: client, config: cfg}
}

// NewWithConfig builds an S3 client from static credentials. A custom endpoint switches
// to path style addressing, as MinIO and most S3 compatible stores expect.
func NewWithConfig(ctx context.Context, cfg *Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   50,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return New(client, cfg), nil
}

// WriteBlob implements blob.Provider
func (p *Provider) WriteBlob(ctx context.Context, b blob.Blob) (string, error) {
	// the key is the digest, so the content has to be read before the upload starts
	data, digest, err := blob.ReadAllDigest(b)
	if err != nil {
		return "", err
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(p.config.Bucket),
		Key:           aws.String(p.objectKey(digest)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata: map[string]string{
			metaDigest: digest,
		},
	}
	if mt := b.MimeType(); mt != "" {
		input.ContentType = aws.String(mt)
	}
	if enc := b.Encoding(); enc != "" {
		input.ContentEncoding = aws.String(enc)
	}
	if fn := b.Filename(); fn != "" {
		input.Metadata[metaFilename] = fn
	}

	if _, err := p.client.PutObject(ctx, input); err != nil {
		return "", err
	}

	return digest, nil
}

// ReadBlob implements blob.Provider
func (p *Provider) ReadBlob(ctx context.Context, key string) (blob.Blob, error) {
	if key == "" || strings.ContainsAny(key, "/\\") {
		return nil, fmt.Errorf("s3 key %q: %w", key, blob.ErrBlobNotFound)
	}

	resp, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.config.Bucket),
		Key:    aws.String(p.objectKey(key)),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("s3 key %q: %w", key, blob.ErrBlobNotFound)
	} else if err != nil {
		return nil, err
	}

	digest := resp.Metadata[metaDigest]
	if digest == "" {
		digest = key
	}

	return blob.NewReaderBlob(resp.Body,
		blob.WithMimeType(aws.ToString(resp.ContentType)),
		blob.WithEncoding(aws.ToString(resp.ContentEncoding)),
		blob.WithFilename(resp.Metadata[metaFilename]),
		blob.WithDigest(digest),
		blob.WithLength(aws.ToInt64(resp.ContentLength)),
	), nil
}

func (p *Provider) SupportsUserUpdate() bool {
	return false
}

// Health implements blob.HealthChecker
func (p *Provider) Health(ctx context.Context) error {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.config.Bucket)})
	return err
}

func (p *Provider) objectKey(key string) string {
	if p.config.Prefix == "" {
		return key
	}
	return path.Join(p.config.Prefix, key)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}

	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

var _ blob.Provider = (*Provider)(nil)
var _ blob.HealthChecker = (*Provider)(nil)
