// Package storage publishes files into a hosting resource's document root,
// which lives in S3-compatible object storage under the resource's
// storage path.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/edvin/certflow/internal/model"
)

type Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

// S3Publisher writes files into the bucket holding every resource's content.
type S3Publisher struct {
	logger zerolog.Logger
	client *s3.Client
	bucket string
}

func NewS3Publisher(logger zerolog.Logger, opts Options) *S3Publisher {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	s3opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		UsePathStyle: true,
	}
	if opts.Endpoint != "" {
		s3opts.BaseEndpoint = aws.String(opts.Endpoint)
	}
	return &S3Publisher{
		logger: logger.With().Str("component", "s3-publisher").Logger(),
		client: s3.New(s3opts),
		bucket: opts.Bucket,
	}
}

// ObjectKey maps a path relative to the resource's document root to its
// object key.
func ObjectKey(resource *model.HostingResource, relPath string) string {
	return path.Join(strings.Trim(resource.StoragePath, "/"), strings.TrimPrefix(relPath, "/"))
}

func (p *S3Publisher) WriteFile(ctx context.Context, resource *model.HostingResource, relPath string, content []byte) error {
	key := ObjectKey(resource, relPath)
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
		ContentType:   aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("write %s for resource %s: %w", key, resource.ID, err)
	}
	p.logger.Debug().Str("resource", resource.ID).Str("key", key).Msg("published file")
	return nil
}

func (p *S3Publisher) FileExists(ctx context.Context, resource *model.HostingResource, relPath string) (bool, error) {
	key := ObjectKey(resource, relPath)
	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s for resource %s: %w", key, resource.ID, err)
}

// DeleteFile removes the object; a missing object is not an error.
func (p *S3Publisher) DeleteFile(ctx context.Context, resource *model.HostingResource, relPath string) error {
	key := ObjectKey(resource, relPath)
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete %s for resource %s: %w", key, resource.ID, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
