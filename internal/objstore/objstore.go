// Package objstore provides presigned download URLs for release artifacts
// stored in S3-compatible object storage.
package objstore

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const presignExpiry = time.Hour

// Signer produces time-limited download URLs for stored objects.
type Signer interface {
	PresignDownload(ctx context.Context, key string) (string, error)
}

// S3Signer signs download URLs against an S3-compatible endpoint.
type S3Signer struct {
	presign *s3.PresignClient
	bucket  string
}

// Options configures access to the object storage backend. Endpoint may be
// empty when talking to AWS proper.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

// NewS3Signer creates a signer for the given bucket.
func NewS3Signer(ctx context.Context, opts Options) (*S3Signer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Signer{
		presign: s3.NewPresignClient(client),
		bucket:  opts.Bucket,
	}, nil
}

// PresignDownload returns a URL that allows downloading the object for one
// hour.
func (s *S3Signer) PresignDownload(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
