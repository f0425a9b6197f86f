package store

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Bucket is object storage for asset bytes.
type Bucket interface {
	// Put stores data under objectKey and returns its public URL.
	Put(ctx context.Context, objectKey string, data []byte, contentType string) (string, error)
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Bucket writes objects through the S3 API (Cloudflare R2 in production).
type S3Bucket struct {
	client    objectPutter
	bucket    string
	publicURL string
}

// R2Options holds the credentials for a Cloudflare R2 bucket.
type R2Options struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string // custom domain; defaults to https://<bucket>.r2.dev
}

// NewR2Bucket builds an S3 client pointed at the account's R2 endpoint.
func NewR2Bucket(ctx context.Context, opts R2Options) (*S3Bucket, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load r2 config: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", opts.AccountID)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	return newS3Bucket(client, opts.Bucket, opts.PublicURL), nil
}

func newS3Bucket(client objectPutter, bucket, publicURL string) *S3Bucket {
	if publicURL == "" {
		publicURL = fmt.Sprintf("https://%s.r2.dev", bucket)
	}
	return &S3Bucket{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

func (b *S3Bucket) Put(ctx context.Context, objectKey string, data []byte, contentType string) (string, error) {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(b.bucket),
		Key:          aws.String(objectKey),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", objectKey, err)
	}
	return b.publicURL + "/" + objectKey, nil
}
