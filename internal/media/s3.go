// internal/media/s3.go
// Package media provides S3-compatible storage for listing images.
// Clients upload directly against presigned URLs so image bytes never
// stream through the data service.
package media

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MaxImageSize is the largest accepted listing image, in bytes.
const MaxImageSize = 10 * 1024 * 1024

// AllowedMimeTypes lists the image types accepted for listings.
var AllowedMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// S3Client wraps the AWS S3 client for listing image uploads. It works
// against AWS S3 and S3-compatible services like MinIO.
type S3Client struct {
	client *s3.Client
	bucket string
}

// NewS3Client creates an S3 client against the given endpoint and
// bucket with static credentials.
func NewS3Client(endpoint, region, bucket, accessKey, secretKey string) (*S3Client, error) {
	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(region),
		config.WithBaseEndpoint(endpoint),
		config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     accessKey,
					SecretAccessKey: secretKey,
				}, nil
			})),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true // Required for MinIO and other S3-compatible services
	})

	return &S3Client{client: client, bucket: bucket}, nil
}

// ValidateUpload checks a proposed upload against the size and type
// limits before any URL is issued.
func ValidateUpload(mimeType string, size int64) error {
	if !AllowedMimeTypes[mimeType] {
		return fmt.Errorf("unsupported image type: %s", mimeType)
	}
	if size <= 0 {
		return fmt.Errorf("image size must be positive")
	}
	if size > MaxImageSize {
		return fmt.Errorf("image exceeds %d byte limit", MaxImageSize)
	}
	return nil
}

// GenerateUploadURL generates a presigned PUT URL for the given object
// key.
func (s *S3Client) GenerateUploadURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(s.client)

	presignResult, err := presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return presignResult.URL, nil
}

// ObjectExists reports whether the object was actually uploaded, with
// its size.
func (s *S3Client) ObjectExists(ctx context.Context, key string) (bool, int64, error) {
	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, 0, fmt.Errorf("failed to get object metadata: %w", err)
	}
	return true, *result.ContentLength, nil
}
