// internal/media/s3.go
// Package media provides S3-compatible storage for claim evidence documents
// (hospital bills, discharge summaries). Claimants upload directly via
// presigned URLs; the ledger only stores the resulting document reference.
package media

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"
)

// checksumMetadataKey is the object metadata entry holding the client-asserted
// SHA-256 checksum, set by the uploading client and verified at finalize.
const checksumMetadataKey = "sha256"

// S3Client wraps the AWS S3 client for evidence document operations.
type S3Client struct {
	client *s3.Client // AWS S3 client
	bucket string     // S3 bucket name for evidence storage
}

// NewS3Client creates a new S3 client for evidence operations.
// It supports both AWS S3 and S3-compatible services like MinIO.
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

	return &S3Client{
		client: client,
		bucket: bucket,
	}, nil
}

// NewDocumentID mints a sortable, collision-free evidence document id.
func NewDocumentID() string {
	return "evidence/" + ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// GenerateUploadURL generates a presigned PUT URL so claimants upload evidence
// directly to S3 without streaming through the ledger service.
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

// VerifyObject checks that an uploaded evidence document exists and that its
// recorded checksum matches the one asserted at finalize time.
// Returns whether the checksum matched and the object size.
func (s *S3Client) VerifyObject(ctx context.Context, key, expectedChecksum string) (bool, int64, error) {
	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, 0, fmt.Errorf("failed to get object metadata: %w", err)
	}

	var size int64
	if result.ContentLength != nil {
		size = *result.ContentLength
	}

	actualChecksum := result.Metadata[checksumMetadataKey]
	if actualChecksum == "" || actualChecksum != expectedChecksum {
		return false, size, nil
	}

	return true, size, nil
}
