package artifact

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds the configuration for S3 artifact storage.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// S3Store wraps LocalStore and mirrors every saved artifact to S3. Files
// remain on disk for the local retrieval route; the returned URL points at
// the S3 object so clients fetch the durable copy.
type S3Store struct {
	*LocalStore
	client *s3.Client
	bucket string
	region string
}

// Compile-time check that S3Store implements Store.
var _ Store = (*S3Store)(nil)

// NewS3Store creates an S3Store keeping local copies under dir.
func NewS3Store(dir string, cfg S3Config) (*S3Store, error) {
	local, err := NewLocalStore(dir)
	if err != nil {
		return nil, err
	}

	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("artifact: load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	return &S3Store{
		LocalStore: local,
		client:     client,
		bucket:     cfg.Bucket,
		region:     cfg.Region,
	}, nil
}

// Save writes the file locally, uploads it to S3 and returns the object URL.
func (s *S3Store) Save(ctx context.Context, filename string, data io.Reader) (string, error) {
	if _, err := s.LocalStore.Save(ctx, filename, data); err != nil {
		return "", err
	}

	f, _, err := s.LocalStore.Open(ctx, filename)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(filename),
		Body:        f,
		ContentType: aws.String(ContentType(filename)),
	})
	if err != nil {
		return "", fmt.Errorf("artifact: upload to S3: %w", err)
	}

	url := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, filename)
	return url, nil
}

// Delete removes the local copy and the S3 object.
func (s *S3Store) Delete(ctx context.Context, filename string) error {
	if err := s.LocalStore.Delete(ctx, filename); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(filename),
	})
	if err != nil {
		return fmt.Errorf("artifact: delete from S3: %w", err)
	}
	return nil
}
