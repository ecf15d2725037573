// Package artifact uploads finished recordings to S3-compatible storage
// and enforces retention on local and remote copies.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/zendrive/zendrive-monitor/internal/config"
)

// S3Config holds the settings for one S3 destination.
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int
}

// IsConfigured reports whether the minimum S3 fields are present.
func (c *S3Config) IsConfigured() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// BuildS3Config creates an S3Config from the config snapshot.
//
//nolint:gocritic // hugeParam: copy is acceptable for infrequent upload setup
func BuildS3Config(cfg config.Snapshot) *S3Config {
	return &S3Config{
		Endpoint:        cfg.ArtifactsEndpoint,
		Region:          cfg.ArtifactsRegion,
		Bucket:          cfg.ArtifactsBucket,
		Prefix:          cfg.ArtifactsPrefix,
		AccessKeyID:     cfg.ArtifactsAccessKey,
		SecretAccessKey: cfg.ArtifactsSecretKey,
		RetentionDays:   cfg.ArtifactsRetentionDays,
	}
}

// createS3Client creates an S3 client with the given configuration.
func createS3Client(cfg *S3Config) (*s3.Client, error) {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = region
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...), nil
}

// TestS3Connection tests connectivity to an S3 bucket by uploading and deleting a test file.
func TestS3Connection(cfg *S3Config) error {
	if !cfg.IsConfigured() {
		return fmt.Errorf("S3 is not configured")
	}

	client, err := createS3Client(cfg)
	if err != nil {
		return fmt.Errorf("create S3 client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30000*time.Millisecond)
	defer cancel()

	testKey := fmt.Sprintf("test-connection-%d.txt", time.Now().UnixNano())
	testContent := []byte("Zendrive monitor connection test")

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Bucket),
		Key:           aws.String(testKey),
		Body:          bytes.NewReader(testContent),
		ContentLength: aws.Int64(int64(len(testContent))),
	})
	if err != nil {
		return fmt.Errorf("upload test file: %w", err)
	}

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(testKey),
	})
	if err != nil {
		slog.Warn("failed to delete test file", "key", testKey, "error", err)
	}

	return nil
}
