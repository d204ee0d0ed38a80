package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
)

// S3Config holds the configuration for the S3-compatible artifact backend.
type S3Config struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool // true for R2/MinIO
}

// LogStore archives zstd-compressed build logs in S3-compatible object storage.
type LogStore struct {
	client *s3.Client
	bucket string
}

// NewLogStore creates a new S3 log store.
func NewLogStore(cfg S3Config) (*LogStore, error) {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.Region = cfg.Region
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		},
	}

	client := s3.New(s3.Options{}, opts...)

	return &LogStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// LogKey returns the object key for a build's archived log.
func LogKey(buildID string) string {
	return fmt.Sprintf("buildlogs/%s.log.zst", buildID)
}

// ArchiveBuildLog compresses and uploads a build log. Returns the object key.
func (s *LogStore) ArchiveBuildLog(ctx context.Context, buildID string, logData []byte) (string, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return "", fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if _, err := enc.Write(logData); err != nil {
		enc.Close()
		return "", fmt.Errorf("failed to compress build log: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to finish compression: %w", err)
	}

	key := LogKey(buildID)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(buf.Len())),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload build log: %w", err)
	}

	return key, nil
}

// FetchBuildLog downloads and decompresses a build log.
func (s *LogStore) FetchBuildLog(ctx context.Context, buildID string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(LogKey(buildID)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download build log: %w", err)
	}
	defer resp.Body.Close()

	dec, err := zstd.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress build log: %w", err)
	}
	return data, nil
}

// DeleteBuildLog removes a build's archived log.
func (s *LogStore) DeleteBuildLog(ctx context.Context, buildID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(LogKey(buildID)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete build log: %w", err)
	}
	return nil
}
