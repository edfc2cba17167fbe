// Package awsarchive persists per-commit chunk archives to S3 so an
// indexed generation can be audited or replayed without re-chunking.
package awsarchive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/reposage/reposage/internal/core/chunk"
)

// S3API is the slice of the S3 client this package uses.
type S3API interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Archiver writes one JSON archive per indexed commit.
type Archiver struct {
	client S3API
	bucket string
	logger *slog.Logger
}

// ArchiverOption configures an Archiver.
type ArchiverOption func(*Archiver)

// WithArchiverLogger sets the logger.
func WithArchiverLogger(logger *slog.Logger) ArchiverOption {
	return func(a *Archiver) {
		a.logger = logger
	}
}

// NewArchiver creates an Archiver targeting bucket.
func NewArchiver(client S3API, bucket string, opts ...ArchiverOption) *Archiver {
	a := &Archiver{
		client: client,
		bucket: bucket,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ArchiveKey is the object key for one repository's commit archive.
func ArchiveKey(repository, ref string) string {
	return fmt.Sprintf("archives/%s/%s.json", repository, ref)
}

// Store writes the chunk records of one indexed commit.
func (a *Archiver) Store(ctx context.Context, repository, ref string, records []*chunk.Record) error {
	body, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal archive: %w", err)
	}

	key := ArchiveKey(repository, ref)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put archive %s: %w", key, err)
	}

	a.logger.InfoContext(ctx, "stored archive",
		slog.String("bucket", a.bucket),
		slog.String("key", key),
		slog.Int("records", len(records)))
	return nil
}

// Load reads back one commit archive.
func (a *Archiver) Load(ctx context.Context, repository, ref string) ([]*chunk.Record, error) {
	key := ArchiveKey(repository, ref)
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get archive %s: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive %s: %w", key, err)
	}

	var records []*chunk.Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal archive %s: %w", key, err)
	}
	return records, nil
}
