package awsarchive

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reposage/reposage/internal/core/chunk"
)

type stubS3 struct {
	objects map[string]string
	lastPut *s3.PutObjectInput
}

func (s *stubS3) PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	if s.objects == nil {
		s.objects = make(map[string]string)
	}
	s.objects[aws.ToString(input.Key)] = string(body)
	s.lastPut = input
	return &s3.PutObjectOutput{}, nil
}

func (s *stubS3) GetObject(ctx context.Context, input *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := s.objects[aws.ToString(input.Key)]
	if !ok {
		return nil, assert.AnError
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestArchiveKey(t *testing.T) {
	assert.Equal(t, "archives/acme/widgets/abc123.json", ArchiveKey("acme/widgets", "abc123"))
}

func TestStoreAndLoad(t *testing.T) {
	stub := &stubS3{}
	archiver := NewArchiver(stub, "reposage-archives")

	records := []*chunk.Record{
		{ChunkID: "aaa", Repository: "acme/widgets", Ref: "abc123", FilePath: "main.go", Content: "package main"},
	}
	require.NoError(t, archiver.Store(t.Context(), "acme/widgets", "abc123", records))

	assert.Equal(t, "reposage-archives", aws.ToString(stub.lastPut.Bucket))
	assert.Equal(t, "application/json", aws.ToString(stub.lastPut.ContentType))

	loaded, err := archiver.Load(t.Context(), "acme/widgets", "abc123")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "aaa", loaded[0].ChunkID)
	assert.Equal(t, "main.go", loaded[0].FilePath)
}

func TestLoadMissingArchive(t *testing.T) {
	archiver := NewArchiver(&stubS3{}, "reposage-archives")
	_, err := archiver.Load(t.Context(), "acme/widgets", "missing")
	assert.Error(t, err)
}
