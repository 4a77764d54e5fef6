package storage

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bugreport-api/pkg/config"
)

func TestNewMinioStorageRequiresBucket(t *testing.T) {
	_, err := NewMinioStorage(config.MinioConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)

	store, err := NewMinioStorage(config.MinioConfig{Endpoint: "localhost:9000", Bucket: "attachments"})
	require.NoError(t, err)
	assert.Equal(t, "attachments", store.bucket)
}

func TestIsMinioNotFound(t *testing.T) {
	assert.True(t, isMinioNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, isMinioNotFound(minio.ErrorResponse{StatusCode: 404}))
	assert.False(t, isMinioNotFound(minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}))
	assert.False(t, isMinioNotFound(errors.New("dial tcp: refused")))
}
