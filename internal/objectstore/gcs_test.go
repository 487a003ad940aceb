package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGCSStoreSignedURLIsDeterministic(t *testing.T) {
	store := &GCSStore{bucket: "alloybuild-logs"}

	first, err := store.SignedURL(context.Background(), "logs/job-1.log")
	require.NoError(t, err)
	second, err := store.SignedURL(context.Background(), "logs/job-1.log")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "https://storage.googleapis.com/alloybuild-logs/logs/job-1.log", first)
}

func TestGCSStoreSignedURLVariesByKey(t *testing.T) {
	store := &GCSStore{bucket: "alloybuild-logs"}

	a, err := store.SignedURL(context.Background(), "sources/job-1.zip")
	require.NoError(t, err)
	b, err := store.SignedURL(context.Background(), "sources/job-2.zip")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}
