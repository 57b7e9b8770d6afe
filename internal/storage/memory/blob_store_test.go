package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "sitemaps/example.com/abc.txt", "text/plain", bytes.NewBufferString("a\nb"))
	require.NoError(t, err)
	assert.Equal(t, "memory://sitemaps/example.com/abc.txt", uri)

	obj, ok := store.Get("sitemaps/example.com/abc.txt")
	require.True(t, ok)
	assert.Equal(t, "text/plain", obj.ContentType)
	assert.Equal(t, "a\nb", string(obj.Data))

	obj.Data[0] = 'Z'
	again, _ := store.Get("sitemaps/example.com/abc.txt")
	assert.Equal(t, "a\nb", string(again.Data))
	assert.Equal(t, 1, store.Len())
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }

func TestBlobStorePutObjectReadError(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), "x", "", failingReader{})
	require.ErrorContains(t, err, "read failed")
}
