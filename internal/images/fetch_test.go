package images

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch_MixedLocalAndRemote(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("remote-image"))
	}))
	defer ts.Close()

	dir := t.TempDir()
	localPath := filepath.Join(dir, "photo.jpg")
	require.NoError(t, os.WriteFile(localPath, []byte("local-image"), 0644))

	f := NewFetcher(5 * time.Second)
	images, err := f.Fetch(context.Background(), []string{localPath, ts.URL + "/a.jpg"})

	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, []byte("local-image"), images[0])
	assert.Equal(t, []byte("remote-image"), images[1])
}

func TestFetch_NoRefs(t *testing.T) {
	f := NewFetcher(time.Second)
	_, err := f.Fetch(context.Background(), nil)
	assert.ErrorContains(t, err, "no image references")
}

func TestFetch_TooManyRefs(t *testing.T) {
	f := NewFetcher(time.Second)
	_, err := f.Fetch(context.Background(), []string{"a", "b", "c", "d", "e"})
	assert.ErrorContains(t, err, "too many image references")
}

func TestFetch_PartialFailureTolerated(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "photo.jpg")
	require.NoError(t, os.WriteFile(localPath, []byte("ok"), 0644))

	f := NewFetcher(time.Second)
	images, err := f.Fetch(context.Background(), []string{localPath, filepath.Join(dir, "missing.jpg")})

	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, []byte("ok"), images[0])
}

func TestFetch_AllUnreadable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	f := NewFetcher(time.Second)
	_, err := f.Fetch(context.Background(), []string{"/does/not/exist.jpg", ts.URL + "/gone.jpg"})

	assert.ErrorContains(t, err, "could be read")
}
