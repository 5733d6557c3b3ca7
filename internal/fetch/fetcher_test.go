package fetch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahirjain10/image-variants/internal/types"
	"github.com/mahirjain10/image-variants/internal/utils"
)

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 90, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}))
	return buf.Bytes()
}

func testPolicy() utils.RetryPolicy {
	return utils.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Timeout: 2 * time.Second}
}

func TestFetchWritesScratchFile(t *testing.T) {
	body := jpegBytes(t, 40, 30)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// a misleading header must lose to the magic bytes
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(srv.Client(), nil, testPolicy(), 1<<20, nil)
	src, err := f.Fetch(context.Background(), srv.URL+"/photo.png?v=2", dir)
	require.NoError(t, err)

	assert.True(t, src.Temporary)
	assert.Equal(t, "image/jpeg", src.MIME)
	assert.Equal(t, "jpeg", src.Format)
	assert.Equal(t, int64(len(body)), src.Size)
	assert.Equal(t, 40, src.Width)
	assert.Equal(t, 30, src.Height)
	assert.Equal(t, dir, filepath.Dir(src.Path))
	assert.Equal(t, ".jpg", filepath.Ext(src.Path))

	onDisk, err := os.ReadFile(src.Path)
	require.NoError(t, err)
	assert.Equal(t, body, onDisk)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	body := jpegBytes(t, 8, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), nil, testPolicy(), 1<<20, nil)
	src, err := f.Fetch(context.Background(), srv.URL+"/a.jpg", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, body, src.Data)
}

func TestFetchNotFoundIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), nil, testPolicy(), 1<<20, nil)
	_, err := f.Fetch(context.Background(), srv.URL+"/missing.jpg", t.TempDir())
	require.Error(t, err)

	var fe *types.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.False(t, fe.Retryable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchGivesUpAfterThreeAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), nil, testPolicy(), 1<<20, nil)
	_, err := f.Fetch(context.Background(), srv.URL+"/busy.jpg", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, types.IsRetryable(err))
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), nil, testPolicy(), 1024, nil)
	_, err := f.Fetch(context.Background(), srv.URL+"/big.jpg", t.TempDir())
	var fe *types.FetchError
	require.ErrorAs(t, err, &fe)
	assert.False(t, fe.Retryable)
}

func TestFetchRejectsInvalidURL(t *testing.T) {
	f := NewFetcher(nil, nil, testPolicy(), 1024, nil)
	_, err := f.Fetch(context.Background(), "ftp://example.com/a.jpg", t.TempDir())
	var ve *types.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestOpenLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.jpeg")
	require.NoError(t, os.WriteFile(path, jpegBytes(t, 12, 6), 0o644))

	f := NewFetcher(nil, nil, testPolicy(), 1<<20, nil)
	src, err := f.Load(context.Background(), path, t.TempDir())
	require.NoError(t, err)
	assert.False(t, src.Temporary)
	assert.Equal(t, path, src.Path)
	assert.Equal(t, "jpeg", src.Format)
	assert.Equal(t, 12, src.Width)

	_, err = f.Open(filepath.Join(t.TempDir(), "missing.jpg"))
	var ve *types.ValidationError
	assert.ErrorAs(t, err, &ve)
}

type fakeS3 struct {
	bucket, key string
	data        []byte
	err         error
}

func (s *fakeS3) DownloadFromS3Object(_ context.Context, bucket, key string, _ int64) ([]byte, string, error) {
	s.bucket, s.key = bucket, key
	return s.data, "image/jpeg", s.err
}

func TestFetchS3Source(t *testing.T) {
	s3 := &fakeS3{data: jpegBytes(t, 10, 10)}
	f := NewFetcher(nil, s3, testPolicy(), 1<<20, nil)

	src, err := f.Load(context.Background(), "s3://raw-bucket/uploads/u1/pic.jpg", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "raw-bucket", s3.bucket)
	assert.Equal(t, "uploads/u1/pic.jpg", s3.key)
	assert.True(t, src.Temporary)
	assert.Equal(t, "image/jpeg", src.MIME)

	s3.err = errors.New("AccessDenied")
	_, err = f.FetchS3(context.Background(), "s3://raw-bucket/x.jpg", t.TempDir())
	var fe *types.FetchError
	require.ErrorAs(t, err, &fe)
	assert.False(t, fe.Retryable)
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://example.com/a.jpg"))
	assert.True(t, IsRemote("S3://bucket/a.jpg"))
	assert.False(t, IsRemote("/tmp/a.jpg"))
}
