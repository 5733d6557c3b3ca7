package api

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mahirjain10/image-variants/config"
	"github.com/mahirjain10/image-variants/internal/addressing"
	"github.com/mahirjain10/image-variants/internal/fetch"
	"github.com/mahirjain10/image-variants/internal/pipeline"
	"github.com/mahirjain10/image-variants/internal/storage"
	"github.com/mahirjain10/image-variants/internal/transformation"
	"github.com/mahirjain10/image-variants/internal/utils"
)

func newTestRouter(t *testing.T) (*gin.Engine, *storage.MemoryStore, string) {
	t.Helper()
	cfg := config.Defaults()
	cfg.BucketName = "media"
	cfg.CDNBaseURL = "https://cdn.example.com"
	cfg.StorageBackend = "memory"
	cfg.ScratchDir = t.TempDir()
	cfg.UploadDir = t.TempDir()

	addr, err := addressing.New(addressing.Options{Namespace: cfg.Namespace, CDNBaseURL: cfg.CDNBaseURL, Bucket: cfg.BucketName})
	require.NoError(t, err)
	policy := utils.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, Timeout: 5 * time.Second}
	mem := storage.NewMemoryStore()
	p := pipeline.New(
		fetch.NewFetcher(nil, nil, policy, cfg.MaxUploadBytes, nil),
		transformation.NewNative(nil, nil, nil),
		addr,
		storage.NewDedupStore(mem, addr, policy),
		pipeline.Settings{ScratchRoot: cfg.ScratchDir, Parallelism: 2, MaxUploadBytes: cfg.MaxUploadBytes, AllowedMIME: cfg.IsAllowedMIME},
		nil,
	)
	catalog := config.Variants{
		"thumbnail": {Format: "webp", Quality: 80, MaxWidth: 50, MaxHeight: 50},
		"broken":    {Format: "avif", Quality: 50},
	}
	return NewRouter(NewHandler(p, catalog, cfg, zap.NewNop())), mem, cfg.UploadDir
}

func jpegFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{uint8(x), 128, uint8(y), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, file []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if file != nil {
		part, err := w.CreateFormFile("file", "photo.jpg")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/optimize", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	router, _, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestOptimizeSuccess(t *testing.T) {
	router, mem, uploads := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRequest(t, jpegFixture(t, 300, 150), map[string]string{
		"format":  "png",
		"quality": "90",
		"width":   "100",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp optimizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Result)
	assert.NotEmpty(t, resp.Result.ID)
	assert.Equal(t, "png", string(resp.Result.Format))
	assert.Equal(t, 100, resp.Result.Width)
	assert.Equal(t, 50, resp.Result.Height)
	assert.Regexp(t, `^https://cdn\.example\.com/images/optimized/[0-9a-f]{64}\.png$`, resp.Result.URL)
	assert.Equal(t, 1, mem.Len())

	staged, err := os.ReadDir(uploads)
	require.NoError(t, err)
	assert.Empty(t, staged, "staged upload must be removed")
}

func TestOptimizeValidation(t *testing.T) {
	router, mem, uploads := newTestRouter(t)
	tests := []struct {
		name   string
		file   []byte
		fields map[string]string
		status int
	}{
		{"missing file", nil, nil, http.StatusBadRequest},
		{"bad format", jpegFixture(t, 10, 10), map[string]string{"format": "gif"}, http.StatusBadRequest},
		{"quality out of range", jpegFixture(t, 10, 10), map[string]string{"quality": "101"}, http.StatusBadRequest},
		{"width not a number", jpegFixture(t, 10, 10), map[string]string{"width": "wide"}, http.StatusBadRequest},
		{"not an image", []byte("hello world"), nil, http.StatusBadRequest},
		{"avif without encoder", jpegFixture(t, 10, 10), map[string]string{"format": "avif"}, http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, multipartRequest(t, tt.file, tt.fields))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Message)
		})
	}
	assert.Zero(t, mem.Len())
	staged, err := os.ReadDir(uploads)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestVariantsEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)
	img := jpegFixture(t, 120, 80)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(img)
	}))
	defer origin.Close()

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/variants", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := post(`{"source":"` + origin.URL + `/a.jpg","variants":["thumbnail"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ok variantsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ok))
	assert.True(t, ok.Success)
	assert.Equal(t, 50, ok.Results["thumbnail"].Stats.Width)

	rec = post(`{"source":"` + origin.URL + `/a.jpg"}`)
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())
	var partial variantsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &partial))
	assert.False(t, partial.Success)
	assert.Contains(t, partial.Results, "thumbnail")
	require.Len(t, partial.Errors, 1)
	assert.Equal(t, "broken", partial.Errors[0].Variant)
	assert.Equal(t, "transcode", partial.Errors[0].Step)

	rec = post(`{"variants":["thumbnail"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "source is required")

	rec = post(`{"source": "https://example.com/a.jpg",`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
	assert.NotContains(t, rec.Body.String(), "source is required")

	assert.Equal(t, http.StatusBadRequest, post(`{"source":"/etc/passwd"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"source":"`+origin.URL+`/a.jpg","variants":["poster"]}`).Code)
}
