package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahirjain10/image-variants/internal/types"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func baseEnv() map[string]string {
	return map[string]string{
		"BUCKET_NAME":  "media",
		"CDN_BASE_URL": "https://cdn.example.com/",
		"AWS_REGION":   "eu-west-1",
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envMap(baseEnv()))
	require.NoError(t, err)

	assert.Equal(t, "media", cfg.BucketName)
	assert.Equal(t, "https://cdn.example.com", cfg.CDNBaseURL)
	assert.Equal(t, "eu-west-1", cfg.StorageRegion)
	assert.Equal(t, "images", cfg.Namespace)
	assert.Equal(t, "sha256", cfg.HashAlgorithm)
	assert.Equal(t, "content", cfg.HashMode)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 5, cfg.BatchWidth)
	assert.Equal(t, 2*time.Hour, cfg.BatchDeadline)
	assert.Equal(t, 7*24*time.Hour, cfg.RedisIndexTTL)
	assert.Equal(t, "uploads", cfg.UploadDir)
	assert.True(t, cfg.IsAllowedMIME("IMAGE/JPEG"))
	assert.False(t, cfg.IsAllowedMIME("text/plain"))
}

func TestFromEnvOverrides(t *testing.T) {
	env := baseEnv()
	env["STORAGE_BACKEND"] = "MEMORY"
	env["HASH_ALGORITHM"] = "blake3"
	env["HASH_MODE"] = "content+metadata"
	env["NAMESPACE"] = "/catalog/"
	env["ALLOWED_MIME_TYPES"] = "image/png, image/webp,"
	env["BATCH_DEADLINE"] = "15m"
	env["REGION_AWARE_URLS"] = "true"
	env["WORKER_COUNT"] = "4"
	env["REDIS_INDEX_TTL"] = "36h"
	env["UPLOAD_DIR"] = "/srv/incoming"

	cfg, err := FromEnv(envMap(env))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StorageBackend)
	assert.Equal(t, "blake3", cfg.HashAlgorithm)
	assert.Equal(t, "content+metadata", cfg.HashMode)
	assert.Equal(t, "catalog", cfg.Namespace)
	assert.Equal(t, []string{"image/png", "image/webp"}, cfg.AllowedMIMETypes)
	assert.Equal(t, 15*time.Minute, cfg.BatchDeadline)
	assert.True(t, cfg.RegionAwareURLs)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 36*time.Hour, cfg.RedisIndexTTL)
	assert.Equal(t, "/srv/incoming", cfg.UploadDir)
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]string)
		want   string
	}{
		{"missing bucket", func(e map[string]string) { delete(e, "BUCKET_NAME") }, "BUCKET_NAME"},
		{"missing cdn", func(e map[string]string) { delete(e, "CDN_BASE_URL") }, "CDN_BASE_URL"},
		{"s3 needs region", func(e map[string]string) { delete(e, "AWS_REGION") }, "AWS_REGION"},
		{"bad integer", func(e map[string]string) { e["DEFAULT_QUALITY"] = "high" }, "DEFAULT_QUALITY"},
		{"quality range", func(e map[string]string) { e["DEFAULT_QUALITY"] = "0" }, "DEFAULT_QUALITY"},
		{"bad duration", func(e map[string]string) { e["NETWORK_TIMEOUT"] = "soon" }, "NETWORK_TIMEOUT"},
		{"bad hash", func(e map[string]string) { e["HASH_ALGORITHM"] = "md5" }, "HASH_ALGORITHM"},
		{"bad backend", func(e map[string]string) { e["STORAGE_BACKEND"] = "ftp" }, "STORAGE_BACKEND"},
		{"index ttl", func(e map[string]string) { e["REDIS_INDEX_TTL"] = "0s" }, "REDIS_INDEX_TTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := baseEnv()
			tt.mutate(env)
			_, err := FromEnv(envMap(env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMemoryBackendNeedsNoRegion(t *testing.T) {
	env := baseEnv()
	delete(env, "AWS_REGION")
	env["STORAGE_BACKEND"] = "memory"
	_, err := FromEnv(envMap(env))
	assert.NoError(t, err)
}

func TestLoadVariants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "variants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
variants:
  thumbnail: {format: webp, quality: 80, maxWidth: 200, maxHeight: 200}
  poster:
    format: jpg
    quality: 75
    maxWidth: 1200
    maxBytes: 300000
`), 0o644))

	variants, err := LoadVariants(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"poster", "thumbnail"}, variants.Names())
	assert.Equal(t, types.VariantConfig{Format: types.WEBP, Quality: 80, MaxWidth: 200, MaxHeight: 200}, variants["thumbnail"])
	assert.Equal(t, int64(300000), variants["poster"].MaxBytes)
	assert.Equal(t, types.JPEG, variants["poster"].Format)

	defaults, err := LoadVariants("")
	require.NoError(t, err)
	assert.Contains(t, defaults, "thumbnail")
}

func TestLoadVariantsRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "variants.yaml")
	require.NoError(t, os.WriteFile(path, []byte("variants:\n  bad: {format: bmp, quality: 80}\n"), 0o644))
	_, err := LoadVariants(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("variants: {}\n"), 0o644))
	_, err = LoadVariants(path)
	assert.Error(t, err)
}

func TestSelectAndClamp(t *testing.T) {
	v := DefaultVariants()
	sub, err := v.Select([]string{"thumbnail"})
	require.NoError(t, err)
	assert.Len(t, sub, 1)

	_, err = v.Select([]string{"poster"})
	var ve *types.ValidationError
	assert.ErrorAs(t, err, &ve)

	clamped := Variants{"huge": {Format: types.PNG, Quality: 90}}.Clamp(1000, 800)
	assert.Equal(t, 1000, clamped["huge"].MaxWidth)
	assert.Equal(t, 800, clamped["huge"].MaxHeight)
}
