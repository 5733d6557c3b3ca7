package addressing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahirjain10/image-variants/internal/types"
)

func newAddresser(t *testing.T, mutate func(*Options)) *Addresser {
	t.Helper()
	opts := Options{
		Namespace:  "catalog",
		CDNBaseURL: "https://cdn.example.com/",
		Bucket:     "media-bucket",
	}
	if mutate != nil {
		mutate(&opts)
	}
	a, err := New(opts)
	require.NoError(t, err)
	return a
}

func TestHashIsDeterministic(t *testing.T) {
	data := []byte("identical pixels")
	for _, alg := range []Algorithm{SHA256, BLAKE3} {
		a := newAddresser(t, func(o *Options) { o.Algorithm = alg })
		first := a.Hash(data, map[string]string{"b": "2", "a": "1"})
		second := newAddresser(t, func(o *Options) { o.Algorithm = alg }).Hash(data, map[string]string{"a": "1", "b": "2"})
		assert.Equal(t, first, second, string(alg))
		assert.Len(t, first, 64, string(alg))
	}
}

func TestKnownSHA256Digest(t *testing.T) {
	a := newAddresser(t, nil)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", a.Hash([]byte("abc"), nil))
}

func TestAlgorithmsDiffer(t *testing.T) {
	data := []byte("abc")
	assert.NotEqual(t,
		newAddresser(t, nil).Hash(data, nil),
		newAddresser(t, func(o *Options) { o.Algorithm = BLAKE3 }).Hash(data, nil))
}

func TestContentOnlyModeIgnoresMetadata(t *testing.T) {
	a := newAddresser(t, nil)
	data := []byte("pixels")
	assert.Equal(t, a.Hash(data, nil), a.Hash(data, map[string]string{"owner": "alice"}))
}

func TestMetadataModeSeparatesMetadata(t *testing.T) {
	a := newAddresser(t, func(o *Options) { o.Mode = ContentAndMetadata })
	data := []byte("pixels")

	withAlice := a.Hash(data, map[string]string{"owner": "alice"})
	withBob := a.Hash(data, map[string]string{"owner": "bob"})
	assert.NotEqual(t, withAlice, withBob)
	assert.NotEqual(t, a.Hash(data, nil), withAlice)

	// Excluded keys must not move the key.
	assert.Equal(t, withAlice, a.Hash(data, map[string]string{
		"owner":       "alice",
		"uploaded-at": "2026-10-17T10:00:00Z",
		"source":      "https://example.com/a.jpg",
	}))
}

func TestMetadataFoldingIsUnambiguous(t *testing.T) {
	a := newAddresser(t, func(o *Options) { o.Mode = ContentAndMetadata })
	data := []byte("pixels")
	assert.NotEqual(t,
		a.Hash(data, map[string]string{"a": "b=c"}),
		a.Hash(data, map[string]string{"a=b": "c"}))
}

func TestFileNameAndKey(t *testing.T) {
	a := newAddresser(t, nil)
	assert.Equal(t, "abc.webp", a.FileName("webp", "abc"))
	assert.Equal(t, "abc.webp", a.FileName(".webp", "abc"))
	assert.Equal(t, "abc.jpeg", a.FileName("holiday.JPEG", "abc"))
	assert.Equal(t, "abc", a.FileName("", "abc"))

	key := a.Key("thumbnail", types.ContentKey{Digest: "abc", Ext: types.JPEG.Ext()})
	assert.Equal(t, "catalog/thumbnail/abc.jpg", key)
}

func TestURLsFor(t *testing.T) {
	a := newAddresser(t, nil)
	urls := a.URLsFor("catalog/full/abc.webp")
	assert.Equal(t, "https://cdn.example.com/catalog/full/abc.webp", urls.CDN)
	assert.Equal(t, "https://storage.googleapis.com/media-bucket/catalog/full/abc.webp", urls.Direct)
	assert.Equal(t, "gs://media-bucket/catalog/full/abc.webp", urls.Raw)
	assert.Equal(t, urls, a.URLsFor("catalog/full/abc.webp"))
}

func TestRegionAwareURLs(t *testing.T) {
	a := newAddresser(t, func(o *Options) {
		o.RegionAware = true
		o.Region = "europe-west1"
		o.RawScheme = "s3"
	})
	urls := a.URLsFor("k.png")
	assert.Equal(t, "https://storage.europe-west1.rep.googleapis.com/media-bucket/k.png", urls.Direct)
	assert.Equal(t, "s3://media-bucket/k.png", urls.Raw)
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(Options{Bucket: "b", Algorithm: "md5"})
	assert.Error(t, err)
	_, err = New(Options{Bucket: "b", Mode: "sometimes"})
	assert.Error(t, err)
	_, err = New(Options{})
	assert.Error(t, err)
	_, err = New(Options{Bucket: "b", RegionAware: true})
	assert.Error(t, err)
}
