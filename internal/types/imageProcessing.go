package types

import (
	"fmt"
	"strings"
)

// Format is the output encoding of a variant.
type Format string

const (
	WEBP Format = "webp" // web-optimized lossy
	AVIF Format = "avif" // next-gen lossy
	JPEG Format = "jpeg" // baseline lossy
	PNG  Format = "png"  // lossless
)

var formats = []Format{WEBP, AVIF, JPEG, PNG}

// ParseFormat accepts the enum values plus the common "jpg" alias.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case WEBP, AVIF, JPEG, PNG:
		return f, nil
	case "jpg":
		return JPEG, nil
	default:
		return "", fmt.Errorf("unsupported format %q, expected one of %v", s, formats)
	}
}

func (f Format) Ext() string {
	if f == JPEG {
		return ".jpg"
	}
	return "." + string(f)
}

func (f Format) ContentType() string {
	return "image/" + string(f)
}

func (f Format) Lossless() bool {
	return f == PNG
}

// VariantConfig is owned by the caller and never mutated by the pipeline.
// A zero MaxWidth, MaxHeight or MaxBytes means unbounded.
type VariantConfig struct {
	Format    Format `json:"format" yaml:"format"`
	Quality   int    `json:"quality" yaml:"quality"`
	MaxWidth  int    `json:"maxWidth" yaml:"maxWidth"`
	MaxHeight int    `json:"maxHeight" yaml:"maxHeight"`
	MaxBytes  int64  `json:"maxBytes" yaml:"maxBytes"`
}

func (c VariantConfig) Validate() error {
	if _, err := ParseFormat(string(c.Format)); err != nil {
		return &ValidationError{Field: "format", Message: err.Error()}
	}
	if c.Quality < 1 || c.Quality > 100 {
		return &ValidationError{Field: "quality", Message: fmt.Sprintf("quality must be within 1-100, got %d", c.Quality)}
	}
	if c.MaxWidth < 0 || c.MaxHeight < 0 {
		return &ValidationError{Field: "dimensions", Message: fmt.Sprintf("dimensions must not be negative, got %dx%d", c.MaxWidth, c.MaxHeight)}
	}
	if c.MaxBytes < 0 {
		return &ValidationError{Field: "maxBytes", Message: "size budget must not be negative"}
	}
	return nil
}

// SourceImage is the input of one pipeline run. Temporary marks a scratch
// copy that the run must delete.
type SourceImage struct {
	Origin    string
	Path      string
	Data      []byte
	MIME      string
	Format    string
	Size      int64
	Width     int
	Height    int
	Temporary bool
}

type TranscodeResult struct {
	Data         []byte `json:"-"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Format       Format `json:"format"`
	Quality      int    `json:"quality"`
	Size         int64  `json:"size"`
	OriginalSize int64  `json:"originalSize,omitempty"`
}

// CompressionRatio is output size over source size, 0 when unknown.
func (r *TranscodeResult) CompressionRatio() float64 {
	if r.OriginalSize <= 0 {
		return 0
	}
	return float64(r.Size) / float64(r.OriginalSize)
}

// ContentKey is the dedup identity of a variant output.
type ContentKey struct {
	Digest string
	Ext    string
}

func (k ContentKey) FileName() string {
	return k.Digest + k.Ext
}

type URLSet struct {
	CDN    string `json:"cdnUrl"`
	Direct string `json:"directUrl"`
	Raw    string `json:"rawUrl"`
}

type StoredObject struct {
	Key     string `json:"key"`
	Digest  string `json:"digest"`
	Existed bool   `json:"existed"`
	URLs    URLSet `json:"urls"`
}

type VariantResult struct {
	Name       string           `json:"name"`
	Source     string           `json:"source"`
	Object     *StoredObject    `json:"object"`
	Stats      *TranscodeResult `json:"stats"`
	DurationMs int64            `json:"durationMs"`
}
