package transformation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"math"
	"os"

	// Registers decoders with the standard image package on top of the
	// jpeg/png/gif/bmp/tiff set imaging already pulls in.
	_ "golang.org/x/image/webp"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/mahirjain10/image-variants/internal/types"
)

const (
	// IntermediateQuality is used when a quirk source is re-encoded to JPEG.
	IntermediateQuality = 90
	budgetQualityStep   = 10
	budgetQualityFloor  = 10
)

// Request is one transcode of a source into a single variant.
type Request struct {
	Data       []byte
	FormatHint string
	Config     types.VariantConfig
	// ScratchDir receives temporary files; callers own its removal.
	ScratchDir string
}

type Transcoder interface {
	Transcode(ctx context.Context, req Request) (*types.TranscodeResult, error)
}

// Encoder produces formats the pure-Go encoders cannot.
type Encoder interface {
	Encode(ctx context.Context, img image.Image, quality int, scratchDir string) ([]byte, error)
}

// IntermediateConverter re-encodes a source the native decoders mishandle
// into a widely supported lossy format.
type IntermediateConverter interface {
	FromFile(ctx context.Context, path string) ([]byte, error)
	FromBuffer(ctx context.Context, data []byte) ([]byte, error)
}

// Native decodes and resizes in process. AVIF output and quirk sources are
// delegated to the optional collaborators; without them those requests fail
// with unsupported-format.
type Native struct {
	avif         Encoder
	intermediate IntermediateConverter
	log          *zap.Logger
}

func NewNative(avif Encoder, intermediate IntermediateConverter, log *zap.Logger) *Native {
	if log == nil {
		log = zap.NewNop()
	}
	return &Native{avif: avif, intermediate: intermediate, log: log}
}

func (t *Native) Transcode(ctx context.Context, req Request) (*types.TranscodeResult, error) {
	cfg := req.Config
	format, err := types.ParseFormat(string(cfg.Format))
	if err != nil {
		return nil, &types.TranscodeError{Reason: types.UnsupportedFormat, Err: err}
	}
	if format == types.AVIF && t.avif == nil {
		return nil, &types.TranscodeError{Reason: types.UnsupportedFormat, Err: errors.New("no AVIF encoder configured")}
	}

	hint := req.FormatHint
	if hint == "" {
		_, hint = DetectFormat(req.Data, "", "")
	}

	// 1. Route quirk sources through the intermediate format
	data := req.Data
	if NeedsIntermediate(hint) {
		data, err = t.toIntermediate(ctx, req.Data, hint, req.ScratchDir)
		if err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 2. Decode the image
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &types.TranscodeError{Reason: types.DecodeFailed, Err: fmt.Errorf("failed to decode %s image: %w", hint, err)}
	}

	// 3. Fit within the bounding box, never enlarging
	bounds := img.Bounds()
	w, h := FitDimensions(bounds.Dx(), bounds.Dy(), cfg.MaxWidth, cfg.MaxHeight)
	if w != bounds.Dx() || h != bounds.Dy() {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}
	if format == types.AVIF {
		if img, err = evenDimensions(img); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 4. Re-encode, stepping quality down while over the size budget
	out, quality, err := t.encodeWithinBudget(ctx, img, format, cfg, req.ScratchDir)
	if err != nil {
		return nil, err
	}

	final := img.Bounds()
	return &types.TranscodeResult{
		Data:         out,
		Width:        final.Dx(),
		Height:       final.Dy(),
		Format:       format,
		Quality:      quality,
		Size:         int64(len(out)),
		OriginalSize: int64(len(req.Data)),
	}, nil
}

func (t *Native) encodeWithinBudget(ctx context.Context, img image.Image, format types.Format, cfg types.VariantConfig, scratchDir string) ([]byte, int, error) {
	quality := cfg.Quality
	for {
		out, err := t.encode(ctx, img, format, quality, scratchDir)
		if err != nil {
			return nil, 0, &types.TranscodeError{Reason: types.EncodeFailed, Err: err}
		}
		if cfg.MaxBytes <= 0 || int64(len(out)) <= cfg.MaxBytes {
			return out, quality, nil
		}
		if format.Lossless() || quality <= budgetQualityFloor {
			return nil, 0, &types.TranscodeError{
				Reason: types.EncodeFailed,
				Err:    fmt.Errorf("output of %d bytes exceeds budget of %d bytes at quality %d", len(out), cfg.MaxBytes, quality),
			}
		}
		t.log.Debug("output over size budget, lowering quality",
			zap.Int("size", len(out)),
			zap.Int64("budget", cfg.MaxBytes),
			zap.Int("quality", quality))
		quality = max(quality-budgetQualityStep, budgetQualityFloor)
	}
}

func (t *Native) encode(ctx context.Context, img image.Image, format types.Format, quality int, scratchDir string) ([]byte, error) {
	buf := new(bytes.Buffer)
	switch format {
	case types.JPEG:
		if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("error while encoding jpeg: %w", err)
		}
	case types.PNG:
		if err := imaging.Encode(buf, img, imaging.PNG, imaging.PNGCompressionLevel(pngCompression(quality))); err != nil {
			return nil, fmt.Errorf("error while encoding png: %w", err)
		}
	case types.WEBP:
		if err := webp.Encode(buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return nil, fmt.Errorf("error while encoding webp: %w", err)
		}
	case types.AVIF:
		return t.avif.Encode(ctx, img, quality, scratchDir)
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	return buf.Bytes(), nil
}

// toIntermediate tries the on-disk conversion first and the in-memory one
// second; it fails only when both do.
func (t *Native) toIntermediate(ctx context.Context, data []byte, hint, scratchDir string) ([]byte, error) {
	if t.intermediate == nil {
		return nil, &types.TranscodeError{Reason: types.UnsupportedFormat, Err: fmt.Errorf("no intermediate converter for %s sources", hint)}
	}

	out, fileErr := t.intermediateViaFile(ctx, data, hint, scratchDir)
	if fileErr == nil {
		return out, nil
	}
	t.log.Warn("temp-file intermediate conversion failed, retrying in memory",
		zap.String("format", hint),
		zap.Error(fileErr))

	out, memErr := t.intermediate.FromBuffer(ctx, data)
	if memErr != nil {
		return nil, &types.TranscodeError{
			Reason: types.DecodeFailed,
			Err:    fmt.Errorf("intermediate conversion of %s failed: %w", hint, errors.Join(fileErr, memErr)),
		}
	}
	return out, nil
}

func (t *Native) intermediateViaFile(ctx context.Context, data []byte, hint, scratchDir string) ([]byte, error) {
	f, err := os.CreateTemp(scratchDir, "intermediate-*."+hint)
	if err != nil {
		return nil, fmt.Errorf("create intermediate file: %w", err)
	}
	name := f.Name()
	defer func() {
		if rmErr := os.Remove(name); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			t.log.Warn("failed to remove intermediate file", zap.String("path", name), zap.Error(rmErr))
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("write intermediate file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close intermediate file: %w", err)
	}
	return t.intermediate.FromFile(ctx, name)
}

// FitDimensions scales (srcW, srcH) to fit within (maxW, maxH) preserving the
// aspect ratio. A zero maximum leaves that axis unbounded and the result is
// never larger than the source.
func FitDimensions(srcW, srcH, maxW, maxH int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return srcW, srcH
	}
	scale := 1.0
	if maxW > 0 && srcW > maxW {
		scale = math.Min(scale, float64(maxW)/float64(srcW))
	}
	if maxH > 0 && srcH > maxH {
		scale = math.Min(scale, float64(maxH)/float64(srcH))
	}
	if scale >= 1 {
		return srcW, srcH
	}
	w := int(math.Round(float64(srcW) * scale))
	h := int(math.Round(float64(srcH) * scale))
	if maxW > 0 && w > maxW {
		w = maxW
	}
	if maxH > 0 && h > maxH {
		h = maxH
	}
	return max(w, 1), max(h, 1)
}

// pngCompression maps the 1-100 quality scale to compression effort.
func pngCompression(quality int) png.CompressionLevel {
	switch {
	case quality >= 67:
		return png.BestCompression
	case quality >= 34:
		return png.DefaultCompression
	default:
		return png.BestSpeed
	}
}

// evenDimensions crops a trailing odd row/column; yuv420p needs even sizes.
// A 1px axis cannot be cropped and is never padded up.
func evenDimensions(img image.Image) (image.Image, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 2 || h < 2 {
		return nil, &types.TranscodeError{
			Reason: types.EncodeFailed,
			Err:    fmt.Errorf("avif needs at least 2x2 pixels, got %dx%d", w, h),
		}
	}
	if w%2 == 0 && h%2 == 0 {
		return img, nil
	}
	return imaging.Crop(img, image.Rect(b.Min.X, b.Min.Y, b.Min.X+w-w%2, b.Min.Y+h-h%2)), nil
}
