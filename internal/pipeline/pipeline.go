// Package pipeline turns one source image into its named variants:
// fetch, then per variant transcode, address and upload, then cleanup.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mahirjain10/image-variants/internal/storage"
	"github.com/mahirjain10/image-variants/internal/transformation"
	"github.com/mahirjain10/image-variants/internal/types"
	"github.com/mahirjain10/image-variants/internal/utils"
)

type Loader interface {
	Load(ctx context.Context, source, dir string) (*types.SourceImage, error)
}

type Addresser interface {
	ContentKey(data []byte, metadata map[string]string, format types.Format) types.ContentKey
	Key(variant string, key types.ContentKey) string
}

type Uploader interface {
	PutIfAbsent(ctx context.Context, req storage.PutRequest) (*types.StoredObject, error)
}

type Settings struct {
	// ScratchRoot holds one temporary directory per run.
	ScratchRoot    string
	Parallelism    int
	MaxUploadBytes int64
	// AllowedMIME gates sources before any work; nil allows everything.
	AllowedMIME func(mime string) bool
}

type Pipeline struct {
	loader     Loader
	transcoder transformation.Transcoder
	addresser  Addresser
	uploader   Uploader
	settings   Settings
	log        *zap.Logger
}

func New(loader Loader, transcoder transformation.Transcoder, addresser Addresser, uploader Uploader, settings Settings, log *zap.Logger) *Pipeline {
	if settings.Parallelism < 1 {
		settings.Parallelism = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		loader:     loader,
		transcoder: transcoder,
		addresser:  addresser,
		uploader:   uploader,
		settings:   settings,
		log:        log.Named("pipeline"),
	}
}

// Run processes source into every variant. When some variants fail the
// successful results are still returned together with a *types.PartialFailure.
// Source-level problems (fetch, validation) fail the whole run.
func (p *Pipeline) Run(ctx context.Context, source string, variants map[string]types.VariantConfig, tags map[string]string) (map[string]*types.VariantResult, error) {
	if err := validateVariants(variants); err != nil {
		return nil, err
	}
	log := p.log.With(zap.String("source", source))

	scratch, err := p.scratchDir()
	if err != nil {
		return nil, err
	}
	defer p.cleanup(log, scratch)

	src, err := p.loader.Load(ctx, source, scratch)
	if err != nil {
		log.Error("source unavailable", zap.String("step", types.StepFetch), zap.Error(err))
		return nil, err
	}
	return p.process(ctx, log, src, scratch, variants, tags)
}

func (p *Pipeline) process(ctx context.Context, log *zap.Logger, src *types.SourceImage, scratch string, variants map[string]types.VariantConfig, tags map[string]string) (map[string]*types.VariantResult, error) {
	if err := p.validateSource(src); err != nil {
		log.Warn("source rejected", zap.String("step", types.StepValidate), zap.Error(err))
		return nil, err
	}

	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		mu       sync.Mutex
		results  = make(map[string]*types.VariantResult, len(variants))
		failures []*types.VariantError
	)
	sem := semaphore.NewWeighted(int64(p.settings.Parallelism))
	var g errgroup.Group

	for _, name := range names {
		cfg := variants[name]
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				log.Warn("variant never started", zap.String("variant", name), zap.String("step", types.StepQueue), zap.Error(err))
				mu.Lock()
				failures = append(failures, &types.VariantError{Variant: name, Step: types.StepQueue, Err: err})
				mu.Unlock()
				return nil
			}
			defer sem.Release(1)

			res, verr := p.variant(ctx, log.With(zap.String("variant", name)), src, scratch, name, cfg, tags)
			mu.Lock()
			defer mu.Unlock()
			if verr != nil {
				failures = append(failures, verr)
				return nil
			}
			results[name] = res
			return nil
		})
	}
	// Variants are independent, so no goroutine reports an error.
	_ = g.Wait()

	if len(failures) == 0 {
		return results, nil
	}
	pf := &types.PartialFailure{Failures: failures}
	for name := range results {
		pf.Succeeded = append(pf.Succeeded, name)
	}
	pf.Sort()
	return results, pf
}

// variant runs TRANSCODE, ADDRESS and DEDUP_OR_UPLOAD strictly in order.
func (p *Pipeline) variant(ctx context.Context, log *zap.Logger, src *types.SourceImage, scratch, name string, cfg types.VariantConfig, tags map[string]string) (*types.VariantResult, *types.VariantError) {
	start := time.Now()
	fail := func(step string, err error) *types.VariantError {
		log.Error("variant failed", zap.String("step", step), zap.Error(err))
		return &types.VariantError{Variant: name, Step: step, Err: err}
	}

	out, err := p.transcoder.Transcode(ctx, transformation.Request{
		Data:       src.Data,
		FormatHint: src.Format,
		Config:     cfg,
		ScratchDir: scratch,
	})
	if err != nil {
		return nil, fail(types.StepTranscode, err)
	}
	log.Debug("transcoded",
		zap.String("step", types.StepTranscode),
		zap.Int("width", out.Width),
		zap.Int("height", out.Height),
		zap.Int("quality", out.Quality),
		zap.Int64("bytes", out.Size))

	contentKey := p.addresser.ContentKey(out.Data, tags, out.Format)
	key := p.addresser.Key(name, contentKey)

	obj, err := p.uploader.PutIfAbsent(ctx, storage.PutRequest{
		Key:         key,
		Digest:      contentKey.Digest,
		Body:        out.Data,
		ContentType: out.Format.ContentType(),
		Tags:        tags,
	})
	if err != nil {
		return nil, fail(types.StepUpload, err)
	}
	log.Info("variant stored",
		zap.String("step", types.StepUpload),
		zap.String("key", obj.Key),
		zap.Bool("existed", obj.Existed))

	return &types.VariantResult{
		Name:       name,
		Source:     src.Origin,
		Object:     obj,
		Stats:      out,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func (p *Pipeline) validateSource(src *types.SourceImage) error {
	if len(src.Data) == 0 {
		return &types.ValidationError{Field: "source", Message: "source is empty"}
	}
	if p.settings.MaxUploadBytes > 0 && src.Size > p.settings.MaxUploadBytes {
		return &types.ValidationError{Field: "size", Message: fmt.Sprintf("source is %d bytes, limit is %d", src.Size, p.settings.MaxUploadBytes)}
	}
	if p.settings.AllowedMIME != nil && !p.settings.AllowedMIME(src.MIME) {
		return &types.ValidationError{Field: "mime", Message: fmt.Sprintf("%s is not an allowed image type", src.MIME)}
	}
	return nil
}

func validateVariants(variants map[string]types.VariantConfig) error {
	if len(variants) == 0 {
		return &types.ValidationError{Field: "variants", Message: "at least one variant is required"}
	}
	for name, cfg := range variants {
		if name == "" {
			return &types.ValidationError{Field: "variants", Message: "variant name is empty"}
		}
		if err := cfg.Validate(); err != nil {
			var ve *types.ValidationError
			if errors.As(err, &ve) {
				return &types.ValidationError{Field: name + "." + ve.Field, Message: ve.Message}
			}
			return err
		}
	}
	return nil
}

func (p *Pipeline) scratchDir() (string, error) {
	root := p.settings.ScratchRoot
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create scratch root: %w", err)
	}
	dir, err := os.MkdirTemp(root, utils.ScratchPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}
	return dir, nil
}

func (p *Pipeline) cleanup(log *zap.Logger, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		log.Warn("failed to remove scratch dir", zap.String("dir", dir), zap.Error(err))
	}
}
