// Package batch drives the pipeline over many sources in fixed-width
// sub-batches, checkpointing after each so an interrupted run can resume.
package batch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mahirjain10/image-variants/internal/types"
)

type Processor interface {
	Run(ctx context.Context, source string, variants map[string]types.VariantConfig, tags map[string]string) (map[string]*types.VariantResult, error)
}

type Options struct {
	Width          int
	Deadline       time.Duration
	CheckpointPath string
}

type Report struct {
	Results   map[string]map[string]*types.VariantResult `json:"results"`
	Processed int                                        `json:"processed"`
	Failed    map[string]string                          `json:"failed"`
	Skipped   int                                        `json:"skipped"`
	// Incomplete is set when the deadline stopped the run early.
	Incomplete bool `json:"incomplete"`
}

type Runner struct {
	proc Processor
	opts Options
	log  *zap.Logger
	now  func() time.Time
}

func NewRunner(proc Processor, opts Options, log *zap.Logger) *Runner {
	if opts.Width < 1 {
		opts.Width = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{proc: proc, opts: opts, log: log.Named("batch"), now: time.Now}
}

type outcome struct {
	source  string
	results map[string]*types.VariantResult
	err     error
}

// Run processes sources, skipping those an earlier checkpoint marks done.
// A deadline expiry returns the partial report with Incomplete set and no
// error; cancellation of ctx itself is returned as an error.
func (r *Runner) Run(ctx context.Context, sources []string, variants map[string]types.VariantConfig, tags map[string]string) (*Report, error) {
	cp, err := r.loadCheckpoint()
	if err != nil {
		return nil, err
	}

	runCtx := ctx
	if r.opts.Deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.opts.Deadline)
		defer cancel()
	}

	report := &Report{Results: map[string]map[string]*types.VariantResult{}, Failed: map[string]string{}}
	var pending []int
	for i, src := range sources {
		if cp.IsProcessed(src) {
			report.Skipped++
			continue
		}
		pending = append(pending, i)
	}
	if report.Skipped > 0 {
		r.log.Info("resuming from checkpoint", zap.Int("skipped", report.Skipped), zap.Int("pending", len(pending)))
	}

	for start := 0; start < len(pending); start += r.opts.Width {
		if runCtx.Err() != nil {
			report.Incomplete = true
			break
		}
		end := min(start+r.opts.Width, len(pending))
		chunk := pending[start:end]

		outcomes := r.runChunk(runCtx, sources, chunk, variants, tags)
		interrupted := false
		for _, o := range outcomes {
			switch {
			case o.err == nil:
				cp.markProcessed(o.source)
				report.Processed++
				report.Results[o.source] = o.results
			case runCtx.Err() != nil && wasInterrupted(o.err):
				// cut short by the deadline, not a failure of the source
				interrupted = true
			default:
				cp.markFailed(o.source, o.err)
				report.Failed[o.source] = o.err.Error()
				if len(o.results) > 0 {
					report.Results[o.source] = o.results
				}
				r.log.Warn("source failed",
					zap.String("source", o.source),
					zap.String("step", failedStep(o.err)),
					zap.Error(o.err))
			}
		}
		if !interrupted {
			cp.LastIndex = chunk[len(chunk)-1]
		}
		if r.opts.CheckpointPath != "" {
			if err := cp.Save(r.opts.CheckpointPath, r.now()); err != nil {
				return report, err
			}
		}
		if interrupted {
			report.Incomplete = true
			break
		}
	}

	if err := ctx.Err(); err != nil {
		report.Incomplete = true
		return report, err
	}
	if report.Incomplete {
		r.log.Warn("batch deadline reached", zap.Duration("deadline", r.opts.Deadline), zap.Int("processed", report.Processed))
	}
	return report, nil
}

func (r *Runner) runChunk(ctx context.Context, sources []string, chunk []int, variants map[string]types.VariantConfig, tags map[string]string) []outcome {
	outcomes := make([]outcome, len(chunk))
	var g errgroup.Group
	for i, idx := range chunk {
		g.Go(func() error {
			res, err := r.proc.Run(ctx, sources[idx], variants, tags)
			outcomes[i] = outcome{source: sources[idx], results: res, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (r *Runner) loadCheckpoint() (*Checkpoint, error) {
	if r.opts.CheckpointPath == "" {
		return newCheckpoint(), nil
	}
	return LoadCheckpoint(r.opts.CheckpointPath)
}

// wasInterrupted reports whether err comes only from context expiry. A
// partial failure counts when every one of its variants was cut short.
func wasInterrupted(err error) bool {
	var pf *types.PartialFailure
	if errors.As(err, &pf) && len(pf.Failures) > 0 {
		for _, f := range pf.Failures {
			if !isContextErr(f.Err) {
				return false
			}
		}
		return true
	}
	return isContextErr(err)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func failedStep(err error) string {
	var ve *types.ValidationError
	var fe *types.FetchError
	var pf *types.PartialFailure
	switch {
	case errors.As(err, &ve):
		return types.StepValidate
	case errors.As(err, &fe):
		return types.StepFetch
	case errors.As(err, &pf) && len(pf.Failures) > 0:
		return pf.Failures[0].Step
	}
	return types.StepFetch
}
