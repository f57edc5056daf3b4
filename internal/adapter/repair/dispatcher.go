package repair

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roppunt/fixframe/internal/domain"
)

// DefaultToolTimeout bounds one external tool invocation. The upstream
// behavior had no bound at all; ten minutes comfortably covers a stream-copy
// remux of multi-gigabyte video on slow disks.
const DefaultToolTimeout = 10 * time.Minute

// Dispatcher selects a strategy chain by media kind and walks it until one
// strategy succeeds. It implements domain.RepairDispatcher.
type Dispatcher struct {
	image  []Strategy
	video  []Strategy
	logger *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*options)

type options struct {
	run     ToolRunner
	timeout time.Duration
}

// WithRunner substitutes the subprocess runner, used by tests.
func WithRunner(run ToolRunner) Option {
	return func(o *options) { o.run = run }
}

// WithTimeout sets the per-tool timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// NewDispatcher builds the fixed fallback chains: exiftool then jpeginfo for
// images, an ffmpeg remux for video.
func NewDispatcher(logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{run: RunTool, timeout: DefaultToolTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Dispatcher{
		image: []Strategy{
			exiftoolStrategy(o.run, o.timeout),
			jpeginfoStrategy(o.run, o.timeout),
		},
		video: []Strategy{
			ffmpegRemuxStrategy(o.run, o.timeout),
		},
		logger: logger,
	}
}

// Repair walks the chain for the given kind. Every strategy is attempted at
// most once; when the chain exhausts, the unmodified source is copied to
// destPath and the outcome flagged for manual review. An error is returned
// only when not even that fallback copy could be produced.
func (d *Dispatcher) Repair(ctx context.Context, kind domain.MediaKind, sourcePath, destPath string) (domain.RepairOutcome, error) {
	chain := d.video
	if kind == domain.KindImage {
		chain = d.image
	}

	for _, strategy := range chain {
		err := strategy.Attempt(ctx, sourcePath, destPath)
		if err == nil {
			d.logger.Info("repair tool succeeded", "strategy", strategy.Name(), "kind", string(kind))
			return domain.RepairOutcome{Status: domain.RepairSuccess, ArtifactPath: destPath}, nil
		}
		d.logger.Warn("repair tool failed, trying next", "strategy", strategy.Name(), "error", err)
	}

	// Chain exhausted: hand the user their bytes back and flag for review.
	if err := copyFile(sourcePath, destPath); err != nil {
		return domain.RepairOutcome{}, fmt.Errorf("fallback copy: %w", err)
	}
	return domain.RepairOutcome{Status: domain.RepairManualReview, ArtifactPath: destPath}, nil
}
