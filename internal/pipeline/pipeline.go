package pipeline

import (
	"context"
	"log/slog"
	"time"

	"imgforge/internal/config"
	"imgforge/internal/history"
	"imgforge/internal/logging"
	"imgforge/internal/notifications"
	"imgforge/internal/release"
	"imgforge/internal/services"
	"imgforge/internal/services/toolexec"
)

// Options carry the per-run settings given on the command line. Zero values
// fall back to the manifest and then the configuration.
type Options struct {
	Manifest     string
	OutputDir    string
	ImageName    string
	OverrideDir  string
	Sides        int
	SkipDownload bool
	ForceSign    bool
	EKBRoot      string
	SBERoot      string
	Jobs         int
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithRunner replaces the subprocess runner used for every external tool.
func WithRunner(runner toolexec.Runner) Option {
	return func(p *Pipeline) {
		if runner != nil {
			p.runner = runner
		}
	}
}

// WithHistory records every build in store.
func WithHistory(store *history.Store) Option {
	return func(p *Pipeline) {
		p.history = store
	}
}

// WithFetcher replaces the release snapshot fetcher.
func WithFetcher(fetcher *release.Fetcher) Option {
	return func(p *Pipeline) {
		if fetcher != nil {
			p.fetcher = fetcher
		}
	}
}

// WithNotifier replaces the build notification service.
func WithNotifier(notifier notifications.Service) Option {
	return func(p *Pipeline) {
		if notifier != nil {
			p.notifier = notifier
		}
	}
}

// Pipeline drives a build from manifest to flash image.
type Pipeline struct {
	cfg      *config.Config
	logger   *slog.Logger
	runner   toolexec.Runner
	history  *history.Store
	fetcher  *release.Fetcher
	notifier notifications.Service
}

// New constructs a pipeline for cfg.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := time.Duration(cfg.Tools.TimeoutSeconds) * time.Second
	p := &Pipeline{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "pipeline"),
		runner:   toolexec.New(logger, toolexec.WithTimeout(timeout)),
		fetcher:  release.New(logger, release.WithTimeout(time.Duration(cfg.Release.TimeoutSeconds)*time.Second)),
		notifier: notifications.NewService(cfg),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) runStage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx = services.WithStage(ctx, name)
	logger := logging.WithContext(ctx, p.logger)
	start := time.Now()
	logger.Debug("stage started", logging.String(logging.FieldEventType, "stage_start"))
	if err := fn(ctx); err != nil {
		logger.Error("stage failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.String("error_kind", services.Kind(err)),
			logging.Duration("stage_duration", time.Since(start)),
			logging.Error(err),
		)
		return err
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(start)),
	)
	return nil
}
