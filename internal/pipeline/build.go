package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"imgforge/internal/assemble"
	"imgforge/internal/buildlock"
	"imgforge/internal/config"
	"imgforge/internal/fileutil"
	"imgforge/internal/history"
	"imgforge/internal/layout"
	"imgforge/internal/logging"
	"imgforge/internal/notifications"
	"imgforge/internal/pak"
	"imgforge/internal/policy"
	"imgforge/internal/services"
	"imgforge/internal/services/ecc"
	"imgforge/internal/services/flashbuild"
	"imgforge/internal/services/hasher"
	"imgforge/internal/services/paktool"
	"imgforge/internal/services/signer"
	"imgforge/internal/stager"
)

// Result describes a finished build.
type Result struct {
	RunID        string
	Image        string
	ECC          string
	Digest       fileutil.Digest
	Replication  assemble.Replication
	Sections     []policy.FinalSection
	Placeholders map[string][]string
	Duration     time.Duration
}

// Build runs the whole pipeline: resolve, stage, apply policies, assemble,
// replicate and inject ECC. Any failure aborts the run.
func (p *Pipeline) Build(ctx context.Context, opts Options) (result *Result, err error) {
	runID := uuid.NewString()
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, p.logger)
	start := time.Now()

	record := history.Run{ID: runID, Manifest: opts.Manifest, StartedAt: start}
	if p.history != nil {
		if startErr := p.history.Start(ctx, record); startErr != nil {
			return nil, services.Wrap(services.ErrIO, "history", "start", runID, startErr)
		}
		defer func() {
			p.finishHistory(ctx, record, result, err)
		}()
	}

	defer func() {
		p.notify(ctx, opts.Manifest, result, err)
	}()

	logger.Info("build started",
		logging.String(logging.FieldEventType, "build_start"),
		logging.String("manifest", opts.Manifest),
	)

	var plan *Plan
	if err := p.runStage(ctx, "resolve", func(ctx context.Context) error {
		var planErr error
		plan, planErr = p.Plan(ctx, opts)
		return planErr
	}); err != nil {
		return nil, err
	}
	record.Image = plan.Layout.Image(plan.ImageName)

	lock, err := buildlock.Acquire(plan.Layout.Lock())
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	result, err = p.execute(ctx, plan)
	if err != nil {
		return nil, err
	}
	result.RunID = runID
	result.Duration = time.Since(start)
	logger.Info("build completed",
		logging.String(logging.FieldEventType, "build_complete"),
		logging.String("image", result.Image),
		logging.String("ecc", result.ECC),
		logging.Int64("image_size", result.Digest.Size),
		logging.Int("sections", len(result.Sections)),
		logging.Duration("duration", result.Duration),
	)
	return result, nil
}

type toolchain struct {
	archives pak.Engine
	stager   *stager.Stager
	policy   *policy.Engine
	assemble *assemble.Assembler
}

func (p *Pipeline) toolchain(l layout.Layout) (*toolchain, error) {
	var archives pak.Engine = pak.NewNative()
	if p.cfg.Archive.Engine == config.EnginePaktool {
		engine, err := paktool.New(p.cfg.PaktoolBinary(), l.Gen(), p.runner)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "pipeline", "paktool", "", err)
		}
		archives = engine
	}
	sign, err := signer.New(p.cfg.SignBinary(), p.runner)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "signer", "", err)
	}
	hash, err := hasher.New(p.cfg.HashBinary(), p.runner)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "hasher", "", err)
	}
	flash, err := flashbuild.New(p.cfg.FlashbuildBinary(), p.runner)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "flashbuild", "", err)
	}
	injector, err := ecc.New(p.cfg.ECCBinary(), p.runner)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "ecc", "", err)
	}
	return &toolchain{
		archives: archives,
		stager:   stager.New(archives, l, p.logger),
		policy:   policy.New(archives, l, sign, hash, p.logger),
		assemble: assemble.New(flash, injector, l, p.logger),
	}, nil
}

func (p *Pipeline) execute(ctx context.Context, plan *Plan) (*Result, error) {
	tc, err := p.toolchain(plan.Layout)
	if err != nil {
		return nil, err
	}
	if err := plan.Layout.Prepare(); err != nil {
		return nil, services.Wrap(services.ErrIO, "pipeline", "prepare", plan.Layout.Gen(), err)
	}
	result := &Result{Replication: plan.Replication, Placeholders: map[string][]string{}}

	var table string
	if err := p.runStage(ctx, "ptable", func(ctx context.Context) error {
		var tableErr error
		table, tableErr = tc.assemble.PartitionTable(ctx, plan.Partitions())
		return tableErr
	}); err != nil {
		return nil, err
	}

	var staged []stager.Result
	if err := p.runStage(ctx, "stage", func(ctx context.Context) error {
		var stageErr error
		staged, stageErr = stageSections(ctx, tc.stager, plan)
		return stageErr
	}); err != nil {
		return nil, err
	}
	for _, res := range staged {
		if len(res.Placeholders) > 0 {
			result.Placeholders[res.Section] = res.Placeholders
		}
	}

	var merged []policy.MergedSection
	if err := p.runStage(ctx, "policy", func(ctx context.Context) error {
		var prepErr error
		merged, prepErr = prepareSections(ctx, tc.policy, plan, staged)
		return prepErr
	}); err != nil {
		return nil, err
	}

	var signed map[string]string
	if err := p.runStage(ctx, "sign", func(ctx context.Context) error {
		var signErr error
		signed, signErr = tc.policy.Sign(ctx, merged)
		return signErr
	}); err != nil {
		return nil, err
	}
	if err := p.runStage(ctx, "hash", func(ctx context.Context) error {
		return tc.policy.Hash(ctx, merged, signed)
	}); err != nil {
		return nil, err
	}
	if err := p.runStage(ctx, "finalize", func(ctx context.Context) error {
		if err := tc.policy.Carry(ctx, merged); err != nil {
			return err
		}
		if err := tc.policy.Restore(ctx, merged); err != nil {
			return err
		}
		finals, err := tc.policy.Collect(merged)
		result.Sections = finals
		return err
	}); err != nil {
		return nil, err
	}

	if err := p.runStage(ctx, "assemble", func(ctx context.Context) error {
		image, err := tc.assemble.BuildImage(ctx, table, plan.ImageName, result.Sections)
		if err != nil {
			return err
		}
		result.Image = image
		result.Digest, err = tc.assemble.Replicate(image, plan.Replication)
		return err
	}); err != nil {
		return nil, err
	}
	if err := p.runStage(ctx, "ecc", func(ctx context.Context) error {
		var eccErr error
		result.ECC, eccErr = tc.assemble.InjectECC(ctx, result.Image)
		return eccErr
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// stageSections builds the merged archive of every merging section. Sections
// only read the shared resolution results and write their own file, so they
// run in parallel.
func stageSections(ctx context.Context, st *stager.Stager, plan *Plan) ([]stager.Result, error) {
	results := make([]stager.Result, len(plan.Sections))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(plan.Jobs)
	for i, spec := range plan.Sections {
		if !spec.Class.Merges() {
			continue
		}
		g.Go(func() error {
			res, err := st.Stage(gctx, spec.StageRequest())
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func prepareSections(ctx context.Context, engine *policy.Engine, plan *Plan, staged []stager.Result) ([]policy.MergedSection, error) {
	merged := make([]policy.MergedSection, len(plan.Sections))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(plan.Jobs)
	for i, spec := range plan.Sections {
		if !spec.Class.Merges() {
			merged[i] = policy.PreSignedSection(spec.Section, spec.SignedImage.Path)
			continue
		}
		g.Go(func() error {
			m, err := engine.Prepare(gctx, spec.Section, spec.Class, staged[i].Path)
			if err != nil {
				return err
			}
			merged[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merged, nil
}

func (p *Pipeline) notify(ctx context.Context, manifest string, result *Result, runErr error) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if runErr != nil {
		err = p.notifier.NotifyBuildFailed(ctx, manifest, runErr)
	} else {
		err = p.notifier.NotifyBuildCompleted(ctx, notifications.BuildSummary{
			RunID:     result.RunID,
			Manifest:  manifest,
			Image:     result.Image,
			ImageSize: result.Digest.Size,
			Sides:     result.Replication.Sides,
			Duration:  result.Duration,
		})
	}
	if err != nil {
		logging.WarnWithContext(p.logger, "build notification failed", "notify_failed",
			logging.String(logging.FieldErrorHint, "check notify.ntfy_topic"),
			logging.Error(err),
		)
	}
}

func (p *Pipeline) finishHistory(ctx context.Context, record history.Run, result *Result, runErr error) {
	record.FinishedAt = time.Now()
	if runErr != nil {
		record.Status = history.StatusFailed
		record.Error = runErr.Error()
		record.ExitCode = services.ExitCode(runErr)
	} else {
		record.Status = history.StatusSucceeded
		record.Image = result.Image
		record.ImageSHA256 = result.Digest.SHA256
		record.ImageSize = result.Digest.Size
		for _, final := range result.Sections {
			record.Sections = append(record.Sections, history.Section{
				Position:     final.Section.Position,
				Name:         final.Section.Name,
				Policy:       string(final.Class),
				FinalArchive: final.Path,
				Size:         final.Digest.Size,
				SHA256:       final.Digest.SHA256,
			})
		}
	}
	if err := p.history.Finish(context.WithoutCancel(ctx), record); err != nil {
		p.logger.Error("failed to record build history",
			logging.String(logging.FieldEventType, "history_failed"),
			logging.String("run", record.ID),
			logging.Error(err),
		)
	}
}

