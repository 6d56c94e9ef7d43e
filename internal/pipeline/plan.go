package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"imgforge/internal/assemble"
	"imgforge/internal/config"
	"imgforge/internal/layout"
	"imgforge/internal/logging"
	"imgforge/internal/manifest"
	"imgforge/internal/policy"
	"imgforge/internal/release"
	"imgforge/internal/resolve"
	"imgforge/internal/services"
	"imgforge/internal/stager"
	"imgforge/internal/tags"
)

// SectionSpec is a manifest section with every input resolved.
type SectionSpec struct {
	Section  manifest.Section
	Class    policy.Class
	Files    []stager.File
	Archives []resolve.Result
	// SignedImage is the resolved pre-signed archive. With force signing it
	// is also the last entry of Archives.
	SignedImage resolve.Result
}

// StageRequest builds the stager input for the section.
func (s SectionSpec) StageRequest() stager.Request {
	archives := make([]string, 0, len(s.Archives))
	for _, archive := range s.Archives {
		archives = append(archives, archive.Path)
	}
	return stager.Request{Section: s.Section.Name, Files: s.Files, Archives: archives}
}

// Plan is everything a build needs, resolved up front.
type Plan struct {
	Manifest    *manifest.Manifest
	Tags        tags.Table
	Layout      layout.Layout
	ImageName   string
	Jobs        int
	ForceSign   bool
	Replication assemble.Replication
	Sections    []SectionSpec
}

// Partitions returns the partition table rows in manifest order.
func (p *Plan) Partitions() []assemble.Partition {
	return assemble.Partitions(p.Manifest)
}

// RequiredSpace estimates the bytes the image will occupy.
func (p *Plan) RequiredSpace() int64 {
	return p.Manifest.TotalPartitionSize() * int64(max(p.Replication.Sides, 1))
}

// Plan loads the manifest and resolves every input. It creates nothing in
// the output directory and runs no image tool, so a missing input fails the
// build before any side effect.
func (p *Pipeline) Plan(ctx context.Context, opts Options) (*Plan, error) {
	if strings.TrimSpace(opts.Manifest) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "plan", "manifest", "no manifest given", nil)
	}
	if opts.Sides < 0 {
		return nil, services.Wrap(services.ErrConfiguration, "plan", "sides",
			fmt.Sprintf("side count %d must not be negative", opts.Sides), nil)
	}
	m, err := manifest.Load(opts.Manifest)
	if err != nil {
		return nil, err
	}

	outputDir, err := firstPath(opts.OutputDir, p.cfg.Paths.OutputDir)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "plan", "output dir", opts.OutputDir, err)
	}
	if outputDir == "" {
		return nil, services.Wrap(services.ErrConfiguration, "plan", "output dir", "no output directory configured", nil)
	}
	imageName := firstNonEmpty(opts.ImageName, p.cfg.Build.ImageName)
	if imageName == "" || strings.ContainsAny(imageName, `/\`) {
		return nil, services.Wrap(services.ErrConfiguration, "plan", "image name",
			fmt.Sprintf("invalid image name %q", imageName), nil)
	}

	rc, err := p.resolutionContext(ctx, m, opts, outputDir)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Manifest:    m,
		Tags:        rc.Tags,
		Layout:      layout.New(outputDir),
		ImageName:   imageName,
		Jobs:        firstPositive(opts.Jobs, p.cfg.Build.Jobs, 1),
		ForceSign:   opts.ForceSign,
		Replication: assemble.PlanReplication(m.Sides, m.GoldenImage, opts.Sides),
	}
	for _, section := range m.Sections {
		spec, err := resolveSection(rc, section, opts.ForceSign)
		if err != nil {
			return nil, err
		}
		plan.Sections = append(plan.Sections, spec)
	}
	if plan.Replication.Golden != "" {
		golden, err := rc.Resolve(plan.Replication.Golden)
		if err != nil {
			return nil, err
		}
		plan.Replication.Golden = golden.Path
	}
	return plan, nil
}

func (p *Pipeline) resolutionContext(ctx context.Context, m *manifest.Manifest, opts Options, outputDir string) (*resolve.Context, error) {
	ekbRoot, err := firstPath(opts.EKBRoot, m.EKBRoot, p.cfg.Build.EKBRoot)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "plan", "ekb root", opts.EKBRoot, err)
	}
	sbeRoot, err := firstPath(opts.SBERoot, m.SBERoot, p.cfg.Build.SBERoot)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "plan", "sbe root", opts.SBERoot, err)
	}
	overrideDir, err := firstPath(opts.OverrideDir, p.cfg.Paths.OverrideDir)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "plan", "override dir", opts.OverrideDir, err)
	}
	binariesDir := p.cfg.Paths.BinariesDir

	table := tags.Merge(tags.Builtin(tags.Roots{
		OutputDir:   outputDir,
		EKBRoot:     ekbRoot,
		SBERoot:     sbeRoot,
		TargetArch:  p.cfg.Build.TargetArch,
		OverrideDir: overrideDir,
		BinariesDir: binariesDir,
	}), m.Tags)
	if err := table.Validate(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "plan", "tags", m.Source, err)
	}

	overrides, duplicates, err := resolve.Index(overrideDir)
	if err != nil {
		return nil, services.Wrap(services.ErrIO, "plan", "index overrides", overrideDir, err)
	}
	for _, dup := range duplicates {
		logging.WarnWithContext(p.logger, "duplicate file name in override directory", "override_duplicate",
			logging.String("path", dup),
			logging.String(logging.FieldErrorHint, "keep one file per name in the override directory"),
			logging.String(logging.FieldImpact, "the duplicate is ignored"),
		)
	}

	if !opts.SkipDownload && !p.cfg.Release.SkipDownload && p.cfg.Release.URL != "" {
		if _, err := p.fetcher.Fetch(ctx, p.cfg.Release.URL, binariesDir); err != nil {
			return nil, err
		}
	}
	binaries, err := release.Index(binariesDir, p.logger)
	if err != nil {
		return nil, err
	}

	p.logger.Info("resolution context ready",
		logging.String(logging.FieldEventType, "resolution_context"),
		logging.Int("tags", len(table)),
		logging.Int("overrides", len(overrides)),
		logging.Int("binaries", len(binaries)),
	)
	return &resolve.Context{Tags: table, Overrides: overrides, Binaries: binaries}, nil
}

func resolveSection(rc *resolve.Context, section manifest.Section, forceSign bool) (SectionSpec, error) {
	spec := SectionSpec{Section: section, Class: policy.Classify(section, forceSign)}

	if section.SignedImage != "" {
		signed, err := rc.Resolve(section.SignedImage)
		if err != nil {
			return SectionSpec{}, sectionError(section, err)
		}
		spec.SignedImage = signed
	}
	if !spec.Class.Merges() {
		return spec, nil
	}

	for _, file := range section.Files {
		result, err := rc.Resolve(file.Path)
		switch {
		case errors.Is(err, services.ErrResolution):
			spec.Files = append(spec.Files, stager.File{Name: file.Name, Path: tags.Expand(file.Path, rc.Tags), Missing: true})
		case err != nil:
			return SectionSpec{}, sectionError(section, err)
		default:
			spec.Files = append(spec.Files, stager.File{Name: file.Name, Path: result.Path})
		}
	}
	for _, reference := range section.Archives {
		result, err := rc.Resolve(reference)
		if err != nil {
			return SectionSpec{}, sectionError(section, err)
		}
		spec.Archives = append(spec.Archives, result)
	}
	if forceSign && spec.SignedImage.Path != "" {
		spec.Archives = append(spec.Archives, spec.SignedImage)
	}
	return spec, nil
}

func sectionError(section manifest.Section, err error) error {
	return fmt.Errorf("section %s: %w", section.Name, err)
}

func firstPath(values ...string) (string, error) {
	value := firstNonEmpty(values...)
	if value == "" {
		return "", nil
	}
	return config.ExpandPath(value)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, value := range values {
		if value > 0 {
			return value
		}
	}
	return 1
}
