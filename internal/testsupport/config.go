package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"imgforge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.BinariesDir = filepath.Join(base, "binaries")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = ""
	cfgVal.Build.Jobs = 2
	cfgVal.Build.TargetArch = "ppc64le"
	cfgVal.Release.SkipDownload = true

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithOverrideDir creates and sets an override directory on the test config.
func WithOverrideDir() ConfigOption {
	return func(b *configBuilder) {
		dir := filepath.Join(b.baseDir, "overrides")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			b.t.Fatalf("mkdir override dir: %v", err)
		}
		b.cfg.Paths.OverrideDir = dir
	}
}

// WithRoots points the upstream build roots at directories under the test base.
func WithRoots() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Build.EKBRoot = filepath.Join(b.baseDir, "ekb")
		b.cfg.Build.SBERoot = filepath.Join(b.baseDir, "sbe")
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default external image tools
// are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = DefaultToolNames()
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// DefaultToolNames lists the default external tool binaries.
func DefaultToolNames() []string {
	tools := config.Default().Tools
	return []string{tools.Sign, tools.Hash, tools.Flashbuild, tools.ECC, tools.Paktool}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
