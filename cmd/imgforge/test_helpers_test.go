package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"imgforge/internal/config"
	"imgforge/internal/pipeline"
	"imgforge/internal/testsupport"
)

const testManifest = `
image_sections:
  boot:
    partition_size: 4096
    files:
      - [boot.cfg, %q]
    imagehash: true
  runtime:
    partition_size: 65536
    archives: ["%%ekbImageDir%%/rt-a.pak"]
    hashlist: hash.list
    hashpath: rt/
`

type cliTestEnv struct {
	cfg        *config.Config
	tools      *testsupport.FakeTools
	configPath string
	manifest   string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	opts = append([]testsupport.ConfigOption{testsupport.WithRoots()}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	base := testsupport.BaseDir(cfg)

	imageDir := filepath.Join(cfg.Build.EKBRoot, "output", "images", cfg.Build.TargetArch)
	testsupport.WriteArchive(t, filepath.Join(imageDir, "rt-a.pak"), "rt/app.bin")
	bootCfg := testsupport.WriteFile(t, filepath.Join(base, "inputs", "boot.cfg"), "console=ttyS0")
	manifest := testsupport.WriteFile(t, filepath.Join(base, "image.yaml"), fmt.Sprintf(testManifest, bootCfg))

	configPath := filepath.Join(base, "imgforge.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		tools:      testsupport.NewFakeTools(cfg),
		configPath: configPath,
		manifest:   manifest,
	}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	ctx := newCommandContext()
	if env != nil {
		ctx.pipelineOptions = []pipeline.Option{pipeline.WithRunner(env.tools)}
	}
	cmd := newRootCommandWithContext(ctx)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if env != nil {
		flags = append(flags, "--config", env.configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
output_dir = %q
binaries_dir = %q
state_dir = %q
log_dir = ""

[build]
jobs = %d
target_arch = %q
ekb_root = %q
sbe_root = %q

[release]
skip_download = true

[logging]
level = "error"
`,
		cfg.Paths.OutputDir,
		cfg.Paths.BinariesDir,
		cfg.Paths.StateDir,
		cfg.Build.Jobs,
		cfg.Build.TargetArch,
		cfg.Build.EKBRoot,
		cfg.Build.SBERoot,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
