package paktool

import (
	"context"
	"errors"
	"strings"

	"imgforge/internal/pak"
	"imgforge/internal/services/toolexec"
)

// Engine is a pak.Engine that hands merges to the external paktool binary.
// Entry-level edits still use the in-process codec.
type Engine struct {
	binary string
	dir    string
	runner toolexec.Runner
}

// New constructs a paktool-backed engine whose invocations run in workDir.
func New(binary, workDir string, runner toolexec.Runner) (*Engine, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("paktool binary required")
	}
	if runner == nil {
		return nil, errors.New("runner required")
	}
	return &Engine{binary: binary, dir: workDir, runner: runner}, nil
}

func (e *Engine) Name() string { return "paktool" }

func (e *Engine) Create(path string) (*pak.Archive, error) {
	return pak.Create(path)
}

func (e *Engine) Open(path string) (*pak.Archive, error) {
	return pak.Read(path)
}

// Merge runs `paktool merge <dest> <src>...`, which rewrites dest in place.
func (e *Engine) Merge(ctx context.Context, dest string, sources ...string) error {
	if len(sources) == 0 {
		return nil
	}
	args := append([]string{"merge", dest}, sources...)
	return e.runner.Run(ctx, toolexec.Command{Binary: e.binary, Args: args, Dir: e.dir})
}
