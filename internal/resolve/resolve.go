package resolve

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"imgforge/internal/extract"
	"imgforge/internal/services"
	"imgforge/internal/tags"
)

// Source identifies where a reference was found.
type Source string

const (
	SourceOverride Source = "override"
	SourceDisk     Source = "disk"
	SourceBinaries Source = "binaries"
)

// Result describes a resolved reference.
type Result struct {
	Reference string
	Path      string
	Source    Source
	Expanded  bool
}

// Context holds the read-only inputs used to locate files. It is built once
// per run and shared by every section.
type Context struct {
	Tags      tags.Table
	Overrides map[string]string
	Binaries  map[string]string
}

// Index maps every regular file below dir by basename. When the same basename
// appears more than once the lexically first path wins and the remaining
// paths are returned as duplicates.
func Index(dir string) (map[string]string, []string, error) {
	index := map[string]string{}
	if dir == "" {
		return index, nil, nil
	}
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() || d.Type()&os.ModeSymlink != 0 {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return index, nil, nil
		}
		return nil, nil, fmt.Errorf("index %s: %w", dir, err)
	}
	sort.Strings(paths)
	var duplicates []string
	for _, path := range paths {
		base := filepath.Base(path)
		if _, ok := index[base]; ok {
			duplicates = append(duplicates, path)
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, nil, err
		}
		index[base] = abs
	}
	return index, duplicates, nil
}

// Locate finds reference without expanding compressed files.
func (c *Context) Locate(reference string) (Result, error) {
	expanded := tags.Expand(reference, c.Tags)
	base := filepath.Base(expanded)
	if path, ok := c.Overrides[base]; ok {
		return Result{Reference: reference, Path: path, Source: SourceOverride}, nil
	}
	if expanded != "" {
		if info, err := os.Stat(expanded); err == nil && !info.IsDir() {
			abs, err := filepath.Abs(expanded)
			if err != nil {
				return Result{}, services.Wrap(services.ErrIO, "resolve", "abs", expanded, err)
			}
			return Result{Reference: reference, Path: abs, Source: SourceDisk}, nil
		}
	}
	if path, ok := c.Binaries[base]; ok {
		return Result{Reference: reference, Path: path, Source: SourceBinaries}, nil
	}
	return Result{}, services.Wrap(services.ErrResolution, "resolve", "locate",
		fmt.Sprintf("file not found: %s (expanded %s)", reference, expanded), nil)
}

// Resolve finds reference and expands it when it names a compressed file.
// Repeated calls with the same Context return the same path.
func (c *Context) Resolve(reference string) (Result, error) {
	result, err := c.Locate(reference)
	if err != nil {
		return Result{}, err
	}
	if !extract.IsCompressed(result.Path) {
		return result, nil
	}
	target, err := extract.Expand(result.Path)
	if err != nil {
		return Result{}, services.Wrap(services.ErrIO, "resolve", "expand", result.Path, err)
	}
	result.Path = target
	result.Expanded = true
	return result, nil
}

// Exists reports whether reference can be located from any source.
func (c *Context) Exists(reference string) bool {
	_, err := c.Locate(reference)
	return err == nil
}
