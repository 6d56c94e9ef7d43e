package pak

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Engine creates, opens and merges archives. Implementations may delegate
// merges to an external tool; entry-level edits always go through Archive.
type Engine interface {
	Name() string
	Create(path string) (*Archive, error)
	Open(path string) (*Archive, error)
	Merge(ctx context.Context, dest string, sources ...string) error
}

// Native is the in-process engine.
type Native struct{}

// NewNative returns the in-process archive engine.
func NewNative() Native { return Native{} }

func (Native) Name() string { return "native" }

// Create returns an empty archive bound to path, deleting any existing file.
func (Native) Create(path string) (*Archive, error) {
	return Create(path)
}

func (Native) Open(path string) (*Archive, error) {
	return Read(path)
}

// Merge appends every entry of each source, in order, to dest and saves it.
// A name already present in dest is an error.
func (Native) Merge(ctx context.Context, dest string, sources ...string) error {
	archive, err := Read(dest)
	if err != nil {
		return err
	}
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		src, err := Read(source)
		if err != nil {
			return err
		}
		if err := archive.Append(src.Entries()...); err != nil {
			return fmt.Errorf("merge %s into %s: %w", source, dest, err)
		}
	}
	return archive.Save()
}

// Create removes any file at path and returns an empty archive bound to it.
func Create(path string) (*Archive, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale archive %s: %w", path, err)
	}
	return newArchive(path), nil
}
