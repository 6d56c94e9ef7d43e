package buildlock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"imgforge/internal/services"
)

// Lock is an exclusive advisory lock on an output directory.
type Lock struct {
	path string
	lock *flock.Flock
}

// Acquire takes the lock at path without waiting. A lock already held by
// another build is reported as a configuration error.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, services.Wrap(services.ErrIO, "lock", "prepare", path, err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrIO, "lock", "acquire", path, err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "lock", "acquire",
			fmt.Sprintf("another imgforge build is using %s", filepath.Dir(path)), nil)
	}
	return &Lock{path: path, lock: fl}, nil
}

// Wait takes the lock at path, polling every retry until it is free or ctx
// ends.
func Wait(ctx context.Context, path string, retry time.Duration) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, services.Wrap(services.ErrIO, "lock", "prepare", path, err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLockContext(ctx, retry)
	if err != nil {
		return nil, services.Wrap(services.ErrIO, "lock", "wait", path, err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrIO, "lock", "wait", path, ctx.Err())
	}
	return &Lock{path: path, lock: fl}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release unlocks. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
