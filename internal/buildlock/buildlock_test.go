package buildlock_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"imgforge/internal/buildlock"
	"imgforge/internal/services"
)

func TestSecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", ".imgforge.lock")
	first, err := buildlock.Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := buildlock.Acquire(path); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for held lock, got %v", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	second, err := buildlock.Acquire(path)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if err := second.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := second.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}

func TestWaitBlocksUntilReleased(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".binaries.lock")
	held, err := buildlock.Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := buildlock.Wait(ctx, path, 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	time.AfterFunc(50*time.Millisecond, func() { _ = held.Release() })
	lock, err := buildlock.Wait(context.Background(), path, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}
