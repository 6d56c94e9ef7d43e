package main

import (
	"context"
	"errors"
	"testing"

	"imgforge/internal/services"
	"imgforge/internal/testsupport"
)

func TestHistoryCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "No builds recorded")

	if _, _, err := runCLI(t, env, "build", env.manifest); err != nil {
		t.Fatalf("build: %v", err)
	}

	store := testsupport.MustOpenHistory(t, env.cfg)
	runs, err := store.List(context.Background(), 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one run, got %d", len(runs))
	}
	id := runs[0].ID

	out, _, err = runCLI(t, env, "history", "--limit", "5")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, id)
	requireContains(t, out, "succeeded")

	out, _, err = runCLI(t, env, "history", "show", id)
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	requireContains(t, out, "Run: "+id)
	requireContains(t, out, "Image SHA256:")
	requireContains(t, out, "runtime")
	requireContains(t, out, "hash-only")
}

func TestHistoryShowUnknownRun(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, env, "history", "show", "nope")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
