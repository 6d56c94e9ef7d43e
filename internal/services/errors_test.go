package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"imgforge/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "sign", "batch", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"sign", "batch", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestExitCodeSurfacesToolCode(t *testing.T) {
	exitErr := &services.ExitError{Command: "flashbuild build-image", Code: 7}
	wrapped := services.Wrap(services.ErrExternalTool, "assemble", "build image", "", exitErr)
	wrapped = fmt.Errorf("run: %w", wrapped)

	if code := services.ExitCode(wrapped); code != 7 {
		t.Fatalf("expected exit code 7, got %d", code)
	}
	if !errors.Is(exitErr, services.ErrExternalTool) {
		t.Fatal("expected bare exit error to match ErrExternalTool")
	}
}

func TestExitCodeDefaults(t *testing.T) {
	if code := services.ExitCode(nil); code != 0 {
		t.Fatalf("expected 0 for nil, got %d", code)
	}
	err := services.Wrap(services.ErrResolution, "resolve", "lookup", "missing.pak", nil)
	if code := services.ExitCode(err); code != 1 {
		t.Fatalf("expected 1 for resolution error, got %d", code)
	}
}

func TestKindLabels(t *testing.T) {
	cases := map[error]string{
		services.Wrap(services.ErrConfiguration, "", "", "x", nil): "ConfigError",
		services.Wrap(services.ErrResolution, "", "", "x", nil):    "ResolutionError",
		&services.ExitError{Command: "ecc", Code: 2}:               "ExternalToolError",
		errors.New("disk full"):                                    "IOError",
	}
	for err, want := range cases {
		if got := services.Kind(err); got != want {
			t.Fatalf("Kind(%v) = %q, want %q", err, got, want)
		}
	}
}
