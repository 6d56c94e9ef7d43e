package signer_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"imgforge/internal/services"
	"imgforge/internal/services/signer"
	"imgforge/internal/services/toolexec"
)

type stubRunner struct {
	calls []toolexec.Command
	write bool
	err   error
}

func (s *stubRunner) Run(ctx context.Context, cmd toolexec.Command) error {
	s.calls = append(s.calls, cmd)
	if s.err != nil {
		return s.err
	}
	if !s.write {
		return nil
	}
	out := cmd.Args[3]
	for _, arg := range cmd.Args[4:] {
		name, _, _ := strings.Cut(arg, "=")
		if err := os.WriteFile(filepath.Join(out, name+".pak"), []byte("signed"), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func TestSignBatchesAllSections(t *testing.T) {
	out := t.TempDir()
	runner := &stubRunner{write: true}
	client, err := signer.New("signHashList", runner)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	inputs := []toolexec.Pair{{Name: "runtime", Path: "/m/runtime.pak"}, {Name: "boot", Path: "/m/boot.pak"}}
	outputs, err := client.Sign(context.Background(), "/work", "/work/scratch", out, inputs)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("expected one batched call, got %d", len(runner.calls))
	}
	got := strings.Join(runner.calls[0].Args, " ")
	want := "--scratch /work/scratch --output " + out + " runtime=/m/runtime.pak boot=/m/boot.pak"
	if got != want {
		t.Fatalf("unexpected args:\n got %s\nwant %s", got, want)
	}
	if runner.calls[0].Dir != "/work" {
		t.Fatalf("unexpected working dir %q", runner.calls[0].Dir)
	}
	if outputs["boot"] != filepath.Join(out, "boot.pak") {
		t.Fatalf("unexpected outputs %v", outputs)
	}
}

func TestSignEmptyBatchSkipsTool(t *testing.T) {
	runner := &stubRunner{}
	client, _ := signer.New("sign", runner)
	if _, err := client.Sign(context.Background(), "", "", "", nil); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatal("expected no tool invocation")
	}
}

func TestSignMissingOutputIsToolError(t *testing.T) {
	client, _ := signer.New("sign", &stubRunner{})
	_, err := client.Sign(context.Background(), "", "", t.TempDir(), []toolexec.Pair{{Name: "a", Path: "/a"}})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestSignPropagatesExitError(t *testing.T) {
	exit := &services.ExitError{Command: "sign", Code: 3}
	client, _ := signer.New("sign", &stubRunner{err: exit})
	_, err := client.Sign(context.Background(), "", "", t.TempDir(), []toolexec.Pair{{Name: "a", Path: "/a"}})
	if services.ExitCode(err) != 3 {
		t.Fatalf("expected exit code 3, got %d (%v)", services.ExitCode(err), err)
	}
}
