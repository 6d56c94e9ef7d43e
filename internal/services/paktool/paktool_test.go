package paktool_test

import (
	"context"
	"reflect"
	"testing"

	"imgforge/internal/services/paktool"
	"imgforge/internal/services/toolexec"
)

type recordingRunner struct {
	calls []toolexec.Command
}

func (r *recordingRunner) Run(ctx context.Context, cmd toolexec.Command) error {
	r.calls = append(r.calls, cmd)
	return nil
}

func TestMergeDelegatesToTool(t *testing.T) {
	runner := &recordingRunner{}
	engine, err := paktool.New("paktool", "/gen", runner)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := engine.Merge(context.Background(), "/gen/merged/a.pak", "/x/one.pak", "/x/two.pak"); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	want := toolexec.Command{Binary: "paktool", Args: []string{"merge", "/gen/merged/a.pak", "/x/one.pak", "/x/two.pak"}, Dir: "/gen"}
	if len(runner.calls) != 1 || !reflect.DeepEqual(runner.calls[0], want) {
		t.Fatalf("unexpected calls %+v", runner.calls)
	}

	if err := engine.Merge(context.Background(), "/gen/merged/b.pak"); err != nil {
		t.Fatalf("Merge without sources: %v", err)
	}
	if len(runner.calls) != 1 {
		t.Fatal("expected no invocation without sources")
	}
}
