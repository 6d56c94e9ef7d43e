package flashbuild_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"imgforge/internal/services/flashbuild"
	"imgforge/internal/services/toolexec"
)

type recordingRunner struct {
	calls []toolexec.Command
}

func (r *recordingRunner) Run(ctx context.Context, cmd toolexec.Command) error {
	r.calls = append(r.calls, cmd)
	return nil
}

func TestCommandsKeepSectionOrder(t *testing.T) {
	runner := &recordingRunner{}
	client, err := flashbuild.New("flashbuild", runner)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := client.CompilePartitionTable(ctx, "/gen", "/gen/partitions.txt", "/gen/part.tbl"); err != nil {
		t.Fatalf("CompilePartitionTable: %v", err)
	}
	parts := []toolexec.Pair{{Name: "zeta", Path: "/f/zeta.pak"}, {Name: "alpha", Path: "/f/alpha.pak"}}
	if err := client.BuildImage(ctx, "/gen", "/gen/part.tbl", "/out/image.bin", parts); err != nil {
		t.Fatalf("BuildImage: %v", err)
	}

	want := []toolexec.Command{
		{Binary: "flashbuild", Args: []string{"compile-ptable", "/gen/partitions.txt", "/gen/part.tbl"}, Dir: "/gen"},
		{Binary: "flashbuild", Args: []string{"build-image", "/gen/part.tbl", "/out/image.bin", "-p", "zeta=/f/zeta.pak", "-p", "alpha=/f/alpha.pak"}, Dir: "/gen"},
	}
	if diff := cmp.Diff(want, runner.calls); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
}
