package flashbuild

import (
	"context"
	"errors"
	"strings"

	"imgforge/internal/services/toolexec"
)

// Client drives the partition-table compiler and image builder, which ship
// as subcommands of one binary.
type Client struct {
	binary string
	runner toolexec.Runner
}

// New constructs a flashbuild client.
func New(binary string, runner toolexec.Runner) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("flashbuild binary required")
	}
	if runner == nil {
		return nil, errors.New("runner required")
	}
	return &Client{binary: binary, runner: runner}, nil
}

// CompilePartitionTable turns the partitions list into a partition table.
func (c *Client) CompilePartitionTable(ctx context.Context, workDir, partitionsFile, tableFile string) error {
	return c.runner.Run(ctx, toolexec.Command{
		Binary: c.binary,
		Args:   []string{"compile-ptable", partitionsFile, tableFile},
		Dir:    workDir,
	})
}

// BuildImage assembles image from the partition table and one final archive
// per section, passed in the given order.
func (c *Client) BuildImage(ctx context.Context, workDir, tableFile, image string, partitions []toolexec.Pair) error {
	args := []string{"build-image", tableFile, image}
	for _, arg := range toolexec.PairArgs(partitions) {
		args = append(args, "-p", arg)
	}
	return c.runner.Run(ctx, toolexec.Command{Binary: c.binary, Args: args, Dir: workDir})
}
