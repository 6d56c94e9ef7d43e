package hasher

import (
	"context"
	"errors"
	"strings"

	"imgforge/internal/services/toolexec"
)

// Client drives the batch hashing tool.
type Client struct {
	binary string
	runner toolexec.Runner
}

// New constructs a hashing client.
func New(binary string, runner toolexec.Runner) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("hash tool binary required")
	}
	if runner == nil {
		return nil, errors.New("runner required")
	}
	return &Client{binary: binary, runner: runner}, nil
}

// Hash hashes every input in one invocation, writing <outputDir>/<name>.pak
// per section. An empty batch is a no-op.
func (c *Client) Hash(ctx context.Context, workDir, outputDir string, inputs []toolexec.Pair) (map[string]string, error) {
	if len(inputs) == 0 {
		return map[string]string{}, nil
	}
	args := append([]string{"--output", outputDir}, toolexec.PairArgs(inputs)...)
	if err := c.runner.Run(ctx, toolexec.Command{Binary: c.binary, Args: args, Dir: workDir}); err != nil {
		return nil, err
	}
	return toolexec.CollectOutputs("hash", outputDir, inputs)
}
