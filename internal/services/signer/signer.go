package signer

import (
	"context"
	"errors"
	"strings"

	"imgforge/internal/services/toolexec"
)

// Client drives the batch signing tool.
type Client struct {
	binary string
	runner toolexec.Runner
}

// New constructs a signing client.
func New(binary string, runner toolexec.Runner) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("sign tool binary required")
	}
	if runner == nil {
		return nil, errors.New("runner required")
	}
	return &Client{binary: binary, runner: runner}, nil
}

// Sign signs every input in one invocation and returns the signed archive of
// each section, keyed by section name. An empty batch is a no-op.
func (c *Client) Sign(ctx context.Context, workDir, scratchDir, outputDir string, inputs []toolexec.Pair) (map[string]string, error) {
	if len(inputs) == 0 {
		return map[string]string{}, nil
	}
	args := append([]string{"--scratch", scratchDir, "--output", outputDir}, toolexec.PairArgs(inputs)...)
	if err := c.runner.Run(ctx, toolexec.Command{Binary: c.binary, Args: args, Dir: workDir}); err != nil {
		return nil, err
	}
	return toolexec.CollectOutputs("sign", outputDir, inputs)
}
