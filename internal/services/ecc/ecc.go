package ecc

import (
	"context"
	"errors"
	"strings"

	"imgforge/internal/services/toolexec"
)

// Suffix is appended to an image path to name its ECC sibling.
const Suffix = ".ecc"

// Client drives the ECC injector.
type Client struct {
	binary string
	runner toolexec.Runner
}

// New constructs an ECC client.
func New(binary string, runner toolexec.Runner) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("ecc binary required")
	}
	if runner == nil {
		return nil, errors.New("runner required")
	}
	return &Client{binary: binary, runner: runner}, nil
}

// Inject writes <image>.ecc and returns its path.
func (c *Client) Inject(ctx context.Context, workDir, image string) (string, error) {
	out := image + Suffix
	err := c.runner.Run(ctx, toolexec.Command{
		Binary: c.binary,
		Args:   []string{"--inject", image, "--output", out},
		Dir:    workDir,
	})
	if err != nil {
		return "", err
	}
	return out, nil
}
