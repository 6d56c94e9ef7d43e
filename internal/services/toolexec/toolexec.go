package toolexec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"imgforge/internal/logging"
	"imgforge/internal/services"
)

const defaultTailLines = 20

// Command is one external tool invocation. Dir is the working directory the
// tool runs in; the process working directory is never changed.
type Command struct {
	Binary string
	Args   []string
	Dir    string
}

// String renders the command line with arguments quoted where needed.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quote(c.Binary))
	for _, arg := range c.Args {
		parts = append(parts, quote(arg))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"'\\") {
		return strconv.Quote(s)
	}
	return s
}

// Runner executes external commands. A non-zero exit is reported as a
// *services.ExitError.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// Option configures an Exec runner.
type Option func(*Exec)

// WithTimeout bounds every invocation. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(e *Exec) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// WithTailLines sets how many trailing output lines are kept for errors.
func WithTailLines(n int) Option {
	return func(e *Exec) {
		if n > 0 {
			e.tailLines = n
		}
	}
}

// Exec runs commands as subprocesses.
type Exec struct {
	logger    *slog.Logger
	timeout   time.Duration
	tailLines int
}

// New constructs a subprocess runner.
func New(logger *slog.Logger, opts ...Option) *Exec {
	e := &Exec{
		logger:    logging.NewComponentLogger(logger, "toolexec"),
		tailLines: defaultTailLines,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run starts cmd and blocks until it exits.
func (e *Exec) Run(ctx context.Context, cmd Command) error {
	if strings.TrimSpace(cmd.Binary) == "" {
		return services.Wrap(services.ErrConfiguration, "toolexec", "run", "tool binary not configured", nil)
	}
	logger := logging.WithContext(ctx, e.logger)
	commandLine := cmd.String()

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	proc := exec.CommandContext(runCtx, cmd.Binary, cmd.Args...) //nolint:gosec
	proc.Dir = cmd.Dir
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return services.Wrap(services.ErrIO, "toolexec", "stdout pipe", commandLine, err)
	}
	stderr, err := proc.StderrPipe()
	if err != nil {
		return services.Wrap(services.ErrIO, "toolexec", "stderr pipe", commandLine, err)
	}

	logger.Info("tool started",
		logging.String(logging.FieldEventType, "tool_start"),
		logging.String("command", commandLine),
		logging.String("dir", cmd.Dir),
	)
	start := time.Now()
	if err := proc.Start(); err != nil {
		logger.Error("tool failed to start",
			logging.String(logging.FieldEventType, "tool_failure"),
			logging.String("command", commandLine),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the tools section of the configuration"),
		)
		return services.Wrap(services.ErrExternalTool, "toolexec", "start", commandLine, err)
	}

	tail := newTail(e.tailLines)
	var wg sync.WaitGroup
	scan := func(r io.Reader, stream string) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			tail.add(line)
			logger.Debug("tool output", logging.String("stream", stream), logging.String("line", line))
		}
	}
	wg.Add(2)
	go scan(stdout, "stdout")
	go scan(stderr, "stderr")
	wg.Wait()

	err = proc.Wait()
	elapsed := time.Since(start)
	if err == nil {
		logger.Info("tool completed",
			logging.String(logging.FieldEventType, "tool_complete"),
			logging.String("command", commandLine),
			logging.Duration("duration", elapsed),
		)
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		failure := &services.ExitError{
			Command: commandLine,
			Dir:     cmd.Dir,
			Code:    exitErr.ExitCode(),
			Output:  tail.String(),
		}
		logger.Error("tool failed",
			logging.String(logging.FieldEventType, "tool_failure"),
			logging.String("command", commandLine),
			logging.Int("exit_code", failure.Code),
			logging.Duration("duration", elapsed),
			logging.String(logging.FieldErrorHint, "inspect the tool output above"),
		)
		return failure
	}

	logger.Error("tool terminated",
		logging.String(logging.FieldEventType, "tool_failure"),
		logging.String("command", commandLine),
		logging.Duration("duration", elapsed),
		logging.Error(err),
	)
	if ctxErr := runCtx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w (%v)", err, ctxErr)
	}
	return services.Wrap(services.ErrExternalTool, "toolexec", "wait", commandLine, err)
}

type tail struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func newTail(max int) *tail {
	return &tail{max: max}
}

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
