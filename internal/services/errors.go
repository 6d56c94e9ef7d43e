package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrResolution    = errors.New("resolution error")
	ErrExternalTool  = errors.New("external tool error")
	ErrIO            = errors.New("io error")
	ErrIncomplete    = errors.New("pipeline incomplete")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrIO
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ExitError reports an external command that finished with a non-zero status.
type ExitError struct {
	Command string
	Dir     string
	Code    int
	Output  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
	if tail := strings.TrimSpace(e.Output); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// Is lets errors.Is(err, ErrExternalTool) match bare exit errors.
func (e *ExitError) Is(target error) bool {
	return target == ErrExternalTool
}

// ExitCode maps a pipeline error to a process exit status. Tool failures
// surface the tool's own code; everything else exits 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return exitErr.Code
	}
	return 1
}

// Kind returns a short label for the error's marker, used in logs and the
// build history.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "ConfigError"
	case errors.Is(err, ErrResolution):
		return "ResolutionError"
	case errors.Is(err, ErrExternalTool):
		return "ExternalToolError"
	case errors.Is(err, ErrIncomplete):
		return "IncompleteError"
	default:
		return "IOError"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
