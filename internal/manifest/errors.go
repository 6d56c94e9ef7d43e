package manifest

import (
	"fmt"

	"imgforge/internal/services"
)

// SyntaxError reports a malformed or incomplete manifest. Line and Column are
// zero when the position is unknown.
type SyntaxError struct {
	File   string
	Line   int
	Column int
	Msg    string
}

func (e *SyntaxError) Error() string {
	file := e.File
	if file == "" {
		file = "manifest"
	}
	switch {
	case e.Line > 0 && e.Column > 0:
		return fmt.Sprintf("%s:%d:%d: %s", file, e.Line, e.Column, e.Msg)
	case e.Line > 0:
		return fmt.Sprintf("%s:%d: %s", file, e.Line, e.Msg)
	default:
		return fmt.Sprintf("%s: %s", file, e.Msg)
	}
}

// Is lets SyntaxError match services.ErrConfiguration.
func (e *SyntaxError) Is(target error) bool {
	return target == services.ErrConfiguration
}
