// Package toolexec runs the external image tools.
//
// Every invocation carries an explicit working directory, logs tool_start,
// tool_complete and tool_failure events, and turns a non-zero exit status into
// a *services.ExitError holding the command line, exit code and the last lines
// of output. Nothing is retried.
package toolexec
