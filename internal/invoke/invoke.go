// Package invoke executes the external tools the pipeline depends on
// (wget, md5sum, osm2pgsql, sqitch, psql, lua, pg_dump) and captures their
// combined output.
package invoke

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Command describes one external tool invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Env holds extra KEY=value pairs appended to the inherited environment.
	// Used only at the genuine process boundary (osm2pgsql / lua read their
	// PGOSM_* configuration from the environment).
	Env []string
}

// String returns the command line without the environment, for logging.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// CommandError reports a command that exited non-zero, carrying the captured
// output for diagnostics.
type CommandError struct {
	Cmd    string
	Output string
	Cause  error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed: %v\noutput:\n%s", e.Cmd, e.Cause, e.Output)
}

func (e *CommandError) Unwrap() error {
	return e.Cause
}

// Runner executes external commands. The pipeline and the acquisition
// manager depend on this interface so tests can substitute a fake.
type Runner interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct {
	log *slog.Logger
}

// NewExecRunner returns a Runner executing real processes.
func NewExecRunner(log *slog.Logger) *ExecRunner {
	return &ExecRunner{log: log}
}

// Run executes the command and returns its combined stdout+stderr. A
// non-zero exit is returned as *CommandError with the output attached.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (string, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var out strings.Builder
	c.Stdout = &out
	c.Stderr = &out

	r.log.Debug("running command", "cmd", cmd.Name, "dir", cmd.Dir)
	if err := c.Run(); err != nil {
		return out.String(), &CommandError{
			Cmd:    cmd.String(),
			Output: out.String(),
			Cause:  err,
		}
	}
	return out.String(), nil
}
