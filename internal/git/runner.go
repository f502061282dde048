// Package git shells out to git (and gh, for PR merges) for the branch
// and merge workflow around task finalization.
package git

import (
	"bytes"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner executes external commands. Tests swap in a fake to script
// git's answers without a real repository.
type Runner interface {
	// Run executes name with args in workDir and returns trimmed
	// stdout. On failure the error carries whatever the tool printed.
	Run(workDir string, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// NewExecRunner returns the real command runner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run implements Runner.
func (r *ExecRunner) Run(workDir, name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("exec", "cmd", name, "args", strings.Join(args, " "), "dir", workDir)
	if err := cmd.Run(); err != nil {
		output := strings.TrimSpace(stderr.String())
		if output == "" {
			output = strings.TrimSpace(stdout.String())
		}
		return output, &CommandError{
			Command: name,
			Args:    args,
			WorkDir: workDir,
			Output:  output,
			Err:     err,
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CommandError is a failed external command with its captured output.
type CommandError struct {
	Command string
	Args    []string
	WorkDir string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Output != "" {
		return e.Output
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s failed", e.Command)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
