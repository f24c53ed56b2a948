package system

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Executor handles execution of external commands
type Executor struct {
	debug bool
	sink  func(string)
}

// NewExecutor creates a new executor. When debug is enabled every command
// line is reported through sink before it runs.
func NewExecutor(debug bool, sink func(string)) *Executor {
	return &Executor{
		debug: debug,
		sink:  sink,
	}
}

// Run executes a command and discards output
func (e *Executor) Run(name string, args ...string) error {
	_, err := e.RunOutput(name, args...)
	return err
}

// RunOutput executes a command and returns stdout
func (e *Executor) RunOutput(name string, args ...string) (string, error) {
	return e.run(nil, name, args...)
}

// RunInput executes a command with the given stdin and discards output.
// Used for tools that read secrets from standard input.
func (e *Executor) RunInput(stdin io.Reader, name string, args ...string) error {
	_, err := e.run(stdin, name, args...)
	return err
}

func (e *Executor) run(stdin io.Reader, name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdin = stdin

	if e.debug && e.sink != nil {
		e.sink(cmd.String())
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &ToolError{
			Tool:   name,
			Err:    err,
			Stderr: strings.TrimSpace(stderr.String()),
		}
	}

	return stdout.String(), nil
}

// ToolError wraps a failed external command with its captured stderr.
type ToolError struct {
	Tool   string
	Err    error
	Stderr string
}

func (e *ToolError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s failed: %v: %s", e.Tool, e.Err, e.Stderr)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// CommandExists checks if a command is available in PATH
func (e *Executor) CommandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// CheckDependencies verifies required commands are available
func (e *Executor) CheckDependencies(deps []string) error {
	var missing []string
	for _, dep := range deps {
		if !e.CommandExists(dep) {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required commands: %s",
			strings.Join(missing, ", "))
	}
	return nil
}
