package firewall

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"grimm.is/isolator/internal/logging"
)

// DefaultCommandTimeout bounds each external firewall command.
const DefaultCommandTimeout = 10 * time.Second

// CommandRunner abstracts shell command execution.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
	RunInput(ctx context.Context, input string, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner executes commands with os/exec, each under its own deadline.
type ExecRunner struct {
	Timeout time.Duration
}

// NewExecRunner returns an ExecRunner. A non-positive timeout selects
// DefaultCommandTimeout.
func NewExecRunner(timeout time.Duration) *ExecRunner {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &ExecRunner{Timeout: timeout}
}

// Run executes a command, discarding its output.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	_, err := r.exec(ctx, "", name, args)
	return err
}

// RunInput executes a command with input on stdin.
func (r *ExecRunner) RunInput(ctx context.Context, input string, name string, args ...string) error {
	_, err := r.exec(ctx, input, name, args)
	return err
}

// Output executes a command and returns its stdout.
func (r *ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return r.exec(ctx, "", name, args)
}

func (r *ExecRunner) exec(ctx context.Context, input, name string, args []string) ([]byte, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &CommandError{
			Command: RenderCommand(name, args...),
			Output:  strings.TrimSpace(stderr.String() + stdout.String()),
			Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded),
			Err:     err,
		}
	}
	return stdout.Bytes(), nil
}

// RecordingRunner is the dry-run runner. It never executes anything: each
// command is rendered, logged at info level and appended to an in-memory
// record. Run and RunInput succeed; Output returns no data.
type RecordingRunner struct {
	logger *logging.Logger

	mu       sync.Mutex
	commands []string
}

// NewRecordingRunner creates a RecordingRunner logging through logger
// (the default logger when nil).
func NewRecordingRunner(logger *logging.Logger) *RecordingRunner {
	return &RecordingRunner{logger: logging.OrDefault(logger).WithComponent("firewall.dryrun")}
}

func (r *RecordingRunner) record(line string) {
	r.mu.Lock()
	r.commands = append(r.commands, line)
	r.mu.Unlock()
	r.logger.Info("[DRY-RUN] would execute", "command", line)
}

// Run records the command.
func (r *RecordingRunner) Run(_ context.Context, name string, args ...string) error {
	r.record(RenderCommand(name, args...))
	return nil
}

// RunInput records the command followed by its stdin, one line per input line.
func (r *RecordingRunner) RunInput(_ context.Context, input string, name string, args ...string) error {
	line := RenderCommand(name, args...)
	if input = strings.TrimRight(input, "\n"); input != "" {
		line += " <<EOF\n" + input + "\nEOF"
	}
	r.record(line)
	return nil
}

// Output records the command and returns empty output.
func (r *RecordingRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	r.record(RenderCommand(name, args...))
	return nil, nil
}

// Commands returns a copy of every command recorded so far.
func (r *RecordingRunner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.commands))
	copy(out, r.commands)
	return out
}

// Reset forgets recorded commands.
func (r *RecordingRunner) Reset() {
	r.mu.Lock()
	r.commands = nil
	r.mu.Unlock()
}

// RenderCommand formats a command line for logs and dry-run output.
// Arguments containing whitespace or quotes are Go-quoted.
func RenderCommand(name string, args ...string) string {
	var b strings.Builder
	b.WriteString(name)
	for _, a := range args {
		b.WriteByte(' ')
		if a == "" || strings.ContainsAny(a, " \t\n\"'") {
			b.WriteString(strconv.Quote(a))
		} else {
			b.WriteString(a)
		}
	}
	return b.String()
}
