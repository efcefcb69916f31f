// Package procrun runs one-shot external processes with captured output,
// bounded capture size, and context-based timeouts. It is the execution
// substrate for the degraded inference path, where a fresh interpreter is
// spawned per call instead of talking to the persistent worker.
package procrun

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/Goutham-K-278/AgroSense/internal/logging"
)

// Command describes a one-shot process invocation.
type Command struct {
	// Binary is the executable to run.
	Binary string

	// Arguments are the command-line arguments.
	Arguments []string

	// WorkingDirectory is the directory to execute in. Empty means the
	// runner's default.
	WorkingDirectory string

	// Environment variables to set (KEY=VALUE), merged with the runner's
	// allowed pass-through environment.
	Environment []string

	// Stdin is written to the process's standard input, which is then
	// closed.
	Stdin []byte

	// Timeout caps execution time. Zero means the runner's default.
	Timeout time.Duration
}

// Result is the outcome of a completed invocation. A non-zero exit code is
// not an error at this layer; Err is set only when the process could not be
// run at all.
type Result struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	Duration   time.Duration
	Killed     bool
	KillReason string
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	DefaultTimeout     time.Duration
	MaxOutputBytes     int64
	AllowedEnvironment []string
	DefaultWorkingDir  string
}

// DefaultRunnerConfig returns sensible defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		DefaultTimeout:     60 * time.Second,
		MaxOutputBytes:     4 * 1024 * 1024, // 4MB
		AllowedEnvironment: []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "TMPDIR"},
		DefaultWorkingDir:  ".",
	}
}

// Runner executes one-shot commands.
type Runner struct {
	config RunnerConfig
}

// NewRunner creates a runner with the given config. Zero fields fall back
// to defaults.
func NewRunner(config RunnerConfig) *Runner {
	def := DefaultRunnerConfig()
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = def.DefaultTimeout
	}
	if config.MaxOutputBytes == 0 {
		config.MaxOutputBytes = def.MaxOutputBytes
	}
	if config.AllowedEnvironment == nil {
		config.AllowedEnvironment = def.AllowedEnvironment
	}
	if config.DefaultWorkingDir == "" {
		config.DefaultWorkingDir = def.DefaultWorkingDir
	}
	return &Runner{config: config}
}

// Run executes the command and captures its output. The returned error is
// set only for infrastructure failures (binary missing, pipe failure);
// non-zero exits and timeouts are reported through the Result.
func (r *Runner) Run(ctx context.Context, cmd Command) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryPerformance, "One-shot command execution")
	defer timer.Stop()

	if cmd.Binary == "" {
		return nil, fmt.Errorf("binary is required")
	}

	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = r.config.DefaultTimeout
	}

	workDir := cmd.WorkingDirectory
	if workDir == "" {
		workDir = r.config.DefaultWorkingDir
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCmd := exec.CommandContext(execCtx, cmd.Binary, cmd.Arguments...)
	execCmd.Dir = workDir
	execCmd.Env = r.buildEnvironment(cmd.Environment)

	if len(cmd.Stdin) > 0 {
		execCmd.Stdin = bytes.NewReader(cmd.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: r.config.MaxOutputBytes}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: r.config.MaxOutputBytes}
	execCmd.Stdout = stdoutLimited
	execCmd.Stderr = stderrLimited

	logging.WorkerDebug("Running one-shot command: %s (timeout=%s, stdin=%d bytes)",
		cmd.Binary, timeout, len(cmd.Stdin))

	started := time.Now()
	err := execCmd.Run()
	result := &Result{
		ExitCode: 0,
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(started),
	}

	if err != nil {
		switch {
		case execCtx.Err() == context.DeadlineExceeded:
			result.Killed = true
			result.KillReason = fmt.Sprintf("timeout after %s", timeout)
			result.ExitCode = -1
			logging.WorkerWarn("One-shot command killed (timeout): %s after %s", cmd.Binary, timeout)
		case execCtx.Err() == context.Canceled:
			result.Killed = true
			result.KillReason = "context canceled"
			result.ExitCode = -1
		default:
			if exitErr, ok := err.(*exec.ExitError); ok {
				result.ExitCode = exitErr.ExitCode()
				logging.WorkerDebug("One-shot command exited non-zero: %s -> %d", cmd.Binary, result.ExitCode)
			} else {
				logging.WorkerError("One-shot command failed to run: %s - %v", cmd.Binary, err)
				return nil, fmt.Errorf("failed to run %s: %w", cmd.Binary, err)
			}
		}
	}

	logging.WorkerDebug("One-shot command completed: %s -> exit=%d, duration=%s, stdout=%d bytes",
		cmd.Binary, result.ExitCode, result.Duration, len(result.Stdout))

	return result, nil
}

// buildEnvironment creates the environment variable list.
func (r *Runner) buildEnvironment(cmdEnv []string) []string {
	env := make([]string, 0, len(r.config.AllowedEnvironment)+len(cmdEnv))
	for _, key := range r.config.AllowedEnvironment {
		if val := os.Getenv(key); val != "" {
			env = append(env, fmt.Sprintf("%s=%s", key, val))
		}
	}
	env = append(env, cmdEnv...)
	return env
}

// limitedWriter is an io.Writer that limits total bytes written.
type limitedWriter struct {
	w       io.Writer
	max     int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		return n, nil // Pretend we wrote it
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err // Return original length to avoid "short write" errors
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
