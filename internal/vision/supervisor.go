package vision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Goutham-K-278/AgroSense/internal/logging"
	"github.com/Goutham-K-278/AgroSense/internal/metric"
)

// SupervisorConfig controls the persistent worker lifecycle and the
// per-request inference deadlines.
type SupervisorConfig struct {
	PythonBinary string
	DaemonScript string
	ModelPath    string
	LabelsPath   string
	WorkDir      string

	StartupTimeout time.Duration
	InferTimeout   time.Duration
	MaxPending     int
}

func (c *SupervisorConfig) applyDefaults() {
	if c.PythonBinary == "" {
		c.PythonBinary = "python3"
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 12 * time.Second
	}
	if c.InferTimeout <= 0 {
		c.InferTimeout = 15 * time.Second
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 32
	}
}

// workerHandle bundles one spawned worker process with its multiplexer.
// A handle is immutable after spawn; crash recovery swaps the whole handle.
type workerHandle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	mux    *lineMux
	stderr *tailBuffer
}

// Supervisor owns a single long-lived inference worker, lazily spawned and
// respawned after crashes. Concurrent callers share one worker; when it is
// unusable each request falls back to a one-shot invocation.
type Supervisor struct {
	cfg      SupervisorConfig
	vocab    *Vocabulary
	fallback *FallbackInvoker
	metrics  *metric.VisionMetrics

	mu     sync.Mutex
	worker *workerHandle
	state  WorkerState

	spawn singleflight.Group
}

func NewSupervisor(cfg SupervisorConfig, vocab *Vocabulary, fallback *FallbackInvoker, metrics *metric.VisionMetrics) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{
		cfg:      cfg,
		vocab:    vocab,
		fallback: fallback,
		metrics:  metrics,
		state:    StateUninitialized,
	}
}

// State reports the current lifecycle state of the persistent worker.
func (s *Supervisor) State() WorkerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Infer classifies the image, preferring the persistent worker and falling
// back to a one-shot invocation when the worker path fails for any reason.
// When both paths fail the error wraps ErrDiagnosisUnavailable.
func (s *Supervisor) Infer(ctx context.Context, image []byte) (*InferenceResult, Source, error) {
	timer := logging.StartTimer(logging.CategoryPerformance, "inference")

	res, workerErr := s.inferPersistent(ctx, image)
	if workerErr == nil {
		s.metrics.ObserveRequest("worker", timer.Stop())
		return res, SourceWorker, nil
	}
	s.metrics.ObserveFailure(failureReason(workerErr))
	logging.VisionWarn("Worker path failed, trying one-shot fallback: %v", workerErr)

	res, fallbackErr := s.inferFallback(ctx, image)
	if fallbackErr == nil {
		s.metrics.ObserveRequest("fallback", timer.Stop())
		return res, SourceFallback, nil
	}
	s.metrics.ObserveFailure("fallback_" + failureReason(fallbackErr))

	return nil, "", fmt.Errorf("%w: worker: %v; fallback: %v", ErrDiagnosisUnavailable, workerErr, fallbackErr)
}

func (s *Supervisor) inferPersistent(ctx context.Context, image []byte) (*InferenceResult, error) {
	h, err := s.ensureReady(ctx)
	if err != nil {
		return nil, err
	}

	select {
	case out := <-h.mux.submit(image):
		if out.err != nil {
			return nil, out.err
		}
		if err := s.vocab.ValidateScores(out.res.Scores); err != nil {
			return nil, err
		}
		return out.res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Supervisor) inferFallback(ctx context.Context, image []byte) (*InferenceResult, error) {
	if s.fallback == nil {
		return nil, fmt.Errorf("%w: no fallback configured", ErrDiagnosisUnavailable)
	}
	res, err := s.fallback.Invoke(ctx, image)
	if err != nil {
		return nil, err
	}
	if err := s.vocab.ValidateScores(res.Scores); err != nil {
		return nil, err
	}
	return res, nil
}

// ensureReady returns the live worker handle, spawning one if needed.
// Concurrent callers during a spawn share a single attempt.
func (s *Supervisor) ensureReady(ctx context.Context) (*workerHandle, error) {
	s.mu.Lock()
	if s.worker != nil && s.state == StateReady {
		h := s.worker
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	v, err, _ := s.spawn.Do("spawn", func() (any, error) {
		return s.spawnWorker()
	})
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return v.(*workerHandle), nil
}

func (s *Supervisor) spawnWorker() (*workerHandle, error) {
	if err := s.checkArtifacts(); err != nil {
		s.setState(StateDegraded)
		return nil, err
	}

	s.setState(StateSpawning)
	logging.Worker("Spawning inference worker: %s %s", s.cfg.PythonBinary, s.cfg.DaemonScript)

	cmd := exec.Command(s.cfg.PythonBinary, s.cfg.DaemonScript)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = append(os.Environ(),
		"DISEASE_MODEL_PATH="+s.cfg.ModelPath,
		"DISEASE_LABELS_PATH="+s.cfg.LabelsPath,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.setState(StateUninitialized)
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrProcessFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.setState(StateUninitialized)
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrProcessFailed, err)
	}
	// Wait drains this copy before returning, so the tail is complete by
	// the time handleExit reads it.
	tail := newTailBuffer(4096)
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		s.setState(StateUninitialized)
		return nil, fmt.Errorf("%w: start worker: %v", ErrProcessFailed, err)
	}

	h := &workerHandle{
		cmd:    cmd,
		stdin:  stdin,
		mux:    newLineMux(stdin, s.cfg.InferTimeout, s.cfg.MaxPending, s.metrics),
		stderr: tail,
	}
	go h.mux.readLines(stdout)
	go func() {
		err := cmd.Wait()
		s.handleExit(h, err)
	}()

	// Model loading dominates startup; wait for the ready line before
	// admitting traffic.
	select {
	case <-h.mux.readyCh:
		s.mu.Lock()
		s.worker = h
		s.state = StateReady
		s.mu.Unlock()
		s.metrics.SetWorkerState(metric.WorkerStateReady)
		logging.Worker("Worker ready (pid %d)", cmd.Process.Pid)
		return h, nil

	case <-time.After(s.cfg.StartupTimeout):
		logging.WorkerError("Worker failed to signal ready within %s, killing", s.cfg.StartupTimeout)
		s.setState(StateUninitialized)
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("%w: no ready signal within %s", ErrWorkerStartupTimeout, s.cfg.StartupTimeout)

	case <-h.mux.done:
		s.setState(StateUninitialized)
		return nil, fmt.Errorf("%w: worker exited during startup", ErrProcessFailed)
	}
}

func (s *Supervisor) checkArtifacts() error {
	for _, p := range []string{s.cfg.ModelPath, s.cfg.LabelsPath} {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrWorkerUnavailable, p, err)
		}
	}
	if _, err := os.Stat(s.cfg.DaemonScript); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWorkerUnavailable, s.cfg.DaemonScript, err)
	}
	return nil
}

// handleExit runs once per worker process, on its wait goroutine. Every
// request still in flight is rejected with the crash reason, and the next
// Infer call triggers a fresh spawn.
func (s *Supervisor) handleExit(h *workerHandle, waitErr error) {
	reason := s.exitReason(h, waitErr)

	// Clear the handle before settling waiters, so a caller retrying right
	// after rejection sees the dead worker gone and spawns a fresh one.
	s.mu.Lock()
	wasLive := s.worker == h
	if wasLive {
		s.worker = nil
		s.state = StateUninitialized
	}
	s.mu.Unlock()

	h.mux.reset(reason)

	// Shutdown and failed spawns detach the handle first; only a live
	// worker dying counts as a restart.
	if wasLive {
		s.metrics.ObserveRestart()
	}
	s.metrics.SetWorkerState(metric.WorkerStateUninitialized)
	logging.WorkerWarn("Worker exited: %v", reason)
}

func (s *Supervisor) exitReason(h *workerHandle, waitErr error) error {
	tail := strings.TrimSpace(h.stderr.String())
	switch {
	case waitErr == nil:
		return fmt.Errorf("%w: worker exited cleanly mid-session", ErrProcessFailed)
	case tail != "":
		return fmt.Errorf("%w: %v: %s", ErrProcessFailed, waitErr, lastLines(tail, 3))
	default:
		return fmt.Errorf("%w: %v", ErrProcessFailed, waitErr)
	}
}

func (s *Supervisor) setState(st WorkerState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()

	switch st {
	case StateSpawning:
		s.metrics.SetWorkerState(metric.WorkerStateSpawning)
	case StateDegraded:
		s.metrics.SetWorkerState(metric.WorkerStateDegraded)
	case StateReady:
		s.metrics.SetWorkerState(metric.WorkerStateReady)
	default:
		s.metrics.SetWorkerState(metric.WorkerStateUninitialized)
	}
}

// Shutdown kills the worker if one is running. Pending requests settle
// through the exit path.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	h := s.worker
	s.worker = nil
	s.state = StateUninitialized
	s.mu.Unlock()

	if h != nil {
		logging.Worker("Shutting down worker (pid %d)", h.cmd.Process.Pid)
		_ = h.stdin.Close()
		_ = h.cmd.Process.Kill()
	}
}

func failureReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInferenceTimeout), errors.Is(err, ErrWorkerStartupTimeout):
		return "timeout"
	case errors.Is(err, ErrWorkerUnavailable):
		return "unavailable"
	case errors.Is(err, ErrBacklogFull):
		return "backlog"
	case errors.Is(err, ErrOutputInvalid):
		return "invalid_output"
	default:
		return "process"
	}
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

// tailBuffer keeps the last max bytes written, for crash diagnostics.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
