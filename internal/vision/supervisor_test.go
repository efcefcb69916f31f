package vision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/Goutham-K-278/AgroSense/internal/metric"
	"github.com/Goutham-K-278/AgroSense/internal/procrun"
)

// testHarness lays out fake model artifacts and a shell-script worker so
// supervisor tests exercise the real process lifecycle without a model.
type testHarness struct {
	dir        string
	modelPath  string
	labelsPath string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script worker stubs require a POSIX shell")
	}
	dir := t.TempDir()
	h := &testHarness{
		dir:        dir,
		modelPath:  filepath.Join(dir, "model.h5"),
		labelsPath: filepath.Join(dir, "labels.json"),
	}
	mustWrite(t, h.modelPath, "fake-model")
	mustWrite(t, h.labelsPath, `["Rice_Rice___Brown_Spot","Rice_Rice___Leaf_Blast","Rice___Healthy"]`)
	return h
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		t.Fatal(err)
	}
}

func (h *testHarness) script(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	mustWrite(t, path, "#!/bin/sh\n"+body)
	return path
}

func (h *testHarness) vocab(t *testing.T) *Vocabulary {
	t.Helper()
	vocab, err := LoadVocabulary(h.labelsPath)
	if err != nil {
		t.Fatal(err)
	}
	return vocab
}

func (h *testHarness) supervisorConfig(daemon string) SupervisorConfig {
	return SupervisorConfig{
		PythonBinary:   "/bin/sh",
		DaemonScript:   daemon,
		ModelPath:      h.modelPath,
		LabelsPath:     h.labelsPath,
		WorkDir:        h.dir,
		StartupTimeout: 2 * time.Second,
		InferTimeout:   2 * time.Second,
		MaxPending:     8,
	}
}

// echoWorker answers every request with a fixed three-class result and
// records its environment for assertions.
const echoWorker = `echo "model=$DISEASE_MODEL_PATH labels=$DISEASE_LABELS_PATH" > env.txt
echo '{"type":"ready"}'
while IFS= read -r line; do
  id=${line#*\"id\":}
  id=${id%%,*}
  printf '{"id":%s,"label":"Rice_Rice___Brown_Spot","confidence":0.82,"scores":[0.82,0.12,0.06]}\n' "$id"
done
`

func TestSupervisorWorkerRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	daemon := h.script(t, "worker.sh", echoWorker)

	s := NewSupervisor(h.supervisorConfig(daemon), h.vocab(t), nil, nil)
	defer s.Shutdown()

	res, source, err := s.Infer(context.Background(), []byte("leaf"))
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if source != SourceWorker {
		t.Errorf("source = %q, want worker", source)
	}
	if res.RawLabel != "Rice_Rice___Brown_Spot" || res.Confidence != 0.82 {
		t.Errorf("result = %+v", res)
	}
	if got := s.State(); got != StateReady {
		t.Errorf("state = %q, want ready", got)
	}

	// Model artifacts are injected through the environment.
	env, err := os.ReadFile(filepath.Join(h.dir, "env.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(env), h.modelPath) || !strings.Contains(string(env), h.labelsPath) {
		t.Errorf("worker env missing artifact paths: %s", env)
	}
}

func TestSupervisorSpawnsOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	daemon := h.script(t, "worker.sh", `echo spawn >> spawns.txt
`+echoWorker)

	s := NewSupervisor(h.supervisorConfig(daemon), h.vocab(t), nil, nil)
	defer s.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := s.Infer(context.Background(), []byte("leaf")); err != nil {
				t.Errorf("Infer: %v", err)
			}
		}()
	}
	wg.Wait()

	spawns, err := os.ReadFile(filepath.Join(h.dir, "spawns.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(spawns), "spawn"); n != 1 {
		t.Errorf("worker spawned %d times, want 1", n)
	}
}

func TestSupervisorCrashRejectsPendingAndRespawns(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	// First incarnation dies on the first request; later incarnations are
	// healthy echo workers.
	daemon := h.script(t, "worker.sh", `echo spawn >> spawns.txt
echo '{"type":"ready"}'
if [ ! -f crashed.txt ]; then
  touch crashed.txt
  IFS= read -r line
  echo "model load lost" >&2
  exit 3
fi
while IFS= read -r line; do
  id=${line#*\"id\":}
  id=${id%%,*}
  printf '{"id":%s,"label":"Rice___Healthy","confidence":0.9,"scores":[0.05,0.05,0.9]}\n' "$id"
done
`)

	s := NewSupervisor(h.supervisorConfig(daemon), h.vocab(t), nil, nil)
	defer s.Shutdown()

	// First request rides the crashing incarnation; with no fallback the
	// crash surfaces as a terminal diagnosis error.
	_, _, err := s.Infer(context.Background(), []byte("leaf"))
	if !errors.Is(err, ErrDiagnosisUnavailable) {
		t.Fatalf("error = %v, want ErrDiagnosisUnavailable", err)
	}
	if !strings.Contains(err.Error(), "model load lost") {
		t.Errorf("crash reason lost: %v", err)
	}

	// Recovery is lazy: the next request triggers a fresh spawn.
	res, source, err := s.Infer(context.Background(), []byte("leaf"))
	if err != nil {
		t.Fatalf("Infer after crash: %v", err)
	}
	if source != SourceWorker || res.RawLabel != "Rice___Healthy" {
		t.Errorf("got %q from %q", res.RawLabel, source)
	}

	spawns, err := os.ReadFile(filepath.Join(h.dir, "spawns.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(spawns), "spawn"); n != 2 {
		t.Errorf("worker spawned %d times, want 2", n)
	}
}

func TestSupervisorStartupTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	daemon := h.script(t, "worker.sh", `exec sleep 5
`)

	cfg := h.supervisorConfig(daemon)
	cfg.StartupTimeout = 100 * time.Millisecond
	s := NewSupervisor(cfg, h.vocab(t), nil, nil)
	defer s.Shutdown()

	_, err := s.inferPersistent(context.Background(), []byte("leaf"))
	if !errors.Is(err, ErrWorkerStartupTimeout) {
		t.Fatalf("error = %v, want ErrWorkerStartupTimeout", err)
	}
	// The aborted spawn must not leave the lifecycle stuck in spawning.
	if got := s.State(); got != StateUninitialized {
		t.Errorf("state = %q, want uninitialized", got)
	}
}

func TestSupervisorRestartCounter(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	daemon := h.script(t, "worker.sh", `echo '{"type":"ready"}'
if [ ! -f crashed.txt ]; then
  touch crashed.txt
  IFS= read -r line
  exit 3
fi
while IFS= read -r line; do
  id=${line#*\"id\":}
  id=${id%%,*}
  printf '{"id":%s,"label":"Rice___Healthy","confidence":0.9,"scores":[0.05,0.05,0.9]}\n' "$id"
done
`)

	metrics := metric.NewVisionMetrics()
	s := NewSupervisor(h.supervisorConfig(daemon), h.vocab(t), nil, metrics)
	defer s.Shutdown()

	if _, _, err := s.Infer(context.Background(), []byte("leaf")); err == nil {
		t.Fatal("expected error from crashing worker")
	}
	if _, _, err := s.Infer(context.Background(), []byte("leaf")); err != nil {
		t.Fatalf("Infer after crash: %v", err)
	}

	// One crash of a live worker, one restart counted.
	if got := testutil.ToFloat64(metrics.WorkerRestarts); got != 1 {
		t.Errorf("restart counter = %v, want 1", got)
	}
}

func TestSupervisorShutdownNotCountedAsRestart(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	daemon := h.script(t, "worker.sh", echoWorker)

	metrics := metric.NewVisionMetrics()
	s := NewSupervisor(h.supervisorConfig(daemon), h.vocab(t), nil, metrics)

	if _, _, err := s.Infer(context.Background(), []byte("leaf")); err != nil {
		t.Fatalf("Infer: %v", err)
	}

	s.mu.Lock()
	worker := s.worker
	s.mu.Unlock()

	s.Shutdown()
	select {
	case <-worker.mux.done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker exit never processed")
	}
	time.Sleep(50 * time.Millisecond)

	if got := testutil.ToFloat64(metrics.WorkerRestarts); got != 0 {
		t.Errorf("restart counter = %v after shutdown, want 0", got)
	}
}

func TestSupervisorMissingArtifacts(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	daemon := h.script(t, "worker.sh", echoWorker)
	if err := os.Remove(h.modelPath); err != nil {
		t.Fatal(err)
	}

	s := NewSupervisor(h.supervisorConfig(daemon), h.vocab(t), nil, nil)
	defer s.Shutdown()

	_, err := s.inferPersistent(context.Background(), []byte("leaf"))
	if !errors.Is(err, ErrWorkerUnavailable) {
		t.Fatalf("error = %v, want ErrWorkerUnavailable", err)
	}
	if got := s.State(); got != StateDegraded {
		t.Errorf("state = %q, want degraded", got)
	}
}

func TestSupervisorFallsBackWhenWorkerUnavailable(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	// Daemon script missing entirely; the one-shot script still works.
	oneShot := h.script(t, "oneshot.sh", `cat > /dev/null
echo "Loading TensorFlow runtime..."
echo '{"label":"Rice_Rice___Leaf_Blast","confidence":0.7,"scores":[0.2,0.7,0.1]}'
`)

	fb := NewFallbackInvoker(FallbackConfig{
		PythonBinary: "/bin/sh",
		Script:       oneShot,
		ModelPath:    h.modelPath,
		LabelsPath:   h.labelsPath,
		WorkDir:      h.dir,
		Timeout:      2 * time.Second,
	}, procrun.NewRunner(procrun.RunnerConfig{}))

	cfg := h.supervisorConfig(filepath.Join(h.dir, "missing.sh"))
	s := NewSupervisor(cfg, h.vocab(t), fb, nil)
	defer s.Shutdown()

	res, source, err := s.Infer(context.Background(), []byte("leaf"))
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if source != SourceFallback {
		t.Errorf("source = %q, want fallback", source)
	}
	if res.RawLabel != "Rice_Rice___Leaf_Blast" {
		t.Errorf("label = %q", res.RawLabel)
	}
}

func TestSupervisorBothPathsFail(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	oneShot := h.script(t, "oneshot.sh", `cat > /dev/null
echo "no model found" >&2
exit 1
`)

	fb := NewFallbackInvoker(FallbackConfig{
		PythonBinary: "/bin/sh",
		Script:       oneShot,
		ModelPath:    h.modelPath,
		LabelsPath:   h.labelsPath,
		WorkDir:      h.dir,
		Timeout:      2 * time.Second,
	}, procrun.NewRunner(procrun.RunnerConfig{}))

	cfg := h.supervisorConfig(filepath.Join(h.dir, "missing.sh"))
	s := NewSupervisor(cfg, h.vocab(t), fb, nil)
	defer s.Shutdown()

	_, _, err := s.Infer(context.Background(), []byte("leaf"))
	if !errors.Is(err, ErrDiagnosisUnavailable) {
		t.Fatalf("error = %v, want ErrDiagnosisUnavailable", err)
	}
	// Both failure reasons survive into the terminal error.
	if !strings.Contains(err.Error(), "worker:") || !strings.Contains(err.Error(), "fallback:") {
		t.Errorf("error lacks per-path reasons: %v", err)
	}
}

func TestSupervisorRejectsShortScoreVector(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	daemon := h.script(t, "worker.sh", `echo '{"type":"ready"}'
while IFS= read -r line; do
  id=${line#*\"id\":}
  id=${id%%,*}
  printf '{"id":%s,"label":"Rice___Healthy","confidence":0.9,"scores":[0.9]}\n' "$id"
done
`)

	s := NewSupervisor(h.supervisorConfig(daemon), h.vocab(t), nil, nil)
	defer s.Shutdown()

	_, err := s.inferPersistent(context.Background(), []byte("leaf"))
	if !errors.Is(err, ErrOutputInvalid) {
		t.Fatalf("error = %v, want ErrOutputInvalid", err)
	}
}
