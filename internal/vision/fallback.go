package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Goutham-K-278/AgroSense/internal/logging"
	"github.com/Goutham-K-278/AgroSense/internal/procrun"
)

// FallbackConfig describes the one-shot prediction script invoked when the
// persistent worker cannot serve a request.
type FallbackConfig struct {
	PythonBinary string
	Script       string
	ModelPath    string
	LabelsPath   string
	WorkDir      string
	Timeout      time.Duration
}

// FallbackInvoker runs the one-shot script once per request: image bytes on
// stdin, a single JSON object somewhere on stdout. Slower than the worker
// because every call pays the model load, but immune to worker state.
type FallbackInvoker struct {
	cfg    FallbackConfig
	runner *procrun.Runner
}

func NewFallbackInvoker(cfg FallbackConfig, runner *procrun.Runner) *FallbackInvoker {
	if cfg.PythonBinary == "" {
		cfg.PythonBinary = "python3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &FallbackInvoker{cfg: cfg, runner: runner}
}

func (f *FallbackInvoker) Invoke(ctx context.Context, image []byte) (*InferenceResult, error) {
	timer := logging.StartTimer(logging.CategoryPerformance, "fallback-inference")
	defer timer.StopWithThreshold(30 * time.Second)

	res, err := f.runner.Run(ctx, procrun.Command{
		Binary: f.cfg.PythonBinary,
		Arguments: []string{
			f.cfg.Script,
			"--model", f.cfg.ModelPath,
			"--labels", f.cfg.LabelsPath,
		},
		WorkingDirectory: f.cfg.WorkDir,
		Stdin:            image,
		Timeout:          f.cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessFailed, err)
	}
	if res.Killed {
		return nil, fmt.Errorf("%w: one-shot killed: %s", ErrInferenceTimeout, res.KillReason)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%w: one-shot exited %d: %s", ErrProcessFailed, res.ExitCode, lastLines(strings.TrimSpace(res.Stderr), 3))
	}

	return parseOneShotOutput(res.Stdout)
}

// parseOneShotOutput extracts the outermost JSON object from stdout. ML
// frameworks print banners and progress noise around the payload, so the
// span between the first '{' and the last '}' is what gets decoded.
func parseOneShotOutput(stdout string) (*InferenceResult, error) {
	start := strings.Index(stdout, "{")
	end := strings.LastIndex(stdout, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in one-shot output", ErrOutputInvalid)
	}

	var msg workerMessage
	if err := json.Unmarshal([]byte(stdout[start:end+1]), &msg); err != nil {
		return nil, fmt.Errorf("%w: decode one-shot output: %v", ErrOutputInvalid, err)
	}
	if msg.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrProcessFailed, msg.Error)
	}
	if msg.Label == "" {
		return nil, fmt.Errorf("%w: one-shot output missing label", ErrOutputInvalid)
	}

	return &InferenceResult{
		RawLabel:   msg.Label,
		Confidence: msg.Confidence,
		Scores:     msg.Scores,
	}, nil
}
