package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Vision.PythonBinary != "python3" {
		t.Errorf("PythonBinary = %q", cfg.Vision.PythonBinary)
	}
	if cfg.Vision.MaxPending != 32 {
		t.Errorf("MaxPending = %d", cfg.Vision.MaxPending)
	}
	if cfg.GetStartupTimeout() != 12*time.Second {
		t.Errorf("StartupTimeout = %s", cfg.GetStartupTimeout())
	}
	if cfg.GetInferTimeout() != 15*time.Second {
		t.Errorf("InferTimeout = %s", cfg.GetInferTimeout())
	}
	if cfg.GetOneShotTimeout() != 45*time.Second {
		t.Errorf("OneShotTimeout = %s", cfg.GetOneShotTimeout())
	}
	if cfg.Diagnosis.GapThreshold != 0.22 || cfg.Diagnosis.ScoreFloor != 0.12 || cfg.Diagnosis.CertaintyCeiling != 0.90 {
		t.Errorf("calibration thresholds = %+v", cfg.Diagnosis)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Vision.DaemonScript != "scripts/predict_crop_disease_daemon.py" {
		t.Errorf("DaemonScript = %q", cfg.Vision.DaemonScript)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agrosense.yaml")
	yaml := `
vision:
  python_binary: /usr/bin/python3.11
  infer_timeout: 30s
  max_pending: 4
diagnosis:
  cache_ttl: 1h
  gap_threshold: 0.3
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Vision.PythonBinary != "/usr/bin/python3.11" {
		t.Errorf("PythonBinary = %q", cfg.Vision.PythonBinary)
	}
	if cfg.GetInferTimeout() != 30*time.Second {
		t.Errorf("InferTimeout = %s", cfg.GetInferTimeout())
	}
	if cfg.Vision.MaxPending != 4 {
		t.Errorf("MaxPending = %d", cfg.Vision.MaxPending)
	}
	if cfg.GetCacheTTL() != time.Hour {
		t.Errorf("CacheTTL = %s", cfg.GetCacheTTL())
	}
	if cfg.Diagnosis.GapThreshold != 0.3 {
		t.Errorf("GapThreshold = %v", cfg.Diagnosis.GapThreshold)
	}
	// Unmentioned fields keep their defaults.
	if cfg.Vision.ModelPath != "models/crop_disease_model.h5" {
		t.Errorf("ModelPath = %q", cfg.Vision.ModelPath)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agrosense.yaml")
	if err := os.WriteFile(path, []byte("vision: ["), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DISEASE_MODEL_PATH", "/srv/models/v2.h5")
	t.Setenv("DISEASE_LABELS_PATH", "/srv/models/v2_labels.json")
	t.Setenv("AGROSENSE_PYTHON", "/opt/venv/bin/python")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Vision.ModelPath != "/srv/models/v2.h5" {
		t.Errorf("ModelPath = %q", cfg.Vision.ModelPath)
	}
	if cfg.Vision.LabelsPath != "/srv/models/v2_labels.json" {
		t.Errorf("LabelsPath = %q", cfg.Vision.LabelsPath)
	}
	if cfg.Vision.PythonBinary != "/opt/venv/bin/python" {
		t.Errorf("PythonBinary = %q", cfg.Vision.PythonBinary)
	}
}

func TestBadDurationFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Vision.InferTimeout = "soon"
	if cfg.GetInferTimeout() != 15*time.Second {
		t.Errorf("InferTimeout = %s, want default", cfg.GetInferTimeout())
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "agrosense.yaml")
	cfg := DefaultConfig()
	cfg.Vision.MaxPending = 7

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Vision.MaxPending != 7 {
		t.Errorf("MaxPending = %d, want 7", loaded.Vision.MaxPending)
	}
}
