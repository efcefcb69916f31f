package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all AgroSense configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Crop-disease vision pipeline
	Vision VisionConfig `yaml:"vision"`

	// Diagnosis assembly and caching
	Diagnosis DiagnosisConfig `yaml:"diagnosis"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// VisionConfig configures the inference worker and its fallback path.
type VisionConfig struct {
	// Interpreter used for both the daemon and the one-shot script
	PythonBinary string `yaml:"python_binary"`

	// Scripts
	DaemonScript  string `yaml:"daemon_script"`
	OneShotScript string `yaml:"oneshot_script"`

	// Model artifacts
	ModelPath  string `yaml:"model_path"`
	LabelsPath string `yaml:"labels_path"`

	// Working directory for spawned processes
	WorkingDirectory string `yaml:"working_directory"`

	// Timeouts as duration strings
	StartupTimeout string `yaml:"startup_timeout"`
	InferTimeout   string `yaml:"infer_timeout"`
	OneShotTimeout string `yaml:"oneshot_timeout"`

	// Backlog cap for in-flight worker requests
	MaxPending int `yaml:"max_pending"`
}

// DiagnosisConfig configures result caching and calibration.
type DiagnosisConfig struct {
	// Cache TTL for repeated identical uploads
	CacheTTL string `yaml:"cache_ttl"`

	// Calibration thresholds
	GapThreshold     float64 `yaml:"gap_threshold"`
	ScoreFloor       float64 `yaml:"score_floor"`
	CertaintyCeiling float64 `yaml:"certainty_ceiling"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Dir   string `yaml:"dir"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "AgroSense",
		Version: "1.0.0",

		Vision: VisionConfig{
			PythonBinary:     "python3",
			DaemonScript:     "scripts/predict_crop_disease_daemon.py",
			OneShotScript:    "scripts/predict_crop_disease.py",
			ModelPath:        "models/crop_disease_model.h5",
			LabelsPath:       "models/crop_disease_labels.json",
			WorkingDirectory: ".",
			StartupTimeout:   "12s",
			InferTimeout:     "15s",
			OneShotTimeout:   "45s",
			MaxPending:       32,
		},

		Diagnosis: DiagnosisConfig{
			CacheTTL:         "10m",
			GapThreshold:     0.22,
			ScoreFloor:       0.12,
			CertaintyCeiling: 0.90,
		},

		Logging: LoggingConfig{
			Level: "info",
			Dir:   ".agrosense/logs",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if p := os.Getenv("DISEASE_MODEL_PATH"); p != "" {
		c.Vision.ModelPath = p
	}
	if p := os.Getenv("DISEASE_LABELS_PATH"); p != "" {
		c.Vision.LabelsPath = p
	}
	if p := os.Getenv("AGROSENSE_PYTHON"); p != "" {
		c.Vision.PythonBinary = p
	}
	if p := os.Getenv("AGROSENSE_WORKDIR"); p != "" {
		c.Vision.WorkingDirectory = p
	}
}

// GetStartupTimeout returns the worker startup timeout as a duration.
func (c *Config) GetStartupTimeout() time.Duration {
	d, err := time.ParseDuration(c.Vision.StartupTimeout)
	if err != nil {
		return 12 * time.Second
	}
	return d
}

// GetInferTimeout returns the per-request inference timeout as a duration.
func (c *Config) GetInferTimeout() time.Duration {
	d, err := time.ParseDuration(c.Vision.InferTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// GetOneShotTimeout returns the fallback invocation timeout as a duration.
func (c *Config) GetOneShotTimeout() time.Duration {
	d, err := time.ParseDuration(c.Vision.OneShotTimeout)
	if err != nil {
		return 45 * time.Second
	}
	return d
}

// GetCacheTTL returns the diagnosis cache TTL as a duration.
func (c *Config) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Diagnosis.CacheTTL)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}
