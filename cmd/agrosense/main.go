package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Goutham-K-278/AgroSense/internal/config"
	"github.com/Goutham-K-278/AgroSense/internal/diagnosis"
	"github.com/Goutham-K-278/AgroSense/internal/logging"
	"github.com/Goutham-K-278/AgroSense/internal/metric"
	"github.com/Goutham-K-278/AgroSense/internal/procrun"
	"github.com/Goutham-K-278/AgroSense/internal/vision"
)

var (
	// Global flags
	verbose    bool
	configPath string
	cropHint   string
	fieldNote  string
	jsonOutput bool

	// Logger
	logger *zap.Logger

	headerColor = color.New(color.FgCyan, color.Bold)
	goodColor   = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	badColor    = color.New(color.FgRed)
	labelColor  = color.New(color.Bold)
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "agrosense",
	Short: "AgroSense - crop disease diagnosis from leaf photos",
	Long: `AgroSense diagnoses crop diseases from leaf photos using a local
image classification model.

A persistent inference worker keeps the model warm across requests; when the
worker is unavailable, each request falls back to a slower one-shot
invocation. Raw model labels are normalized to canonical disease keys and
calibrated against the grower's crop hint and field notes.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return logging.Initialize(".")
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// diagnoseCmd classifies one or more leaf photos
var diagnoseCmd = &cobra.Command{
	Use:   "diagnose [image]...",
	Short: "Diagnose crop disease from one or more leaf photos",
	Long: `Runs each image through the inference pipeline and prints the
diagnosed disease, confidence tier, and field recommendations.

Example:
  agrosense diagnose leaf.jpg --crop rice --note "brown spots on lower leaves"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDiagnose,
}

// labelsCmd prints the model vocabulary
var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "List the model's disease labels and their canonical keys",
	RunE:  runLabels,
}

// doctorCmd checks the local setup
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that model artifacts and scripts are in place",
	RunE:  runDoctor,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "agrosense.yaml", "Path to config file")

	diagnoseCmd.Flags().StringVar(&cropHint, "crop", "", "Crop the photo is of (rice, wheat, maize, cotton, sugarcane)")
	diagnoseCmd.Flags().StringVar(&fieldNote, "note", "", "Free-text field observation to steer calibration")
	diagnoseCmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the diagnosis as JSON")

	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(labelsCmd)
	rootCmd.AddCommand(doctorCmd)
}

func buildService(cfg *config.Config) (*diagnosis.Service, *vision.Supervisor, error) {
	vocab, err := vision.LoadVocabulary(cfg.Vision.LabelsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load labels: %w", err)
	}

	metrics := metric.NewVisionMetrics()
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, nil, fmt.Errorf("register metrics: %w", err)
	}

	runner := procrun.NewRunner(procrun.RunnerConfig{
		DefaultTimeout:    cfg.GetOneShotTimeout(),
		DefaultWorkingDir: cfg.Vision.WorkingDirectory,
	})
	fallback := vision.NewFallbackInvoker(vision.FallbackConfig{
		PythonBinary: cfg.Vision.PythonBinary,
		Script:       cfg.Vision.OneShotScript,
		ModelPath:    cfg.Vision.ModelPath,
		LabelsPath:   cfg.Vision.LabelsPath,
		WorkDir:      cfg.Vision.WorkingDirectory,
		Timeout:      cfg.GetOneShotTimeout(),
	}, runner)

	supervisor := vision.NewSupervisor(vision.SupervisorConfig{
		PythonBinary:   cfg.Vision.PythonBinary,
		DaemonScript:   cfg.Vision.DaemonScript,
		ModelPath:      cfg.Vision.ModelPath,
		LabelsPath:     cfg.Vision.LabelsPath,
		WorkDir:        cfg.Vision.WorkingDirectory,
		StartupTimeout: cfg.GetStartupTimeout(),
		InferTimeout:   cfg.GetInferTimeout(),
		MaxPending:     cfg.Vision.MaxPending,
	}, vocab, fallback, metrics)

	calibrator := vision.NewCalibrator(vision.CalibratorConfig{
		GapThreshold:     cfg.Diagnosis.GapThreshold,
		ScoreFloor:       cfg.Diagnosis.ScoreFloor,
		CertaintyCeiling: cfg.Diagnosis.CertaintyCeiling,
	})

	svc := diagnosis.NewService(supervisor, vocab, calibrator, metrics, cfg.GetCacheTTL())
	return svc, supervisor, nil
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	svc, supervisor, err := buildService(cfg)
	if err != nil {
		return err
	}
	defer supervisor.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, path := range args {
		image, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read image %s: %w", path, err)
		}

		start := time.Now()
		rec, err := svc.Diagnose(ctx, diagnosis.Request{
			Image:    image,
			CropHint: cropHint,
			Note:     fieldNote,
		})
		if err != nil {
			badColor.Fprintf(os.Stderr, "✗ %s: %v\n", filepath.Base(path), err)
			logger.Error("diagnosis failed", zap.String("image", path), zap.Error(err))
			continue
		}
		logger.Info("diagnosis complete",
			zap.String("image", path),
			zap.String("disease", rec.DiseaseKey),
			zap.Float64("confidence", rec.Confidence),
			zap.Duration("elapsed", time.Since(start)),
		)

		if jsonOutput {
			out, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			continue
		}
		printRecord(path, rec)
	}
	return nil
}

func printRecord(path string, rec *diagnosis.Record) {
	headerColor.Printf("\n%s\n", filepath.Base(path))

	labelColor.Print("  Diagnosis:  ")
	fmt.Printf("%s (%s)\n", rec.Recommendation.Title, rec.DiseaseKey)

	labelColor.Print("  Confidence: ")
	c := confidenceColor(rec.Bucket)
	c.Printf("%.1f%% - %s\n", rec.Confidence*100, rec.Caption)

	if rec.AdjustedByCropHint || rec.AdjustedByNote {
		warnColor.Println("  Adjusted using your crop hint / field note")
	}

	if rec.Recommendation.Summary != "" {
		fmt.Printf("  %s\n", rec.Recommendation.Summary)
	}
	if len(rec.Recommendation.Actions) > 0 {
		labelColor.Println("  Recommended actions:")
		for _, a := range rec.Recommendation.Actions {
			fmt.Printf("    - %s\n", a)
		}
	}
	if len(rec.Alternatives) > 0 {
		labelColor.Println("  Also possible:")
		for _, alt := range rec.Alternatives {
			fmt.Printf("    - %s (%.1f%%)\n", alt.CanonicalKey, alt.Score*100)
		}
	}
}

func confidenceColor(b diagnosis.SeverityBucket) *color.Color {
	switch b {
	case diagnosis.BucketHigh:
		return goodColor
	case diagnosis.BucketModerate:
		return warnColor
	default:
		return badColor
	}
}

func runLabels(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	vocab, err := vision.LoadVocabulary(cfg.Vision.LabelsPath)
	if err != nil {
		return fmt.Errorf("load labels: %w", err)
	}

	headerColor.Printf("%d labels in %s\n\n", vocab.Len(), cfg.Vision.LabelsPath)
	for i := 0; i < vocab.Len(); i++ {
		fmt.Printf("  %-40s -> %s\n", vocab.Label(i), vocab.Key(i))
	}
	return nil
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	headerColor.Println("AgroSense setup check")
	ok := true
	ok = checkFile("model", cfg.Vision.ModelPath) && ok
	ok = checkFile("labels", cfg.Vision.LabelsPath) && ok
	ok = checkFile("daemon script", cfg.Vision.DaemonScript) && ok
	ok = checkFile("one-shot script", cfg.Vision.OneShotScript) && ok

	if _, err := vision.LoadVocabulary(cfg.Vision.LabelsPath); err != nil {
		badColor.Printf("  ✗ labels file unreadable: %v\n", err)
		ok = false
	}

	if !ok {
		return fmt.Errorf("setup incomplete")
	}
	goodColor.Println("\nAll checks passed")
	return nil
}

func checkFile(name, path string) bool {
	if info, err := os.Stat(path); err != nil {
		badColor.Printf("  ✗ %s missing: %s\n", name, path)
		return false
	} else if info.IsDir() {
		badColor.Printf("  ✗ %s is a directory: %s\n", name, path)
		return false
	}
	goodColor.Printf("  ✓ %s: %s\n", name, path)
	return true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
