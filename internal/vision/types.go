// Package vision drives the external crop-disease classification worker and
// turns its raw, sometimes-ambiguous output into a single trustworthy
// diagnosis. It owns the worker process lifecycle, the line-oriented request
// protocol, the degraded one-shot fallback path, label canonicalization, and
// the confidence calibration that reconciles classifier scores with
// user-supplied crop and symptom evidence.
package vision

// WorkerState is the lifecycle state of the persistent inference worker.
// Exactly one live worker process may exist per Supervisor.
type WorkerState string

const (
	// StateUninitialized means no worker process exists. This is the state
	// before first use and after any crash or shutdown.
	StateUninitialized WorkerState = "uninitialized"

	// StateSpawning means a spawn attempt is in flight. Concurrent callers
	// await the same attempt; spawning is never duplicated.
	StateSpawning WorkerState = "spawning"

	// StateReady means the worker has printed its ready signal and accepts
	// requests.
	StateReady WorkerState = "ready"

	// StateDegraded means the worker cannot be started (missing model
	// artifact, missing interpreter); inference runs on the one-shot
	// fallback path until a later spawn attempt succeeds.
	StateDegraded WorkerState = "degraded"
)

// Source identifies which execution path produced an inference result.
type Source string

const (
	SourceWorker   Source = "worker"
	SourceFallback Source = "fallback"
)

// InferenceResult is the raw classifier output for one image. Scores holds
// one probability per vocabulary entry, in vocabulary order; a length
// mismatch against the vocabulary is a hard error, never coerced.
type InferenceResult struct {
	RawLabel   string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Scores     []float64 `json:"scores"`
}

// RankedCandidate pairs a vocabulary entry with its score for one inference,
// carrying both the raw label and its canonical disease key.
type RankedCandidate struct {
	RawLabel     string  `json:"raw_label"`
	CanonicalKey string  `json:"canonical_key"`
	Score        float64 `json:"score"`
}

// CalibrationResult is the calibrator's final decision. DiseaseKey and
// Confidence always refer to the same candidate; Alternatives are the top
// candidates by raw score, untouched by calibration, for transparency.
type CalibrationResult struct {
	DiseaseKey         string            `json:"disease_key"`
	Confidence         float64           `json:"confidence"`
	Alternatives       []RankedCandidate `json:"alternatives"`
	AdjustedByCropHint bool              `json:"adjusted_by_crop_hint"`
	AdjustedByNote     bool              `json:"adjusted_by_note"`
}
