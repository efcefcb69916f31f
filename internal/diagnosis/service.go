// Package diagnosis assembles calibrated inference output into the
// user-facing diagnosis record: canonical disease key, confidence tier,
// alternatives, and field advice.
package diagnosis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"

	"github.com/Goutham-K-278/AgroSense/internal/logging"
	"github.com/Goutham-K-278/AgroSense/internal/metric"
	"github.com/Goutham-K-278/AgroSense/internal/vision"
)

// Inferrer abstracts the vision supervisor for the assembler.
type Inferrer interface {
	Infer(ctx context.Context, image []byte) (*vision.InferenceResult, vision.Source, error)
}

// Request carries one diagnosis submission.
type Request struct {
	Image    []byte
	CropHint string
	Note     string
}

// Record is the assembled diagnosis returned to callers.
type Record struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	DiseaseKey  string         `json:"disease_key"`
	DisplayName string         `json:"display_name"`
	Confidence  float64        `json:"confidence"`
	Bucket      SeverityBucket `json:"bucket"`
	Caption     string         `json:"caption"`

	Recommendation Recommendation           `json:"recommendation"`
	Alternatives   []vision.RankedCandidate `json:"alternatives,omitempty"`

	Source             vision.Source `json:"source"`
	AdjustedByCropHint bool          `json:"adjusted_by_crop_hint"`
	AdjustedByNote     bool          `json:"adjusted_by_note"`
}

// Service runs the full pipeline per request: infer, calibrate, bucket,
// attach advice. Identical submissions within the cache TTL are answered
// from cache without touching the worker.
type Service struct {
	inferrer   Inferrer
	vocab      *vision.Vocabulary
	calibrator *vision.Calibrator
	metrics    *metric.VisionMetrics
	results    *cache.Cache
}

func NewService(inferrer Inferrer, vocab *vision.Vocabulary, calibrator *vision.Calibrator, metrics *metric.VisionMetrics, cacheTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &Service{
		inferrer:   inferrer,
		vocab:      vocab,
		calibrator: calibrator,
		metrics:    metrics,
		results:    cache.New(cacheTTL, 2*cacheTTL),
	}
}

// Diagnose runs one submission through the pipeline.
func (s *Service) Diagnose(ctx context.Context, req Request) (*Record, error) {
	key := cacheKey(req)
	if v, ok := s.results.Get(key); ok {
		s.metrics.ObserveCacheHit()
		logging.DiagnosisDebug("Cache hit for submission %s", key[:12])
		return v.(*Record), nil
	}

	res, source, err := s.inferrer.Infer(ctx, req.Image)
	if err != nil {
		logging.DiagnosisError("Inference failed: %v", err)
		return nil, err
	}

	candidates, err := s.vocab.Rank(res.Scores)
	if err != nil {
		logging.DiagnosisError("Ranking failed: %v", err)
		return nil, err
	}

	cal := s.calibrator.Calibrate(candidates, req.CropHint, req.Note)
	if cal.AdjustedByCropHint {
		s.metrics.ObserveAdjustment("crop_hint")
	}
	if cal.AdjustedByNote {
		s.metrics.ObserveAdjustment("note")
	}

	bucket := Bucket(cal.Confidence)
	advice := AdviceFor(cal.DiseaseKey)
	rec := &Record{
		ID:                 uuid.NewString(),
		CreatedAt:          time.Now().UTC(),
		DiseaseKey:         cal.DiseaseKey,
		DisplayName:        advice.Title,
		Confidence:         cal.Confidence,
		Bucket:             bucket,
		Caption:            bucket.Caption(),
		Recommendation:     advice,
		Alternatives:       cal.Alternatives,
		Source:             source,
		AdjustedByCropHint: cal.AdjustedByCropHint,
		AdjustedByNote:     cal.AdjustedByNote,
	}

	s.results.SetDefault(key, rec)
	logging.Diagnosis("Diagnosed %s (%.2f, %s, source=%s)", rec.DiseaseKey, rec.Confidence, rec.Bucket, rec.Source)
	return rec, nil
}

// cacheKey hashes the image plus both hints: a different hint must produce
// a fresh calibration even for the same picture.
func cacheKey(req Request) string {
	h := sha256.New()
	h.Write(req.Image)
	h.Write([]byte{0})
	h.Write([]byte(req.CropHint))
	h.Write([]byte{0})
	h.Write([]byte(req.Note))
	return hex.EncodeToString(h.Sum(nil))
}
