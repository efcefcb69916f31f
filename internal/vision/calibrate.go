package vision

import "strings"

// CalibratorConfig holds the hand-tuned thresholds that decide when symptom
// text may override the classifier's top result. The defaults reproduce the
// tuned production values; they are configuration, not invariants.
type CalibratorConfig struct {
	// GapThreshold is the maximum score gap to the top candidate within
	// which a keyword-matched candidate is accepted as a near-tie.
	GapThreshold float64 `yaml:"gap_threshold" json:"gap_threshold"`

	// ScoreFloor is the minimum score a keyword-matched candidate needs to
	// be considered at all outside the near-tie window.
	ScoreFloor float64 `yaml:"score_floor" json:"score_floor"`

	// CertaintyCeiling protects a near-certain top score: at or above it,
	// only the near-tie window can override.
	CertaintyCeiling float64 `yaml:"certainty_ceiling" json:"certainty_ceiling"`
}

// DefaultCalibratorConfig returns the tuned production thresholds.
func DefaultCalibratorConfig() CalibratorConfig {
	return CalibratorConfig{
		GapThreshold:     0.22,
		ScoreFloor:       0.12,
		CertaintyCeiling: 0.90,
	}
}

// maxAlternatives is how many ranked candidates a result reports for
// transparency, regardless of calibration.
const maxAlternatives = 3

// noteHint associates a canonical disease key with the symptom keywords
// that suggest it. The table is ordered; the first hint whose keywords all
// appear in the note decides.
type noteHint struct {
	key      string
	keywords []string
}

var noteHints = []noteHint{
	{"rice_brown_spot", []string{"brown", "spot"}},
	{"rice_leaf_blast", []string{"blast"}},
	{"rice_bacterial_leaf_blight", []string{"blight"}},
	{"rice_tungro", []string{"tungro"}},
	{"wheat_yellow_rust", []string{"yellow", "rust"}},
	{"wheat_leaf_rust", []string{"rust"}},
	{"wheat_septoria", []string{"septoria"}},
	{"wheat_loose_smut", []string{"smut"}},
	{"maize_gray_leaf_spot", []string{"gray", "leaf", "spot"}},
	{"maize_common_rust", []string{"maize", "rust"}},
	{"maize_leaf_blight", []string{"maize", "blight"}},
	{"cotton_leaf_curl", []string{"curl"}},
	{"cotton_bacterial_blight", []string{"cotton", "blight"}},
	{"sugarcane_red_rot", []string{"red", "rot"}},
	{"sugarcane_rust", []string{"sugarcane", "rust"}},
}

// Calibrator decides the final reported disease key and confidence from the
// full ranked score vector plus optional crop hint and free-text note. It
// corrects plausible near-ties without overriding a confident, unambiguous
// top result, and it is fully deterministic.
type Calibrator struct {
	cfg CalibratorConfig
}

// NewCalibrator returns a calibrator with the given thresholds. Zero-valued
// thresholds fall back to the defaults.
func NewCalibrator(cfg CalibratorConfig) *Calibrator {
	def := DefaultCalibratorConfig()
	if cfg.GapThreshold == 0 {
		cfg.GapThreshold = def.GapThreshold
	}
	if cfg.ScoreFloor == 0 {
		cfg.ScoreFloor = def.ScoreFloor
	}
	if cfg.CertaintyCeiling == 0 {
		cfg.CertaintyCeiling = def.CertaintyCeiling
	}
	return &Calibrator{cfg: cfg}
}

// Calibrate applies the precedence rules: crop hint first, then symptom
// keywords, then the unmodified top candidate. Candidates must already be
// ranked by score descending (see Vocabulary.Rank). The returned key and
// confidence always refer to the same candidate.
func (c *Calibrator) Calibrate(candidates []RankedCandidate, cropHint, note string) CalibrationResult {
	result := CalibrationResult{
		Alternatives: topAlternatives(candidates),
	}
	if len(candidates) == 0 {
		result.DiseaseKey = "default"
		return result
	}
	best := candidates[0]

	// Crop hint always wins over keyword evidence.
	if prefix := NormalizeCropHint(cropHint); prefix != "" {
		for _, cand := range candidates {
			if strings.HasPrefix(cand.CanonicalKey, prefix+"_") {
				result.DiseaseKey = cand.CanonicalKey
				result.Confidence = cand.Score
				result.AdjustedByCropHint = cand.CanonicalKey != best.CanonicalKey
				return result
			}
		}
	}

	cleanedNote := cleanLabel(note)
	if cleanedNote == "" {
		result.DiseaseKey = best.CanonicalKey
		result.Confidence = best.Score
		return result
	}

	if cand, ok := c.matchNote(candidates, cleanedNote); ok {
		if CropFamily(cand.CanonicalKey) == CropFamily(best.CanonicalKey) && c.acceptOverride(best.Score, cand.Score) {
			result.DiseaseKey = cand.CanonicalKey
			result.Confidence = cand.Score
			result.AdjustedByNote = cand.CanonicalKey != best.CanonicalKey
			return result
		}
	}

	result.DiseaseKey = best.CanonicalKey
	result.Confidence = best.Score
	return result
}

// matchNote finds the first ordered hint whose keywords all appear in the
// note and whose key is actually scored in this inference.
func (c *Calibrator) matchNote(candidates []RankedCandidate, cleanedNote string) (RankedCandidate, bool) {
	for _, hint := range noteHints {
		if !containsAll(cleanedNote, hint.keywords) {
			continue
		}
		for _, cand := range candidates {
			if cand.CanonicalKey == hint.key {
				return cand, true
			}
		}
		// Keywords matched but the key is unscored: the hint decides the
		// scan, so stop rather than fall through to a weaker hint.
		return RankedCandidate{}, false
	}
	return RankedCandidate{}, false
}

// acceptOverride is the dual condition that resolves genuine ties without
// dethroning a near-certain top score.
func (c *Calibrator) acceptOverride(bestScore, candScore float64) bool {
	if bestScore-candScore <= c.cfg.GapThreshold {
		return true
	}
	return candScore >= c.cfg.ScoreFloor && bestScore < c.cfg.CertaintyCeiling
}

func topAlternatives(candidates []RankedCandidate) []RankedCandidate {
	n := len(candidates)
	if n > maxAlternatives {
		n = maxAlternatives
	}
	return append([]RankedCandidate(nil), candidates[:n]...)
}
