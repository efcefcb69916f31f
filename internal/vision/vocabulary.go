package vision

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Vocabulary is the ordered, immutable list of raw class labels the model
// was trained on. Index i is the class index used throughout the pipeline.
// It is loaded once at startup and never mutated.
type Vocabulary struct {
	labels []string
	keys   []string
}

// NewVocabulary builds a vocabulary from raw label strings, precomputing
// the canonical disease key for each entry.
func NewVocabulary(labels []string) (*Vocabulary, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("vocabulary must not be empty")
	}
	v := &Vocabulary{
		labels: append([]string(nil), labels...),
		keys:   make([]string, len(labels)),
	}
	for i, raw := range labels {
		v.keys[i] = NormalizeLabel(raw)
	}
	return v, nil
}

// LoadVocabulary reads a JSON array of raw label strings from path.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read label vocabulary %s: %w", path, err)
	}
	var labels []string
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("failed to parse label vocabulary %s: %w", path, err)
	}
	return NewVocabulary(labels)
}

// Len returns the number of classes.
func (v *Vocabulary) Len() int {
	return len(v.labels)
}

// Label returns the raw label at class index i.
func (v *Vocabulary) Label(i int) string {
	return v.labels[i]
}

// Key returns the canonical disease key at class index i.
func (v *Vocabulary) Key(i int) string {
	return v.keys[i]
}

// Keys returns a copy of all canonical disease keys in class order.
func (v *Vocabulary) Keys() []string {
	return append([]string(nil), v.keys...)
}

// ValidateScores checks that a score vector matches the vocabulary length.
// A mismatch is rejected outright, never truncated or zero-padded.
func (v *Vocabulary) ValidateScores(scores []float64) error {
	if len(scores) != len(v.labels) {
		return fmt.Errorf("%w: got %d scores for %d labels", ErrOutputInvalid, len(scores), len(v.labels))
	}
	return nil
}

// Rank pairs every vocabulary entry with its score and sorts descending.
// Ties keep vocabulary order so ranking is deterministic.
func (v *Vocabulary) Rank(scores []float64) ([]RankedCandidate, error) {
	if err := v.ValidateScores(scores); err != nil {
		return nil, err
	}
	ranked := make([]RankedCandidate, len(scores))
	for i, score := range scores {
		ranked[i] = RankedCandidate{
			RawLabel:     v.labels[i],
			CanonicalKey: v.keys[i],
			Score:        score,
		}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Score > ranked[b].Score
	})
	return ranked, nil
}
