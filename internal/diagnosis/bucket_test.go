package diagnosis

import "testing"

func TestBucket(t *testing.T) {
	tests := []struct {
		confidence float64
		want       SeverityBucket
	}{
		{0.99, BucketHigh},
		{0.85, BucketHigh},
		{0.849, BucketModerate},
		{0.60, BucketModerate},
		{0.599, BucketLow},
		{0.40, BucketLow},
		{0.399, BucketVeryLow},
		{0.0, BucketVeryLow},
	}
	for _, tt := range tests {
		if got := Bucket(tt.confidence); got != tt.want {
			t.Errorf("Bucket(%v) = %q, want %q", tt.confidence, got, tt.want)
		}
	}
}

func TestAdviceFor(t *testing.T) {
	if rec := AdviceFor("rice_brown_spot"); rec.Title != "Rice Brown Spot" {
		t.Errorf("Title = %q", rec.Title)
	}
	if rec := AdviceFor("tomato_early_blight"); rec.Title != "Unrecognized Condition" {
		t.Errorf("unknown key Title = %q", rec.Title)
	}
	if rec := AdviceFor("default"); len(rec.Actions) == 0 {
		t.Error("default advice has no actions")
	}
}

func TestCaption(t *testing.T) {
	if BucketHigh.Caption() == "" || BucketVeryLow.Caption() == "" {
		t.Error("captions must be non-empty")
	}
}
