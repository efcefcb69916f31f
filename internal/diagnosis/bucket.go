package diagnosis

// SeverityBucket coarsens a calibrated confidence into an advice tier.
type SeverityBucket string

const (
	BucketHigh     SeverityBucket = "high"
	BucketModerate SeverityBucket = "moderate"
	BucketLow      SeverityBucket = "low"
	BucketVeryLow  SeverityBucket = "very_low"
)

// Bucket maps a confidence value to its tier. Boundaries are inclusive on
// the lower edge.
func Bucket(confidence float64) SeverityBucket {
	switch {
	case confidence >= 0.85:
		return BucketHigh
	case confidence >= 0.60:
		return BucketModerate
	case confidence >= 0.40:
		return BucketLow
	default:
		return BucketVeryLow
	}
}

// Caption renders a tier as user-facing wording.
func (b SeverityBucket) Caption() string {
	switch b {
	case BucketHigh:
		return "High confidence"
	case BucketModerate:
		return "Moderate confidence"
	case BucketLow:
		return "Low confidence"
	default:
		return "Very low confidence - consider retaking the photo"
	}
}
