package scoring

// PercentileForScore maps a category score to an approximate percentile
// standing via a fixed step table. This is explicitly not a population
// rank: replacing it with a real distribution query over persisted profiles
// is a deliberate non-goal for the core pipeline.
func PercentileForScore(score int) int {
	switch {
	case score >= 90:
		return 10
	case score >= 80:
		return 20
	case score >= 70:
		return 30
	case score >= 60:
		return 40
	case score >= 50:
		return 50
	default:
		return 100 - score
	}
}
