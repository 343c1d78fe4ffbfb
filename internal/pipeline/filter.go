package pipeline

import "github.com/vigia-labs/scamwatch/internal/model"

// FilterByThreshold keeps posts whose scam probability meets the threshold.
// Input order is preserved.
func FilterByThreshold(scored []model.ScoredPost, threshold float64) []model.ScoredPost {
	kept := make([]model.ScoredPost, 0, len(scored))
	for _, s := range scored {
		if s.ScamProbability >= threshold {
			kept = append(kept, s)
		}
	}
	return kept
}
