package query

import (
	"math"
	"strings"
)

// Confidence weights: source count, mean source score, answer length,
// context length.
var confidenceWeights = [4]float64{0.25, 0.35, 0.20, 0.20}

// failureWords in the answer halve the confidence.
var failureWords = []string{
	"error", "failed", "unable", "cannot", "don't have", "not found", "insufficient",
}

// computeConfidence scores an answer in [0,1] from retrieval and
// generation signals, rounded to three decimals.
func computeConfidence(sourceCount int, meanScore float64, answer, context string) float64 {
	c := confidenceWeights[0]*math.Min(float64(sourceCount)/5, 1) +
		confidenceWeights[1]*meanScore +
		confidenceWeights[2]*math.Min(float64(len(answer))/500, 1) +
		confidenceWeights[3]*math.Min(float64(len(context))/2000, 1)

	lower := strings.ToLower(answer)
	for _, w := range failureWords {
		if strings.Contains(lower, w) {
			c *= 0.5
			break
		}
	}

	c = math.Max(0, math.Min(1, c))
	return math.Round(c*1000) / 1000
}
