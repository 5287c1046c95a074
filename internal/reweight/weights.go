package reweight

import (
	"fmt"
	"math"

	"github.com/kntkb/espfit/internal/units"
)

// #region log-weights
// LogWeights returns -beta*dU for each frame.
func LogWeights(deltaU []float64, beta float64) []float64 {
	logw := make([]float64, len(deltaU))
	for i, d := range deltaU {
		logw[i] = -beta * d
	}
	return logw
}

// #endregion log-weights

// #region normalize
// Normalize turns unnormalized log-weights into weights summing to one.
// The maximum log-weight is subtracted before exponentiating so that large
// energy differences do not overflow.
func Normalize(logw []float64) []float64 {
	if len(logw) == 0 {
		return nil
	}
	maxLog := math.Inf(-1)
	for _, l := range logw {
		if l > maxLog {
			maxLog = l
		}
	}

	w := make([]float64, len(logw))
	var sum float64
	for i, l := range logw {
		w[i] = math.Exp(l - maxLog)
		sum += w[i]
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

// #endregion normalize

// #region ess
// EffectiveSampleSize returns (sum w)^2 / (sum w^2) / N, in (0, 1].
func EffectiveSampleSize(w []float64) float64 {
	if len(w) == 0 {
		return 0
	}
	var sum, sumSq float64
	for _, x := range w {
		sum += x
		sumSq += x * x
	}
	return sum * sum / sumSq / float64(len(w))
}

// Reduce is the normalized-weight form of the ESS, 1 / (N * sum w^2).
// It agrees with EffectiveSampleSize when the weights sum to one.
func Reduce(w []float64) float64 {
	if len(w) == 0 {
		return 0
	}
	var sumSq float64
	for _, x := range w {
		sumSq += x * x
	}
	return 1 / (float64(len(w)) * sumSq)
}

// #endregion ess

// #region from-delta
// FromDeltaU builds a WeightRecord from per-frame energy differences
// U1(x_i) - U0(x_i) in kcal/mol at temperature t. A NaN or infinite
// difference is rejected with ErrNonFiniteEnergy.
func FromDeltaU(deltaU []float64, t units.Temperature) (WeightRecord, error) {
	if len(deltaU) == 0 {
		return WeightRecord{}, ErrNoFrames
	}
	for i, d := range deltaU {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return WeightRecord{}, fmt.Errorf("frame %d: dU=%v: %w", i, d, ErrNonFiniteEnergy)
		}
	}
	w := Normalize(LogWeights(deltaU, t.Beta()))
	return WeightRecord{
		ESS:     EffectiveSampleSize(w),
		Weights: w,
	}, nil
}

// #endregion from-delta
