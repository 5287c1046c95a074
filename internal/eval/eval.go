package eval

import (
	"fmt"
	"math"

	"github.com/kntkb/espfit/internal/reweight"
)

// #region eval-harness
// EvalHarness sanity-checks a freshly estimated WeightRecord.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run checks frame count, normalization, non-negativity and the ESS range.
// The low-ESS check is informational and never fails the record.
func (h *EvalHarness) Run(rec reweight.WeightRecord, frames int) EvalResult {
	var metrics []EvalMetric
	var failReasons []string

	check := func(name string, value float64, pass bool, reason string) {
		metrics = append(metrics, EvalMetric{Name: name, Value: value, Pass: pass})
		if !pass {
			failReasons = append(failReasons, reason)
		}
	}

	// 1. One weight per frame
	check("frame_count", float64(len(rec.Weights)), len(rec.Weights) == frames,
		fmt.Sprintf("%d weights for %d frames", len(rec.Weights), frames))

	// 2. Normalization
	var sum float64
	minW := math.Inf(1)
	for _, w := range rec.Weights {
		sum += w
		if w < minW {
			minW = w
		}
	}
	check("weight_sum", sum, math.Abs(sum-1) <= h.config.SumTolerance,
		fmt.Sprintf("weights sum to %.12f", sum))

	// 3. Non-negative weights
	if len(rec.Weights) == 0 {
		minW = 0
	}
	check("min_weight", minW, minW >= 0, fmt.Sprintf("negative weight %.6g", minW))

	// 4. ESS range
	check("ess", rec.ESS, rec.ESS > 0 && rec.ESS <= 1+h.config.SumTolerance,
		fmt.Sprintf("ess %.6f outside (0,1]", rec.ESS))

	// 5. Low ESS: informational only
	metrics = append(metrics, EvalMetric{
		Name:  "ess_threshold",
		Value: rec.ESS,
		Pass:  rec.ESS >= h.config.MinESS,
	})

	reason := "all checks passed"
	if len(failReasons) > 0 {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}

	return EvalResult{
		Passed:  len(failReasons) == 0,
		Metrics: metrics,
		Reason:  reason,
	}
}

// #endregion eval-harness
