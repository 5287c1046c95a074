package reweight

import "errors"

// #region errors
var (
	// ErrTemperatureMismatch means the reference and candidate systems were
	// configured at different temperatures. Reweighting only supports a change
	// of parameters at fixed temperature.
	ErrTemperatureMismatch = errors.New("reference and candidate temperatures differ")

	// ErrNoFrames is returned when the reference trajectory is empty.
	ErrNoFrames = errors.New("trajectory has no frames")

	// ErrNonFiniteEnergy means a frame's energy difference is NaN or infinite,
	// usually because a simulation blew up.
	ErrNonFiniteEnergy = errors.New("non-finite energy difference")
)

// #endregion errors

// #region weight-record
// WeightRecord holds the normalized per-frame weights for one system and the
// effective sample size they imply.
type WeightRecord struct {
	ESS     float64
	Weights []float64
}

// NumFrames returns the number of frames the record covers.
func (r WeightRecord) NumFrames() int {
	return len(r.Weights)
}

// #endregion weight-record

// #region estimator-config
// EstimatorConfig controls estimator behavior.
type EstimatorConfig struct {
	// Debug logs per-frame energies.
	Debug bool
}

// DefaultEstimatorConfig returns the default estimator settings.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{}
}

// #endregion estimator-config
