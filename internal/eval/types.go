package eval

// #region eval-config
// EvalConfig holds tolerances for weight-record validation.
type EvalConfig struct {
	SumTolerance float64 // max |sum(w) - 1|
	MinESS       float64 // informational: warn if ESS falls below this
}

// DefaultEvalConfig returns the default tolerances.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		SumTolerance: 1e-9,
		MinESS:       0.5,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of weight-record validation.
type EvalResult struct {
	Passed  bool
	Metrics []EvalMetric
	Reason  string
}

// #endregion eval-result
