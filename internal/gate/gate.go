package gate

import (
	"fmt"
	"math"
)

// #region gate
// Gate decides whether a training step may reuse reweighted samples or must
// resample with fresh simulations.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Evaluate inspects the minimum ESS of a pass. A negative value is the
// no-systems sentinel.
func (g *Gate) Evaluate(minESS float64) GateDecision {
	d := GateDecision{MinESS: minESS, Threshold: g.config.MinESS}

	switch {
	case minESS < 0:
		d.Action = ActionResimulate
		d.Reason = "no systems"
	case math.IsNaN(minESS):
		d.Action = ActionResimulate
		d.Reason = "effective sample size is NaN"
	case minESS < g.config.MinESS:
		d.Action = ActionResimulate
		d.Reason = fmt.Sprintf("min ess %.4f below threshold %.4f", minESS, g.config.MinESS)
	default:
		d.Action = ActionReweight
		d.Reason = fmt.Sprintf("min ess %.4f meets threshold %.4f", minESS, g.config.MinESS)
	}
	return d
}

// #endregion gate
