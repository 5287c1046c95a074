package gate

// #region action
// Action is the gate's verdict for the next training step.
type Action string

const (
	ActionReweight   Action = "reweight"
	ActionResimulate Action = "resimulate"
)

// #endregion action

// #region gate-config
// GateConfig holds thresholds for gate decisions.
type GateConfig struct {
	MinESS float64 // reweighting is trusted while every system's ESS stays at or above this
}

// DefaultGateConfig returns the default ESS threshold.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinESS: 0.5,
	}
}

// #endregion gate-config

// #region gate-decision
// GateDecision is the output of the gate evaluation.
type GateDecision struct {
	Action    Action
	Reason    string
	MinESS    float64
	Threshold float64
}

// Reweight reports whether cached weights may be reused.
func (d GateDecision) Reweight() bool {
	return d.Action == ActionReweight
}

// #endregion gate-decision
