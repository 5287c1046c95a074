package logging

import "time"

// #region provenance-entry
// ProvenanceEntry is a single row in the provenance_log table.
type ProvenanceEntry struct {
	PassID      string
	TriggerType string // "step" | "replay"
	RecordJSON  string
	Decision    string // gate action: "reweight" | "resimulate"
	Reason      string
	CreatedAt   time.Time
}

// #endregion provenance-entry

// #region step-record
// StepRecord captures the inputs and outputs of one training step.
// Serialized as JSON into provenance_log.record_json.
type StepRecord struct {
	PassID string `json:"pass_id"`

	// Per-target effective sample sizes of this pass
	ESS    map[string]float64 `json:"ess"`
	MinESS float64            `json:"min_ess"`

	// Loss per system, in session order
	Losses []TargetLoss `json:"losses,omitempty"`

	// Thresholds active at decision time
	Thresholds StepThresholds `json:"thresholds"`

	GateAction string `json:"gate_action"`
	GateReason string `json:"gate_reason"`
}

// TargetLoss is the loss of one system.
type TargetLoss struct {
	Target string  `json:"target"`
	Loss   float64 `json:"loss"`
}

// StepThresholds captures the gate/loss config active at decision time.
type StepThresholds struct {
	MinESS       float64 `json:"min_ess"`
	DefaultError float64 `json:"default_error"`
}

// #endregion step-record
