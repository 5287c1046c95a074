package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kntkb/espfit/internal/eval"
	"github.com/kntkb/espfit/internal/gate"
	"github.com/kntkb/espfit/internal/loss"
	"github.com/kntkb/espfit/internal/units"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string          `json:"description"`
	Config      FixtureConfig   `json:"config"`
	Systems     []FixtureSystem `json:"systems"`
	Expected    FixtureExpected `json:"expected"`
}

// FixtureSystem is one reference/candidate pair with recorded per-frame data.
type FixtureSystem struct {
	TargetName  string  `json:"target_name"`
	TargetClass string  `json:"target_class"`
	Temperature float64 `json:"temperature"`

	// CandidateTemperature defaults to Temperature when omitted.
	CandidateTemperature *float64 `json:"candidate_temperature,omitempty"`

	// Per-frame potential energies under the reference (U0) and candidate (U1) parameters.
	EnergyUnit string    `json:"energy_unit"`
	U0         []float64 `json:"u0"`
	U1         []float64 `json:"u1"`

	Experiment []FixtureExperimentUnit `json:"experiment"`

	// Per-frame observable values: unit id -> key -> one value per frame.
	Observables map[string]map[string][]float64 `json:"observables"`
}

// FixtureExperimentUnit mirrors loss.ExperimentUnit with JSON tags.
type FixtureExperimentUnit struct {
	ID           string               `json:"id"`
	Measurements []FixtureMeasurement `json:"measurements"`
}

// FixtureMeasurement mirrors loss.Measurement with JSON tags.
type FixtureMeasurement struct {
	Key      string   `json:"key"`
	Name     string   `json:"name"`
	Value    *float64 `json:"value"`
	Operator string   `json:"operator,omitempty"`
	Error    *float64 `json:"error"`
}

// FixtureConfig bundles the gate, eval, and loss configs for a replay run.
type FixtureConfig struct {
	MinESS       float64 `json:"min_ess"`
	DefaultError float64 `json:"default_error"`
	SumTolerance float64 `json:"sum_tolerance"`
}

// FixtureExpected captures the expected outcome of a replay.
type FixtureExpected struct {
	MinESS float64   `json:"min_ess"`
	ESS    []float64 `json:"ess,omitempty"`
	Losses []float64 `json:"losses,omitempty"`
	Action string    `json:"action"`
	Error  string    `json:"error,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToReplayConfig converts a FixtureConfig to a ReplayConfig. Zero fields
// keep their defaults.
func (fc *FixtureConfig) ToReplayConfig() ReplayConfig {
	cfg := DefaultReplayConfig()
	if fc.MinESS > 0 {
		cfg.GateConfig.MinESS = fc.MinESS
		cfg.EvalConfig.MinESS = fc.MinESS
	}
	if fc.DefaultError > 0 {
		cfg.LossConfig.DefaultError = fc.DefaultError
	}
	if fc.SumTolerance > 0 {
		cfg.EvalConfig.SumTolerance = fc.SumTolerance
	}
	return cfg
}

// ToExperiment converts the recorded measurements to a loss.ExperimentRecord.
func (fs *FixtureSystem) ToExperiment() (loss.ExperimentRecord, error) {
	var rec loss.ExperimentRecord
	for _, u := range fs.Experiment {
		unit := loss.ExperimentUnit{ID: u.ID}
		for _, m := range u.Measurements {
			op := loss.Operator(m.Operator)
			if !op.Valid() {
				return loss.ExperimentRecord{}, fmt.Errorf("%s/%s: unknown operator %q", u.ID, m.Key, m.Operator)
			}
			unit.Measurements = append(unit.Measurements, loss.Measurement{
				Key:      m.Key,
				Name:     m.Name,
				Value:    m.Value,
				Operator: op,
				Error:    m.Error,
			})
		}
		rec.Units = append(rec.Units, unit)
	}
	return rec, nil
}

// energyUnit parses the fixture energy unit; empty means kJ/mol.
func (fs *FixtureSystem) energyUnit() (units.EnergyUnit, error) {
	if fs.EnergyUnit == "" {
		return units.KilojoulePerMole, nil
	}
	return units.ParseEnergyUnit(fs.EnergyUnit)
}

// #endregion fixture-loader

// #region config

// ReplayConfig bundles gate, eval, and loss configs for a replay run.
type ReplayConfig struct {
	GateConfig gate.GateConfig
	EvalConfig eval.EvalConfig
	LossConfig loss.Config
}

// DefaultReplayConfig returns the defaults of all three stages.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		GateConfig: gate.DefaultGateConfig(),
		EvalConfig: eval.DefaultEvalConfig(),
		LossConfig: loss.DefaultConfig(),
	}
}

// #endregion config
