package loss

import (
	"context"
	"errors"

	"github.com/kntkb/espfit/internal/system"
)

// #region errors
var (
	// ErrNoUsableMeasurements means every measurement of a system was skipped,
	// leaving the mean undefined.
	ErrNoUsableMeasurements = errors.New("no usable measurements")

	// ErrUnitMismatch means experiment and prediction disagree on the set of
	// structural units or measurement keys.
	ErrUnitMismatch = errors.New("structural units do not match")

	// ErrZeroUncertainty means a measurement's experimental error and the
	// predicted std are both zero, so its term has no finite value.
	ErrZeroUncertainty = errors.New("zero combined uncertainty")
)

// #endregion errors

// #region operator
// Operator qualifies an experimental value.
type Operator string

const (
	OpNone         Operator = ""
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpApprox       Operator = "~"
)

// Bounded reports whether the value is only a bound or an approximation and
// so carries no usable point estimate.
func (o Operator) Bounded() bool {
	switch o {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpApprox:
		return true
	}
	return false
}

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	return o == OpNone || o.Bounded()
}

// #endregion operator

// #region experiment
// Measurement is one experimental observable of a structural unit.
// Value and Error are nil when the record leaves them empty.
type Measurement struct {
	Key      string
	Name     string
	Value    *float64
	Operator Operator
	Error    *float64
}

// ExperimentUnit groups the measurements of one structural unit (e.g. resi_1).
type ExperimentUnit struct {
	ID           string
	Measurements []Measurement
}

// ExperimentRecord is the ordered set of measured units for one target.
type ExperimentRecord struct {
	Units []ExperimentUnit
}

// #endregion experiment

// #region prediction
// Observable is a predicted ensemble average and its spread.
type Observable struct {
	Avg float64 `yaml:"avg"`
	Std float64 `yaml:"std"`
}

// PredictedUnit holds predictions for one structural unit, keyed by measurement key.
type PredictedUnit struct {
	ID          string
	Observables map[string]Observable
}

// Prediction is the ordered set of predicted units for one target.
type Prediction struct {
	Units []PredictedUnit
}

// Unit returns the predicted unit with the given ID.
func (p Prediction) Unit(id string) (PredictedUnit, bool) {
	for _, u := range p.Units {
		if u.ID == id {
			return u, true
		}
	}
	return PredictedUnit{}, false
}

// #endregion prediction

// #region collaborators
// ExperimentReader returns the reference measurements for a target.
type ExperimentReader interface {
	Read(ctx context.Context, targetClass, targetName string) (ExperimentRecord, error)
}

// ObservableTrajectory computes observables over a loaded trajectory.
// A nil weights slice means uniform weighting.
type ObservableTrajectory interface {
	ComputeObservable(ctx context.Context, weights []float64) (Prediction, error)
}

// ObservablePredictor loads a system's trajectory for observable prediction.
type ObservablePredictor interface {
	LoadTrajectory(ctx context.Context, sys system.System) (ObservableTrajectory, error)
}

// PredictionWriter exports predicted observables next to a system's output.
type PredictionWriter interface {
	Write(ctx context.Context, sys system.System, pred Prediction) error
}

// WeightLookup resolves cached per-frame weights by target name.
type WeightLookup interface {
	Lookup(targetName string) ([]float64, bool)
}

// #endregion collaborators

// #region config
// Config holds loss settings.
type Config struct {
	// DefaultError substitutes for a missing experimental error. It is a
	// placeholder for J-coupling uncertainty, not a physical constant.
	DefaultError float64
}

// DefaultConfig returns the default loss settings.
func DefaultConfig() Config {
	return Config{DefaultError: 0.5}
}

// #endregion config
