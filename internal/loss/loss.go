package loss

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/kntkb/espfit/internal/system"
)

// #region aggregator
// Aggregator joins experimental records with weighted predictions and reduces
// them to one loss per system.
type Aggregator struct {
	reader    ExperimentReader
	predictor ObservablePredictor
	writer    PredictionWriter
	config    Config
}

// NewAggregator wires an aggregator. writer may be nil to skip exporting predictions.
func NewAggregator(reader ExperimentReader, predictor ObservablePredictor, writer PredictionWriter, config Config) *Aggregator {
	return &Aggregator{
		reader:    reader,
		predictor: predictor,
		writer:    writer,
		config:    config,
	}
}

// #endregion aggregator

// #region loss-for-all
// LossForAll returns one loss per system in input order. Cached weights are
// used for systems that have them; the rest are predicted unweighted.
// The first failing system stops the computation.
func (a *Aggregator) LossForAll(ctx context.Context, systems []system.System, weights WeightLookup) ([]float64, error) {
	losses := make([]float64, 0, len(systems))
	for _, sys := range systems {
		log.Printf("[LOSS] compute loss for %s", sys.TargetName)
		var w []float64
		if weights != nil {
			w, _ = weights.Lookup(sys.TargetName)
		}
		l, err := a.LossForSystem(ctx, sys, w)
		if err != nil {
			return nil, err
		}
		losses = append(losses, l)
	}
	return losses, nil
}

// #endregion loss-for-all

// #region loss-for-system
// LossForSystem fetches the experiment and the prediction for sys, exports the
// prediction, and returns the mean error-normalized squared deviation.
// A system without usable measurements yields NaN and ErrNoUsableMeasurements.
func (a *Aggregator) LossForSystem(ctx context.Context, sys system.System, weights []float64) (float64, error) {
	exp, err := a.reader.Read(ctx, sys.TargetClass, sys.TargetName)
	if err != nil {
		return 0, err
	}

	traj, err := a.predictor.LoadTrajectory(ctx, sys)
	if err != nil {
		return 0, err
	}
	pred, err := traj.ComputeObservable(ctx, weights)
	if err != nil {
		return 0, err
	}

	if a.writer != nil {
		if err := a.writer.Write(ctx, sys, pred); err != nil {
			return 0, err
		}
	}

	terms, err := Terms(exp, pred, a.config)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", sys.TargetName, err)
	}
	l := Mean(terms)
	if len(terms) == 0 {
		return l, fmt.Errorf("%s: %w", sys.TargetName, ErrNoUsableMeasurements)
	}
	log.Printf("[LOSS] %s: loss=%.3f over %d measurements", sys.TargetName, l, len(terms))
	return l, nil
}

// #endregion loss-for-system

// #region terms
// Terms returns (pred - exp)^2 / (err^2 + std^2) for every usable measurement,
// in experiment order. Units are matched by ID; the two sides must describe
// the same units.
func Terms(exp ExperimentRecord, pred Prediction, config Config) ([]float64, error) {
	if len(exp.Units) != len(pred.Units) {
		return nil, fmt.Errorf("%w: %d experimental units, %d predicted", ErrUnitMismatch, len(exp.Units), len(pred.Units))
	}

	var terms []float64
	for _, unit := range exp.Units {
		pu, ok := pred.Unit(unit.ID)
		if !ok {
			return nil, fmt.Errorf("%w: unit %s not predicted", ErrUnitMismatch, unit.ID)
		}
		for _, m := range unit.Measurements {
			if m.Value == nil || m.Operator.Bounded() {
				continue
			}
			obs, ok := pu.Observables[m.Key]
			if !ok {
				return nil, fmt.Errorf("%w: %s/%s not predicted", ErrUnitMismatch, unit.ID, m.Key)
			}
			expErr := config.DefaultError
			if m.Error != nil {
				expErr = *m.Error
			}
			denom := expErr*expErr + obs.Std*obs.Std
			if !(denom > 0) {
				return nil, fmt.Errorf("%w: %s/%s (error=%v, std=%v)", ErrZeroUncertainty, unit.ID, m.Key, expErr, obs.Std)
			}
			diff := obs.Avg - *m.Value
			terms = append(terms, diff*diff/denom)
		}
	}
	return terms, nil
}

// Mean returns the arithmetic mean, NaN for an empty slice.
func Mean(terms []float64) float64 {
	if len(terms) == 0 {
		return math.NaN()
	}
	var s float64
	for _, t := range terms {
		s += t
	}
	return s / float64(len(terms))
}

// #endregion terms
