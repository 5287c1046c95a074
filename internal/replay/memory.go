package replay

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/kntkb/espfit/internal/loss"
	"github.com/kntkb/espfit/internal/system"
	"github.com/kntkb/espfit/internal/units"
)

// #region engine
// recordedEngine replays per-frame energies. Positions carry the frame index
// in their first coordinate.
type recordedEngine struct {
	energies []float64
	unit     units.EnergyUnit
	frame    int
}

func (e *recordedEngine) Minimize(context.Context) error { return nil }

func (e *recordedEngine) Run(context.Context, int) error { return nil }

func (e *recordedEngine) SetPositions(_ context.Context, positions [][3]float64) error {
	if len(positions) == 0 {
		return fmt.Errorf("set positions: empty frame")
	}
	e.frame = int(positions[0][0])
	return nil
}

func (e *recordedEngine) PotentialEnergy(context.Context) (units.Energy, error) {
	if e.frame < 0 || e.frame >= len(e.energies) {
		return units.Energy{}, fmt.Errorf("potential energy: frame %d out of range", e.frame)
	}
	return units.Energy{Value: e.energies[e.frame], Unit: e.unit}, nil
}

// #endregion engine

// #region trajectory
type recordedTrajectory struct {
	frames int
}

func (t recordedTrajectory) NumFrames() int { return t.frames }

func (t recordedTrajectory) Positions(_ context.Context, frame int) ([][3]float64, error) {
	return [][3]float64{{float64(frame), 0, 0}}, nil
}

// recordedData serves trajectories, experiments, and observables by target name.
type recordedData struct {
	frames      map[string]int
	experiments map[string]loss.ExperimentRecord
	observables map[string]map[string]map[string][]float64
}

func (d *recordedData) Load(_ context.Context, sys system.System) (system.Trajectory, error) {
	n, ok := d.frames[sys.TargetName]
	if !ok {
		return nil, fmt.Errorf("load %s: no recorded trajectory", sys.TargetName)
	}
	return recordedTrajectory{frames: n}, nil
}

func (d *recordedData) Read(_ context.Context, _, name string) (loss.ExperimentRecord, error) {
	rec, ok := d.experiments[name]
	if !ok {
		return loss.ExperimentRecord{}, fmt.Errorf("read experiment %s: not recorded", name)
	}
	return rec, nil
}

func (d *recordedData) LoadTrajectory(_ context.Context, sys system.System) (loss.ObservableTrajectory, error) {
	obs, ok := d.observables[sys.TargetName]
	if !ok {
		return nil, fmt.Errorf("load %s: no recorded observables", sys.TargetName)
	}
	return observableFrames{target: sys.TargetName, units: obs, order: d.unitOrder(sys.TargetName)}, nil
}

// unitOrder follows the experiment record so predictions line up with it.
func (d *recordedData) unitOrder(target string) []string {
	var order []string
	seen := map[string]bool{}
	for _, u := range d.experiments[target].Units {
		order = append(order, u.ID)
		seen[u.ID] = true
	}
	var extra []string
	for id := range d.observables[target] {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}

// #endregion trajectory

// #region observables
type observableFrames struct {
	target string
	units  map[string]map[string][]float64
	order  []string
}

// ComputeObservable averages each per-frame series under the weights.
// nil weights mean a uniform average.
func (o observableFrames) ComputeObservable(_ context.Context, weights []float64) (loss.Prediction, error) {
	var pred loss.Prediction
	for _, id := range o.order {
		series, ok := o.units[id]
		if !ok {
			continue
		}
		unit := loss.PredictedUnit{ID: id, Observables: map[string]loss.Observable{}}
		for key, values := range series {
			avg, std, err := weightedMoments(values, weights)
			if err != nil {
				return loss.Prediction{}, fmt.Errorf("%s %s/%s: %w", o.target, id, key, err)
			}
			unit.Observables[key] = loss.Observable{Avg: avg, Std: std}
		}
		pred.Units = append(pred.Units, unit)
	}
	return pred, nil
}

func weightedMoments(values, weights []float64) (avg, std float64, err error) {
	n := len(values)
	if n == 0 {
		return 0, 0, fmt.Errorf("no frames")
	}
	if weights != nil && len(weights) != n {
		return 0, 0, fmt.Errorf("%d weights for %d frames", len(weights), n)
	}
	w := func(i int) float64 {
		if weights == nil {
			return 1 / float64(n)
		}
		return weights[i]
	}
	for i, v := range values {
		avg += w(i) * v
	}
	var variance float64
	for i, v := range values {
		d := v - avg
		variance += w(i) * d * d
	}
	return avg, math.Sqrt(variance), nil
}

// #endregion observables
