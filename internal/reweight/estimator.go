package reweight

import (
	"context"
	"fmt"
	"log"

	"github.com/kntkb/espfit/internal/system"
)

// #region estimator
// Estimator computes importance weights for a reference trajectory under a
// candidate parameter set.
type Estimator struct {
	config EstimatorConfig
}

// NewEstimator creates an estimator with the given configuration.
func NewEstimator(config EstimatorConfig) *Estimator {
	return &Estimator{config: config}
}

// #endregion estimator

// #region estimate
// Estimate evaluates every frame of traj under the reference and candidate
// engines and returns the normalized weights and ESS. Errors from the engines
// and the trajectory are returned as-is.
func (e *Estimator) Estimate(ctx context.Context, ref, cand system.System, traj system.Trajectory) (WeightRecord, error) {
	if ref.Temperature != cand.Temperature {
		return WeightRecord{}, ErrTemperatureMismatch
	}

	n := traj.NumFrames()
	if n == 0 {
		return WeightRecord{}, ErrNoFrames
	}
	log.Printf("[REWEIGHT] %s: %d frames at %.2f K (beta=%.6f mol/kcal)",
		ref.TargetName, n, ref.Temperature.Kelvin(), ref.Temperature.Beta())

	deltaU := make([]float64, n)
	for i := 0; i < n; i++ {
		d, err := e.frameDelta(ctx, ref, cand, traj, i)
		if err != nil {
			return WeightRecord{}, err
		}
		deltaU[i] = d
	}

	rec, err := FromDeltaU(deltaU, ref.Temperature)
	if err != nil {
		return WeightRecord{}, fmt.Errorf("%s: %w", ref.TargetName, err)
	}
	log.Printf("[REWEIGHT] %s: ess=%.4f", ref.TargetName, rec.ESS)
	return rec, nil
}

// frameDelta returns U(x_i; theta1) - U(x_i; theta0) in kcal/mol.
func (e *Estimator) frameDelta(ctx context.Context, ref, cand system.System, traj system.Trajectory, frame int) (float64, error) {
	pos, err := traj.Positions(ctx, frame)
	if err != nil {
		return 0, err
	}

	if err := ref.Engine.SetPositions(ctx, pos); err != nil {
		return 0, err
	}
	u0, err := ref.Engine.PotentialEnergy(ctx)
	if err != nil {
		return 0, err
	}

	if err := cand.Engine.SetPositions(ctx, pos); err != nil {
		return 0, err
	}
	u1, err := cand.Engine.PotentialEnergy(ctx)
	if err != nil {
		return 0, err
	}

	delta, err := u1.Sub(u0)
	if err != nil {
		return 0, err
	}
	if e.config.Debug {
		log.Printf("[REWEIGHT] %s frame %d: dU=%10.3f kcal/mol", ref.TargetName, frame, delta.Value)
	}
	return delta.Value, nil
}

// #endregion estimate
