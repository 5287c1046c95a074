package session

// #region imports
import (
	"context"
	"log"
	"math"

	"github.com/google/uuid"
	"github.com/kntkb/espfit/internal/eval"
	"github.com/kntkb/espfit/internal/loss"
	"github.com/kntkb/espfit/internal/reweight"
	"github.com/kntkb/espfit/internal/system"
)

// #endregion

// #region session-struct

// Session drives one reweighting optimization run: simulate the reference
// systems, estimate weights against candidate parameters, and compute losses.
// Construct one Session per independent run.
type Session struct {
	systems    []system.System
	loader     system.TrajectoryLoader
	estimator  *reweight.Estimator
	aggregator *loss.Aggregator
	checks     *eval.EvalHarness
	sink       WeightSink
	weights    *WeightCache
	lastPass   string
}

// Deps are the collaborators a Session is built from. Checks and Sink are optional.
type Deps struct {
	Loader     system.TrajectoryLoader
	Estimator  *reweight.Estimator
	Aggregator *loss.Aggregator
	Checks     *eval.EvalHarness
	Sink       WeightSink
}

// #endregion

// #region constructor

// NewSession creates a session over systems. The systems slice is copied.
func NewSession(systems []system.System, deps Deps) *Session {
	owned := make([]system.System, len(systems))
	copy(owned, systems)
	return &Session{
		systems:    owned,
		loader:     deps.Loader,
		estimator:  deps.Estimator,
		aggregator: deps.Aggregator,
		checks:     deps.Checks,
		sink:       deps.Sink,
		weights:    NewWeightCache(),
	}
}

// Systems returns the reference systems in session order.
func (s *Session) Systems() []system.System {
	return s.systems
}

// Weights returns the session's weight cache.
func (s *Session) Weights() *WeightCache {
	return s.weights
}

// LastPassID returns the identifier of the most recent EstimateAll pass.
func (s *Session) LastPassID() string {
	return s.lastPass
}

// #endregion

// #region run-all

// RunAll minimizes and then runs every system in order. The first failure
// stops the remaining systems and is returned as-is.
func (s *Session) RunAll(ctx context.Context) error {
	for _, sys := range s.systems {
		log.Printf("[SESSION] running simulation for %s for %d steps", sys.TargetName, sys.NSteps)
		if err := sys.Engine.Minimize(ctx); err != nil {
			return err
		}
		if err := sys.Engine.Run(ctx, sys.NSteps); err != nil {
			return err
		}
	}
	return nil
}

// #endregion

// #region estimate-all

// EstimateAll pairs systems[i] with candidates[i], estimates weights for each
// pair, caches every record, and returns the minimum ESS of this pass.
// With no systems it returns NoSystems and a nil error.
func (s *Session) EstimateAll(ctx context.Context, candidates []system.System) (float64, error) {
	if len(s.systems) == 0 {
		return NoSystems, nil
	}
	if len(candidates) != len(s.systems) {
		return 0, ErrCandidateCount
	}

	passID := uuid.New().String()
	s.lastPass = passID
	minESS := math.Inf(1)

	for i, ref := range s.systems {
		log.Printf("[SESSION] compute effective sample size and weights for %s", ref.TargetName)

		traj, err := s.loader.Load(ctx, ref)
		if err != nil {
			return 0, err
		}
		log.Printf("[SESSION] found %d frames in trajectory", traj.NumFrames())

		rec, err := s.estimator.Estimate(ctx, ref, candidates[i], traj)
		if err != nil {
			return 0, err
		}
		s.weights.Store(ref.TargetName, rec)

		if s.checks != nil {
			if result := s.checks.Run(rec, traj.NumFrames()); !result.Passed {
				log.Printf("[SESSION] %s: %s", ref.TargetName, result.Reason)
			}
		}
		if s.sink != nil {
			if err := s.sink.SaveWeights(passID, ref.TargetName, rec); err != nil {
				return 0, err
			}
		}

		minESS = math.Min(minESS, rec.ESS)
	}

	log.Printf("[SESSION] pass %s: min ess=%.4f over %d systems", passID, minESS, len(s.systems))
	return minESS, nil
}

// #endregion

// #region compute-losses

// ComputeLosses returns one loss per system in session order, using the cached
// weights where available.
func (s *Session) ComputeLosses(ctx context.Context) ([]float64, error) {
	if len(s.systems) == 0 {
		return nil, ErrNoSystems
	}
	return s.aggregator.LossForAll(ctx, s.systems, s.weights)
}

// #endregion
