package replay

import (
	"context"
	"fmt"
	"math"

	"github.com/kntkb/espfit/internal/eval"
	"github.com/kntkb/espfit/internal/gate"
	"github.com/kntkb/espfit/internal/loss"
	"github.com/kntkb/espfit/internal/reweight"
	"github.com/kntkb/espfit/internal/session"
	"github.com/kntkb/espfit/internal/system"
	"github.com/kntkb/espfit/internal/units"
)

// #region types
// ReplayResult captures the outcome of replaying one fixture through the
// estimate, gate, and loss pipeline.
type ReplayResult struct {
	PassID  string
	Targets []string

	// Estimate stage, in system order
	ESS    []float64
	MinESS float64
	Evals  []eval.EvalResult

	// Gate stage
	GateDecision gate.GateDecision

	// Loss stage (nil when the gate asked for resimulation or losses failed)
	Losses  []float64
	LossErr error
}

// ReplaySummary compares a replay result with the fixture's expectations.
type ReplaySummary struct {
	Description string
	Passed      bool
	Mismatches  []string
}

// #endregion types

// #region replay
// Replay runs a fixture in memory: estimate weights for every recorded
// system, gate on the minimum ESS, and compute losses with the cached weights
// when the gate allows reweighting.
func Replay(ctx context.Context, f *Fixture) (ReplayResult, error) {
	config := f.Config.ToReplayConfig()

	data := &recordedData{
		frames:      map[string]int{},
		experiments: map[string]loss.ExperimentRecord{},
		observables: map[string]map[string]map[string][]float64{},
	}
	refs := make([]system.System, 0, len(f.Systems))
	cands := make([]system.System, 0, len(f.Systems))

	for i := range f.Systems {
		fs := &f.Systems[i]
		if len(fs.U0) != len(fs.U1) {
			return ReplayResult{}, fmt.Errorf("%s: %d reference energies for %d candidate energies", fs.TargetName, len(fs.U0), len(fs.U1))
		}
		unit, err := fs.energyUnit()
		if err != nil {
			return ReplayResult{}, fmt.Errorf("%s: %w", fs.TargetName, err)
		}
		exp, err := fs.ToExperiment()
		if err != nil {
			return ReplayResult{}, fmt.Errorf("%s: %w", fs.TargetName, err)
		}
		data.frames[fs.TargetName] = len(fs.U0)
		data.experiments[fs.TargetName] = exp
		data.observables[fs.TargetName] = fs.Observables

		candTemp := fs.Temperature
		if fs.CandidateTemperature != nil {
			candTemp = *fs.CandidateTemperature
		}
		ref := system.System{
			TargetName:  fs.TargetName,
			TargetClass: fs.TargetClass,
			Temperature: units.Temperature(fs.Temperature),
			Engine:      &recordedEngine{energies: fs.U0, unit: unit},
		}
		cand := ref
		cand.Temperature = units.Temperature(candTemp)
		cand.Engine = &recordedEngine{energies: fs.U1, unit: unit}
		refs = append(refs, ref)
		cands = append(cands, cand)
	}

	sess := session.NewSession(refs, session.Deps{
		Loader:     data,
		Estimator:  reweight.NewEstimator(reweight.DefaultEstimatorConfig()),
		Aggregator: loss.NewAggregator(data, data, nil, config.LossConfig),
	})

	minESS, err := sess.EstimateAll(ctx, cands)
	if err != nil {
		return ReplayResult{}, err
	}

	res := ReplayResult{PassID: sess.LastPassID(), MinESS: minESS}
	checks := eval.NewEvalHarness(config.EvalConfig)
	for _, ref := range refs {
		rec, _ := sess.Weights().Get(ref.TargetName)
		res.Targets = append(res.Targets, ref.TargetName)
		res.ESS = append(res.ESS, rec.ESS)
		res.Evals = append(res.Evals, checks.Run(rec, rec.NumFrames()))
	}

	res.GateDecision = gate.NewGate(config.GateConfig).Evaluate(minESS)
	if !res.GateDecision.Reweight() {
		return res, nil
	}
	res.Losses, res.LossErr = sess.ComputeLosses(ctx)
	return res, nil
}

// #endregion replay

// #region summarize
const tolerance = 1e-6

// Summarize compares a result against the fixture's expectations.
func Summarize(f *Fixture, res ReplayResult) ReplaySummary {
	s := ReplaySummary{Description: f.Description}
	exp := f.Expected
	mismatch := func(format string, args ...interface{}) {
		s.Mismatches = append(s.Mismatches, fmt.Sprintf(format, args...))
	}

	if !approxEqual(res.MinESS, exp.MinESS) {
		mismatch("min_ess: expected %.6f, got %.6f", exp.MinESS, res.MinESS)
	}
	if exp.ESS != nil {
		compareSeries(mismatch, "ess", exp.ESS, res.ESS)
	}
	if exp.Action != "" && string(res.GateDecision.Action) != exp.Action {
		mismatch("action: expected %s, got %s", exp.Action, res.GateDecision.Action)
	}
	for i, ev := range res.Evals {
		if !ev.Passed {
			mismatch("eval %s: %s", res.Targets[i], ev.Reason)
		}
	}

	switch {
	case exp.Error != "":
		if res.LossErr == nil || res.LossErr.Error() != exp.Error {
			mismatch("loss error: expected %q, got %v", exp.Error, res.LossErr)
		}
	case res.LossErr != nil:
		mismatch("loss error: %v", res.LossErr)
	case exp.Losses != nil:
		compareSeries(mismatch, "loss", exp.Losses, res.Losses)
	}

	s.Passed = len(s.Mismatches) == 0
	return s
}

func compareSeries(mismatch func(string, ...interface{}), name string, want, got []float64) {
	if len(want) != len(got) {
		mismatch("%s: expected %d values, got %d", name, len(want), len(got))
		return
	}
	for i := range want {
		if !approxEqual(want[i], got[i]) {
			mismatch("%s[%d]: expected %.6f, got %.6f", name, i, want[i], got[i])
		}
	}
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= tolerance
}

// #endregion summarize
