package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/kntkb/espfit/internal/config"
	"github.com/kntkb/espfit/internal/engine"
	"github.com/kntkb/espfit/internal/eval"
	"github.com/kntkb/espfit/internal/experiment"
	"github.com/kntkb/espfit/internal/gate"
	"github.com/kntkb/espfit/internal/logging"
	"github.com/kntkb/espfit/internal/loss"
	"github.com/kntkb/espfit/internal/reweight"
	"github.com/kntkb/espfit/internal/session"
	"github.com/kntkb/espfit/internal/state"
	"github.com/kntkb/espfit/internal/system"
	"github.com/spf13/cobra"
)

// #region command
var (
	stepSkipRun   bool
	stepCandidate string
	stepJSON      bool
)

var stepCmd = &cobra.Command{
	Use:   "step",
	Short: "Run one training step: simulate, reweight, gate, and score",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if stepCandidate != "" {
			cfg.CandidateParameters = stepCandidate
		}
		return runStep(cmd.Context(), cfg, cmd.OutOrStdout())
	},
}

func init() {
	stepCmd.Flags().BoolVar(&stepSkipRun, "skip-run", false, "reuse existing trajectories instead of simulating")
	stepCmd.Flags().StringVar(&stepCandidate, "candidate", "", "candidate parameter file (overrides config)")
	stepCmd.Flags().BoolVar(&stepJSON, "json", false, "output as JSON instead of table")
	rootCmd.AddCommand(stepCmd)
}

// #endregion command

// #region run-step
func runStep(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if cfg.CandidateParameters == "" {
		return fmt.Errorf("no candidate parameters: set candidate_parameters or --candidate")
	}

	client, err := engine.NewClient(cfg.EngineAddr)
	if err != nil {
		return err
	}
	defer client.Close()

	store, err := state.NewStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	refs, cands, err := buildSystems(ctx, client, cfg)
	if err != nil {
		return err
	}

	sess := session.NewSession(refs, session.Deps{
		Loader:    client,
		Estimator: reweight.NewEstimator(reweight.EstimatorConfig{Debug: cfg.Debug}),
		Aggregator: loss.NewAggregator(
			experiment.NewReader(cfg.ExperimentRoot),
			client,
			experiment.NewPredictionWriter(),
			cfg.LossConfig(),
		),
		Checks: eval.NewEvalHarness(cfg.EvalConfig()),
		Sink:   store,
	})

	rec, err := executeStep(ctx, sess, cands, gate.NewGate(cfg.GateConfig()), store.DB(), logging.StepThresholds{
		MinESS:       cfg.Gate.MinESS,
		DefaultError: cfg.Loss.DefaultError,
	}, stepSkipRun)
	if err != nil {
		return err
	}
	return printStep(out, rec, stepJSON)
}

// buildSystems creates a reference and a candidate context on the service for
// every configured system.
func buildSystems(ctx context.Context, client *engine.Client, cfg *config.Config) ([]system.System, []system.System, error) {
	var refs, cands []system.System
	for _, sc := range cfg.Systems {
		base := sc.System(nil)
		spec := engine.SystemSpec{
			TargetName:  base.TargetName,
			TargetClass: base.TargetClass,
			Temperature: base.Temperature,
			AtomSubset:  base.AtomSubset,
			OutputDir:   base.OutputDir,
		}

		spec.Parameters = cfg.ReferenceParameters
		ref, err := createSystem(ctx, client, spec, cfg.RPCTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("system %s: %w", sc.TargetName, err)
		}
		spec.Parameters = cfg.CandidateParameters
		cand, err := createSystem(ctx, client, spec, cfg.RPCTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("system %s: %w", sc.TargetName, err)
		}
		refs = append(refs, sc.System(ref))
		cands = append(cands, sc.System(cand))
	}
	return refs, cands, nil
}

func createSystem(ctx context.Context, client *engine.Client, spec engine.SystemSpec, timeout time.Duration) (*engine.Engine, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return client.CreateSystem(ctx, spec)
}

// executeStep runs simulate, estimate, gate, and loss on sess and records the
// outcome in provenance_log.
func executeStep(
	ctx context.Context,
	sess *session.Session,
	cands []system.System,
	g *gate.Gate,
	db *sql.DB,
	thresholds logging.StepThresholds,
	skipRun bool,
) (logging.StepRecord, error) {
	if !skipRun {
		if err := sess.RunAll(ctx); err != nil {
			return logging.StepRecord{}, fmt.Errorf("run simulations: %w", err)
		}
	}

	minESS, err := sess.EstimateAll(ctx, cands)
	if err != nil {
		return logging.StepRecord{}, fmt.Errorf("estimate weights: %w", err)
	}
	decision := g.Evaluate(minESS)
	log.Printf("[STEP] gate: %s (%s)", decision.Action, decision.Reason)

	rec := logging.StepRecord{
		PassID:     sess.LastPassID(),
		ESS:        make(map[string]float64),
		MinESS:     minESS,
		Thresholds: thresholds,
		GateAction: string(decision.Action),
		GateReason: decision.Reason,
	}
	for _, sys := range sess.Systems() {
		if w, ok := sess.Weights().Get(sys.TargetName); ok {
			rec.ESS[sys.TargetName] = w.ESS
		}
	}

	if decision.Reweight() {
		losses, err := sess.ComputeLosses(ctx)
		if err != nil {
			return rec, fmt.Errorf("compute losses: %w", err)
		}
		for i, sys := range sess.Systems() {
			rec.Losses = append(rec.Losses, logging.TargetLoss{Target: sys.TargetName, Loss: losses[i]})
		}
	}

	if err := logging.LogStep(db, "step", rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// #endregion run-step

// #region output
func printStep(out io.Writer, rec logging.StepRecord, jsonOut bool) error {
	if jsonOut {
		return printJSON(out, rec)
	}

	fmt.Fprintf(out, "pass %s: min ess %.4f -> %s (%s)\n", rec.PassID, rec.MinESS, rec.GateAction, rec.GateReason)
	if len(rec.Losses) == 0 {
		return nil
	}
	fmt.Fprintf(out, "%-24s  %8s  %10s\n", "Target", "ESS", "Loss")
	fmt.Fprintf(out, "%-24s+-%8s+-%10s\n", "------------------------", "--------", "----------")
	for _, l := range rec.Losses {
		fmt.Fprintf(out, "%-24s  %8.4f  %10.4f\n", l.Target, rec.ESS[l.Target], l.Loss)
	}
	return nil
}

// #endregion output
