package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/kntkb/espfit/internal/logging"
	"github.com/kntkb/espfit/internal/replay"
	"github.com/kntkb/espfit/internal/state"
	"github.com/spf13/cobra"
)

// #region command
var replayRecord bool

var replayCmd = &cobra.Command{
	Use:   "replay fixture.json [fixture.json...]",
	Short: "Replay recorded fixtures through estimate, gate, and loss offline",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var store *state.Store
		if replayRecord {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err = state.NewStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()
		}
		return runReplay(cmd.Context(), cmd.OutOrStdout(), args, store)
	},
}

func init() {
	replayCmd.Flags().BoolVar(&replayRecord, "record", false, "record each replay in the provenance log")
	rootCmd.AddCommand(replayCmd)
}

// #endregion command

// #region run-replay
// runReplay replays every fixture and fails if any of them misses its expectations.
func runReplay(ctx context.Context, out io.Writer, paths []string, store *state.Store) error {
	failed := 0
	for _, path := range paths {
		f, err := replay.LoadFixture(path)
		if err != nil {
			return err
		}
		res, err := replay.Replay(ctx, f)
		if err != nil {
			return fmt.Errorf("replay %s: %w", path, err)
		}
		summary := replay.Summarize(f, res)

		status := "PASS"
		if !summary.Passed {
			status = "FAIL"
			failed++
		}
		fmt.Fprintf(out, "%s  %s  min_ess=%.4f  action=%s\n", status, path, res.MinESS, res.GateDecision.Action)
		for _, m := range summary.Mismatches {
			fmt.Fprintf(out, "      %s\n", m)
		}

		if store != nil {
			if err := logging.LogStep(store.DB(), "replay", stepRecord(res, f.Config.ToReplayConfig())); err != nil {
				return err
			}
		}
	}

	fmt.Fprintf(out, "%d fixtures, %d failed\n", len(paths), failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d fixtures failed", failed, len(paths))
	}
	return nil
}

func stepRecord(res replay.ReplayResult, cfg replay.ReplayConfig) logging.StepRecord {
	rec := logging.StepRecord{
		PassID:     res.PassID,
		ESS:        make(map[string]float64, len(res.Targets)),
		MinESS:     res.MinESS,
		GateAction: string(res.GateDecision.Action),
		GateReason: res.GateDecision.Reason,
		Thresholds: logging.StepThresholds{
			MinESS:       cfg.GateConfig.MinESS,
			DefaultError: cfg.LossConfig.DefaultError,
		},
	}
	for i, t := range res.Targets {
		rec.ESS[t] = res.ESS[i]
		if res.Losses != nil {
			rec.Losses = append(rec.Losses, logging.TargetLoss{Target: t, Loss: res.Losses[i]})
		}
	}
	return rec
}

// #endregion run-replay
