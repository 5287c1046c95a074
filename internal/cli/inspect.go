package cli

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kntkb/espfit/internal/logging"
	"github.com/kntkb/espfit/internal/state"
	"github.com/spf13/cobra"
)

// #region command
var (
	inspectLast int
	inspectPass string
	inspectJSON bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List stored reweighting passes and gate decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := state.NewStore(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		if inspectPass != "" {
			return runPassDetail(cmd.OutOrStdout(), store, inspectPass, inspectJSON)
		}
		return runPassList(cmd.OutOrStdout(), store, inspectLast, inspectJSON)
	},
}

func init() {
	inspectCmd.Flags().IntVar(&inspectLast, "last", 20, "show N most recent passes")
	inspectCmd.Flags().StringVar(&inspectPass, "pass", "", "show single pass detail")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "output as JSON instead of table")
	rootCmd.AddCommand(inspectCmd)
}

// #endregion command

// #region list-mode
type passRow struct {
	PassID    string  `json:"pass_id"`
	Targets   int     `json:"targets"`
	MinESS    float64 `json:"min_ess"`
	Decision  string  `json:"decision,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	CreatedAt string  `json:"created_at"`
}

func runPassList(out io.Writer, store *state.Store, last int, jsonOut bool) error {
	passes, err := store.ListPasses(last)
	if err != nil {
		return err
	}
	if len(passes) == 0 {
		fmt.Fprintln(out, "no passes found")
		return nil
	}
	decisions, err := decisionsByPass(store.DB(), last)
	if err != nil {
		return err
	}

	rows := make([]passRow, len(passes))
	for i, p := range passes {
		d := decisions[p.PassID]
		rows[i] = passRow{
			PassID:    p.PassID,
			Targets:   p.Targets,
			MinESS:    p.MinESS,
			Decision:  d.Decision,
			Reason:    d.Reason,
			CreatedAt: p.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	if jsonOut {
		return printJSON(out, rows)
	}
	fmt.Fprintf(out, "%-36s  %7s  %8s  %-10s  %s\n", "Pass", "Targets", "Min ESS", "Decision", "Time")
	fmt.Fprintf(out, "%-36s+-%7s+-%8s+-%-10s+-%s\n",
		"------------------------------------", "-------", "--------", "----------", "--------------------")
	for _, r := range rows {
		fmt.Fprintf(out, "%-36s  %7d  %8.4f  %-10s  %s\n", r.PassID, r.Targets, r.MinESS, r.Decision, r.CreatedAt)
	}
	return nil
}

// decisionsByPass indexes the latest provenance entry of each pass.
func decisionsByPass(db *sql.DB, limit int) (map[string]logging.ProvenanceEntry, error) {
	entries, err := logging.ListDecisions(db, limit)
	if err != nil {
		return nil, err
	}
	out := make(map[string]logging.ProvenanceEntry, len(entries))
	for _, e := range entries {
		if _, ok := out[e.PassID]; !ok {
			out[e.PassID] = e
		}
	}
	return out, nil
}

// #endregion list-mode

// #region detail-mode
type targetRow struct {
	Target    string  `json:"target"`
	Frames    int     `json:"frames"`
	ESS       float64 `json:"ess"`
	MaxWeight float64 `json:"max_weight"`
}

func runPassDetail(out io.Writer, store *state.Store, passID string, jsonOut bool) error {
	records, err := store.GetPass(passID)
	if err != nil {
		return err
	}

	rows := make([]targetRow, len(records))
	for i, r := range records {
		var maxW float64
		for _, w := range r.Record.Weights {
			if w > maxW {
				maxW = w
			}
		}
		rows[i] = targetRow{
			Target:    r.TargetName,
			Frames:    r.Record.NumFrames(),
			ESS:       r.Record.ESS,
			MaxWeight: maxW,
		}
	}

	if jsonOut {
		return printJSON(out, rows)
	}
	fmt.Fprintf(out, "pass %s\n", passID)
	fmt.Fprintf(out, "%-24s  %6s  %8s  %10s\n", "Target", "Frames", "ESS", "Max Weight")
	fmt.Fprintf(out, "%-24s+-%6s+-%8s+-%10s\n", "------------------------", "------", "--------", "----------")
	for _, r := range rows {
		fmt.Fprintf(out, "%-24s  %6d  %8.4f  %10.4f\n", r.Target, r.Frames, r.ESS, r.MaxWeight)
	}
	return nil
}

// #endregion detail-mode

// #region helpers
func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion helpers
