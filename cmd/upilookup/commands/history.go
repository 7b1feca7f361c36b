package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/upilookup/errors"
	"github.com/teranos/upilookup/logger"
	"github.com/teranos/upilookup/lookup"
	"github.com/teranos/upilookup/sym"
)

// HistoryCmd lists archived runs or shows one
var HistoryCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: sym.DB + " Show archived runs",
	Long: sym.DB + ` history - Show archived runs

Without arguments, lists the most recent runs. With a run id, shows that
run's outcomes and bank distribution.

Examples:
  upilookup history
  upilookup history --limit 50
  upilookup history 3f2a... --kind success
  upilookup history 3f2a... --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

var (
	historyLimit int
	historyKinds []string
	historyJSON  bool
)

func init() {
	HistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Number of runs to list")
	HistoryCmd.Flags().StringSliceVar(&historyKinds, "kind", nil, "Only show outcomes of these kinds (success, not_found, transient_error, fatal_error, cancelled)")
	HistoryCmd.Flags().BoolVarP(&historyJSON, "json", "j", false, "Output as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Path == "" {
		return errors.WithHint(errors.New("run history is disabled"),
			"set database.path in am.toml")
	}

	database, store, err := openArchive(cfg.Database.Path, logger.Logger.Named("history"))
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		runs, err := store.ListRuns(ctx, historyLimit)
		if err != nil {
			return err
		}
		if historyJSON {
			return writeJSON(out, runs)
		}
		if len(runs) == 0 {
			pterm.Info.Println("No archived runs")
			return nil
		}

		data := pterm.TableData{{"Run", "Status", "Source", "Total", "Success", "Failed", "Cancelled", "Rate", "Started"}}
		for _, r := range runs {
			data = append(data, []string{
				r.ID,
				string(r.Status),
				r.Source,
				strconv.Itoa(r.TotalItems),
				strconv.Itoa(r.SuccessCount),
				strconv.Itoa(r.FailureCount),
				strconv.Itoa(r.CancelledCount),
				fmt.Sprintf("%.1f%%", r.SuccessRate()),
				r.StartedAt.Local().Format(time.DateTime),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(out).Render()
	}

	kinds := make([]lookup.OutcomeKind, 0, len(historyKinds))
	for _, k := range historyKinds {
		kind, err := lookup.ParseKind(k)
		if err != nil {
			return err
		}
		kinds = append(kinds, kind)
	}

	run, err := store.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	entries, err := store.ListOutcomes(ctx, run.ID, kinds...)
	if err != nil {
		return err
	}
	banks, err := store.BankDistribution(ctx, run.ID)
	if err != nil {
		return err
	}

	if historyJSON {
		return writeJSON(out, map[string]any{
			"run":      run,
			"outcomes": entries,
			"banks":    banks,
		})
	}

	pterm.DefaultSection.Println("Run " + run.ID)
	pterm.Printf("Status %s, %d of %d processed, %d success, %d failed, %d cancelled\n",
		run.Status, run.ProcessedCount, run.TotalItems, run.SuccessCount, run.FailureCount, run.CancelledCount)

	if len(banks) > 0 {
		data := pterm.TableData{{"Bank", "Accounts"}}
		for _, b := range banks {
			data = append(data, []string{b.Bank, strconv.Itoa(b.Count)})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(out).Render(); err != nil {
			return err
		}
	}

	data := pterm.TableData{{"#", "Phone", "Outcome", "Name", "UPI ID", "Bank", "Detail"}}
	for _, e := range entries {
		row := []string{strconv.Itoa(e.SequenceIndex), e.PhoneNumber, e.Outcome.Kind.Symbol() + " " + string(e.Outcome.Kind), "", "", "", e.Outcome.Reason}
		if rec := e.Outcome.Record; rec != nil {
			row[3], row[4], row[5] = rec.AccountHolderName, rec.UpiID, rec.BankName
		}
		data = append(data, row)
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(out).Render()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "encode json")
}
