package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/upilookup/am"
	"github.com/teranos/upilookup/archive"
	"github.com/teranos/upilookup/errors"
	"github.com/teranos/upilookup/input"
	"github.com/teranos/upilookup/logger"
	"github.com/teranos/upilookup/lookup"
	"github.com/teranos/upilookup/pulse/async"
	"github.com/teranos/upilookup/results"
	"github.com/teranos/upilookup/sym"
)

// RunCmd looks up a file or stdin of phone numbers
var RunCmd = &cobra.Command{
	Use:   "run [file]",
	Short: sym.Pulse + " Look up a list of phone numbers",
	Long: sym.Pulse + ` run - Look up a list of phone numbers

Reads one phone number per line from file, or stdin when file is omitted
or "-". Blank lines are skipped, invalid lines are reported, and duplicates
are looked up once.

While running:
  Ctrl+C / SIGTERM   cancel (in-flight lookups finish); press again to abort
  SIGUSR1            pause
  SIGUSR2            resume

Examples:
  upilookup run numbers.txt
  upilookup run numbers.txt --workers 8 --rate 10
  upilookup run numbers.txt --output json > results.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runWorkers   int
	runRate      int
	runOutput    string
	runNoArchive bool
)

func init() {
	RunCmd.Flags().IntVar(&runWorkers, "workers", 0, "Worker count (overrides pool.workers)")
	RunCmd.Flags().IntVar(&runRate, "rate", 0, "Calls per second (overrides rate_limit.calls_per_second)")
	RunCmd.Flags().StringVarP(&runOutput, "output", "o", "table", "Result output: table, json, none")
	RunCmd.Flags().BoolVar(&runNoArchive, "no-archive", false, "Do not save the run to history")
}

func runRun(cmd *cobra.Command, args []string) error {
	switch runOutput {
	case "table", "json", "none":
	default:
		return errors.Newf("unsupported output: %s (supported: table, json, none)", runOutput)
	}

	if runOutput == "json" {
		// stdout carries only the JSON document
		pterm.SetDefaultOutput(cmd.ErrOrStderr())
		defer pterm.SetDefaultOutput(os.Stdout)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runWorkers > 0 {
		cfg.Pool.Workers = min(runWorkers, am.MaxWorkers)
	}
	if runRate > 0 {
		cfg.RateLimit.CallsPerSecond = runRate
	}

	lines, source, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	log := logger.Logger.Named("run")
	ctx, abort := context.WithCancel(cmd.Context())
	defer abort()

	eng, err := newEngine(ctx, cfg, log)
	if err != nil {
		return err
	}

	report := eng.normalizer.Normalize(lines)
	printReport(report)

	var archiveStore *archive.Store
	if !runNoArchive {
		database, store, err := openArchive(cfg.Database.Path, log)
		if err != nil {
			return err
		}
		if database != nil {
			defer database.Close()
			archiveStore = store
		}
	}

	state, err := drive(ctx, abort, eng.ctrl, report.Items)
	if err != nil {
		return err
	}

	if archiveStore != nil {
		if err := archiveStore.SaveRun(context.WithoutCancel(ctx), state, eng.ctrl.Store().BySequence(), source); err != nil {
			pterm.Warning.Printfln("Run not archived: %v", err)
		} else {
			pterm.Info.Printfln("Archived run %s %s", state.RunID, sym.DB)
		}
	}

	switch runOutput {
	case "table":
		printSummary(state, eng.ctrl.Store())
	case "json":
		printSummary(state, eng.ctrl.Store())
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(eng.ctrl.Store().BySequence()); err != nil {
			return errors.Wrap(err, "encode results")
		}
	}

	if state.Status == async.StatusCancelled {
		return errors.Newf("run cancelled after %d of %d lookups", state.ProcessedCount, state.TotalItems)
	}
	return nil
}

// readInput reads lines from the named file or stdin.
func readInput(cmd *cobra.Command, args []string) ([]string, string, error) {
	if len(args) == 0 || args[0] == "-" {
		lines, err := input.ReadLines(cmd.InOrStdin())
		return lines, "stdin", errors.Wrap(err, "read stdin")
	}

	f, err := os.Open(args[0])
	if err != nil {
		return nil, "", errors.Wrapf(err, "open %s", args[0])
	}
	defer f.Close()

	lines, err := input.ReadLines(f)
	if err != nil {
		return nil, "", errors.Wrapf(err, "read %s", args[0])
	}
	return lines, filepath.Base(args[0]), nil
}

// drive starts the run, renders progress and maps signals onto control calls
// until the run drains.
func drive(ctx context.Context, abort context.CancelFunc, ctrl *async.Controller, items []input.WorkItem) (async.JobState, error) {
	events, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	sigs, stopSignals := notifyControlSignals()
	defer stopSignals()

	if err := ctrl.Start(items); err != nil {
		return async.JobState{}, err
	}

	bar, err := pterm.DefaultProgressbar.
		WithTotal(max(len(items), 1)).
		WithTitle("Looking up").
		WithWriter(progressWriter()).
		Start()
	if err != nil {
		pterm.Warning.Printfln("Progress bar unavailable: %v", err)
		bar = nil
	}

	done := make(chan struct{})
	go func() {
		ctrl.Wait(context.WithoutCancel(ctx))
		close(done)
	}()

	cancelled := false
	for {
		select {
		case e := <-events:
			renderEvent(bar, e)

		case sig := <-sigs:
			switch controlFor(sig) {
			case "pause":
				if err := ctrl.Pause(); err != nil {
					pterm.Warning.Printfln("%v", err)
				}
			case "resume":
				if err := ctrl.Resume(); err != nil {
					pterm.Warning.Printfln("%v", err)
				}
			default:
				if cancelled {
					pterm.Warning.Println("Aborting in-flight lookups")
					abort()
					continue
				}
				cancelled = true
				pterm.Info.Println("Cancelling (press Ctrl+C again to abort in-flight lookups)...")
				if err := ctrl.Cancel(); err != nil {
					pterm.Warning.Printfln("%v", err)
				}
			}

		case <-done:
			for {
				select {
				case e := <-events:
					renderEvent(bar, e)
				default:
					state := ctrl.Snapshot()
					advance(bar, state.Settled())
					if bar != nil {
						bar.Stop()
					}
					return state, nil
				}
			}
		}
	}
}

// renderEvent reports e. bar may be nil.
func renderEvent(bar *pterm.ProgressbarPrinter, e async.Event) {
	switch e.Kind {
	case async.EventItemSettled:
		if bar != nil && e.Outcome != nil {
			bar.UpdateTitle(fmt.Sprintf("%s %s", e.Outcome.Kind.Symbol(), e.Phone))
		}
		advance(bar, e.State.Settled())
	case async.EventRunPaused:
		pterm.Info.Printfln("Paused after %d of %d (send SIGUSR2 to resume)", e.State.Settled(), e.State.TotalItems)
	case async.EventRunResumed:
		pterm.Info.Println("Resumed")
	case async.EventRunCancelled:
		pterm.Warning.Printfln("Cancelled: %d numbers will not be looked up", e.State.CancelledCount)
	}
}

// advance moves bar to settled items. Events carry the full run state, so a
// dropped event only delays the bar.
func advance(bar *pterm.ProgressbarPrinter, settled int) {
	if bar == nil {
		return
	}
	settled = min(settled, bar.Total)
	if delta := settled - bar.Current; delta > 0 {
		bar.Add(delta)
	}
}

// progressWriter keeps the progress bar off stdout so piped results stay clean.
func progressWriter() io.Writer {
	return os.Stderr
}

func printReport(report input.Report) {
	pterm.Info.Printfln("Read %d lines: %d to look up, %d invalid, %d duplicates",
		report.TotalLines, len(report.Items), len(report.Invalid), report.Duplicates)
	for _, v := range report.Invalid {
		pterm.Warning.Printfln("line %d: %q %s", v.Line, v.Value, v.Reason)
	}
}

func printSummary(state async.JobState, store *results.Store) {
	counts := store.Counts()
	data := pterm.TableData{
		{"Outcome", "Count"},
		{sym.Success + " success", strconv.Itoa(counts.Success)},
		{sym.NotFound + " not found", strconv.Itoa(counts.NotFound)},
		{sym.Failure + " transient error", strconv.Itoa(counts.Transient)},
		{sym.Failure + " fatal error", strconv.Itoa(counts.Fatal)},
		{sym.Cancelled + " cancelled", strconv.Itoa(counts.Cancelled)},
	}
	pterm.DefaultSection.Println("Summary")
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()

	pterm.Info.Printfln("Status %s, success rate %.1f%%, %s elapsed, %.2f lookups/s",
		state.Status, state.SuccessRate(), state.Elapsed().Round(10*time.Millisecond), state.Throughput())

	if dist := store.BankDistribution(); len(dist) > 0 {
		banks := pterm.TableData{{"Bank", "Accounts"}}
		for _, bc := range dist {
			banks = append(banks, []string{bc.Bank, strconv.Itoa(bc.Count)})
		}
		pterm.DefaultSection.Println("Banks")
		pterm.DefaultTable.WithHasHeader().WithData(banks).Render()
	}

	if found := store.ByKind(lookup.KindSuccess); len(found) > 0 {
		rows := pterm.TableData{{"Phone", "Name", "UPI ID", "Bank"}}
		for _, e := range found {
			rows = append(rows, []string{e.PhoneNumber, e.Outcome.Record.AccountHolderName, e.Outcome.Record.UpiID, e.BankName()})
		}
		pterm.DefaultSection.Println("Accounts")
		pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	}
}

// controlFor maps a signal onto a control action.
func controlFor(sig os.Signal) string {
	if action, ok := signalActions[sig]; ok {
		return action
	}
	return "cancel"
}
