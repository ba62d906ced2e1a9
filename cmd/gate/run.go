package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Promptonauts/gate/pkg/config"
	"github.com/Promptonauts/gate/pkg/models"
	"github.com/Promptonauts/gate/pkg/pipeline"
	"github.com/Promptonauts/gate/pkg/store"
)

func newRunCmd() *cobra.Command {
	var (
		stateFile string
		overrides []string
		dbPath    string
		name      string
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Evaluate a pipeline file locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			state := config.State{}
			if stateFile != "" {
				state, err = config.LoadState(stateFile)
				if err != nil {
					return err
				}
			}
			if err := state.Apply(overrides); err != nil {
				return err
			}

			level := slog.LevelWarn
			if verbose {
				level = slog.LevelInfo
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			var st store.Store
			if dbPath != "" {
				sqlite, err := store.NewSQLiteStore(dbPath)
				if err != nil {
					return err
				}
				if err := sqlite.Migrate(); err != nil {
					return err
				}
				defer sqlite.Close()
				st = sqlite
			}

			runner := pipeline.NewRunner(st, nil, nil, logger)
			report, err := runner.Run(cmd.Context(), name, spec, state)
			if err != nil {
				return err
			}

			printReport(cmd.OutOrStdout(), report)
			if report.Failed > 0 {
				return fmt.Errorf("%d step(s) failed", report.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&stateFile, "state", "", "YAML file with runtime state for check predicates")
	cmd.Flags().StringArrayVar(&overrides, "set", nil, "state override, key=value (repeatable)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite path to persist results (off by default)")
	cmd.Flags().StringVar(&name, "name", "", "pipeline name (defaults to the file name)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log step and retry events")
	return cmd
}

func printReport(out io.Writer, report *pipeline.RunReport) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tSTATUS\tATTEMPTS\tCAUSE\tERROR")
	for _, rec := range report.Results {
		cause := rec.Cause
		if rec.Status == models.StepSuccess {
			cause = ""
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", rec.StepName, rec.Status, rec.Attempts, cause, rec.LastError)
	}
	w.Flush()
	fmt.Fprintf(out, "\nrun %s: %d succeeded, %d failed, %d skipped\n",
		report.RunID, report.Succeeded, report.Failed, report.Skipped)
}
