// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/churnguard/internal/artifact"
	"github.com/tomtom215/churnguard/internal/config"
	"github.com/tomtom215/churnguard/internal/logging"
	"github.com/tomtom215/churnguard/internal/retrain"
	"github.com/tomtom215/churnguard/internal/store"
)

const (
	exitSuccess = 0
	exitError   = 1
	exitLocked  = 2
)

// codedError carries a process exit code through cobra's RunE.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }

func (e *codedError) Unwrap() error { return e.err }

// app holds what every subcommand needs. Fields are opened lazily so
// `models` works without a reachable store.
type app struct {
	out      io.Writer
	jsonOut  bool
	cfg      *config.Config
	arts     *artifact.Store
	names    artifact.Names
	docs     store.Store
	closeFns []func()
}

func (a *app) setup() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})
	arts, err := artifact.NewStore(cfg.Models.Dir)
	if err != nil {
		return fmt.Errorf("open model directory: %w", err)
	}
	a.cfg = cfg
	a.arts = arts
	a.names = artifact.Names{
		Churn:           cfg.Models.ChurnName,
		Rewards:         cfg.Models.RewardsName,
		Background:      cfg.Models.BackgroundName,
		CandidatePrefix: cfg.Models.CandidatePrefix,
	}
	return nil
}

func (a *app) openStore(ctx context.Context) (store.Store, error) {
	if a.docs != nil {
		return a.docs, nil
	}
	docs, err := store.Open(ctx, &a.cfg.Store, logging.WithComponent("store"))
	if err != nil {
		return nil, err
	}
	a.docs = docs
	a.closeFns = append(a.closeFns, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Store.Timeout)
		defer cancel()
		if err := docs.Close(closeCtx); err != nil {
			logging.Warn().Err(err).Msg("close document store")
		}
	})
	return docs, nil
}

func (a *app) loop(ctx context.Context) (*retrain.Loop, error) {
	docs, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	return retrain.New(docs, a.arts, a.names, retrain.ConfigFrom(&a.cfg.Retrain), logging.Logger()), nil
}

func (a *app) close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "churnctl",
		Short:         "Operate the Churnguard correction loop and model artifacts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Print machine-readable JSON")

	root.AddCommand(newRetrainCmd(a), newPromoteCmd(a), newModelsCmd(a))
	return root
}

func newRetrainCmd(a *app) *cobra.Command {
	var promote bool
	cmd := &cobra.Command{
		Use:   "retrain",
		Short: "Run the correction loop once and write candidate models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loop, err := a.loop(cmd.Context())
			if err != nil {
				return err
			}
			rep, err := loop.Run(cmd.Context())
			if errors.Is(err, retrain.ErrRunInProgress) {
				return &codedError{code: exitLocked, err: err}
			}
			carried := errors.Is(err, retrain.ErrInsufficientFeedback)
			if err != nil && !carried {
				return err
			}

			if err := a.report(rep); err != nil {
				return err
			}
			if promote && !carried {
				return a.promote(cmd.Context(), loop)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&promote, "promote", false, "Promote the candidates when the run retrained")
	return cmd
}

func newPromoteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "promote",
		Short: "Replace the deployed models with the latest candidates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loop, err := a.loop(cmd.Context())
			if err != nil {
				return err
			}
			return a.promote(cmd.Context(), loop)
		},
	}
}

func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List model artifacts and their metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := a.arts.List(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				if list == nil {
					list = []artifact.Metadata{}
				}
				return a.printJSON(list)
			}
			if len(list) == 0 {
				_, err := fmt.Fprintf(a.out, "No artifacts in %s\n", a.arts.Dir())
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tSOURCE\tROWS\tSAVED\tCHECKSUM")
			for _, m := range list {
				sum := m.Checksum
				if len(sum) > 12 {
					sum = sum[:12]
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					m.Name, m.Kind, m.Source, m.Rows, m.SavedAt.Format("2006-01-02 15:04:05"), sum)
			}
			return tw.Flush()
		},
	}
}

func (a *app) report(rep *retrain.Report) error {
	if a.jsonOut {
		return a.printJSON(rep)
	}
	fmt.Fprintf(a.out, "Run %s: %s\n", rep.RunID, rep.Result)
	fmt.Fprintf(a.out, "  feedback records: %d\n", rep.FeedbackRecords)
	fmt.Fprintf(a.out, "  dataset records:  %d\n", rep.DatasetRecords)
	if rep.Result == retrain.ResultRetrained {
		fmt.Fprintf(a.out, "  reconciled rows:  %d (train %d, test %d)\n", rep.Records, rep.TrainRows, rep.TestRows)
		fmt.Fprintf(a.out, "  churn accuracy:   %.4f\n", rep.ChurnAccuracy)
		fmt.Fprintf(a.out, "  rewards MAE:      %.4f\n", rep.RewardsMAE)
	}
	for _, name := range rep.Artifacts {
		fmt.Fprintf(a.out, "  wrote %s\n", name)
	}
	_, err := fmt.Fprintf(a.out, "  duration:         %s\n", rep.Duration)
	return err
}

func (a *app) promote(ctx context.Context, loop *retrain.Loop) error {
	names, err := loop.Promote(ctx)
	if errors.Is(err, retrain.ErrRunInProgress) {
		return &codedError{code: exitLocked, err: err}
	}
	if err != nil {
		return err
	}
	if a.jsonOut {
		return a.printJSON(map[string]any{"promoted": names})
	}
	for _, n := range names {
		fmt.Fprintf(a.out, "Promoted %s\n", n)
	}
	return nil
}

// execute runs the CLI and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := &app{out: stdout}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitSuccess
	}
	a.close()
	fmt.Fprintf(stderr, "Error: %v\n", err)

	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	return exitError
}
