package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kunal-debug-png/GoComet/internal/model"
)

var runFlags struct {
	query    string
	filePath string
	wait     bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Route, plan, and execute a query end to end",
	RunE:  runRunCmd,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.query, "query", "", "natural-language query text (required)")
	f.StringVar(&runFlags.filePath, "file", "", "file path attached to the query, if any")
	f.BoolVar(&runFlags.wait, "wait", false, "block until the run reaches a terminal state, then print its node runs")
	_ = runCmd.MarkFlagRequired("query")
}

func runRunCmd(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	plan, err := buildPlan(a.idx, model.Query{Text: runFlags.query, FilePath: runFlags.filePath})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runID, err := a.exec.Execute(ctx, plan)
	if err != nil {
		return fmt.Errorf("orchestrator: execute: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run_id: %s\n", runID)

	if !runFlags.wait {
		return nil
	}
	return waitAndReport(cmd, a, runID)
}

// waitAndReport polls the Run Store until runID leaves the running state,
// then prints the same summary `status` does.
func waitAndReport(cmd *cobra.Command, a *app, runID string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	const pollInterval = 200 * time.Millisecond
	for {
		run, nodeRuns, err := a.exec.Status(ctx, runID)
		if err != nil {
			return fmt.Errorf("orchestrator: status: %w", err)
		}
		if run.State != model.RunRunning && run.State != model.RunCreated {
			reportStatus(cmd, run, nodeRuns)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
