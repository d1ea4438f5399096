package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Kunal-debug-png/GoComet/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status <run_id>",
	Short: "Show a run's state and the state of every node run within it",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	run, nodeRuns, err := a.exec.Status(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("orchestrator: status: %w", err)
	}
	reportStatus(cmd, run, nodeRuns)
	return nil
}

// reportStatus prints a run and its node runs in the same plain,
// human-scannable layout `orchestrator run --wait` prints once the run
// finishes.
func reportStatus(cmd *cobra.Command, run model.Run, nodeRuns []model.NodeRun) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:    %s\n", run.RunID)
	fmt.Fprintf(out, "Plan:   %s\n", run.PlanID)
	fmt.Fprintf(out, "State:  %s\n", run.State)
	if run.Error != "" {
		fmt.Fprintf(out, "Error:  %s\n", run.Error)
	}
	if len(nodeRuns) == 0 {
		return
	}
	fmt.Fprintf(out, "Nodes:\n")
	for _, nr := range nodeRuns {
		fmt.Fprintf(out, "  %s: %s (attempts=%d)", nr.NodeID, nr.State, nr.Attempts)
		if nr.Error != "" {
			fmt.Fprintf(out, " error=%q kind=%s", nr.Error, nr.ErrorKind)
		}
		fmt.Fprintln(out)
	}
}
