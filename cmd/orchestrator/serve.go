package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Kunal-debug-png/GoComet/internal/model"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Read queries from stdin, one per line, and run each end to end",
	Long: "serve drives the router, planner, and executor directly against\n" +
		"stdin for local testing; it is not the real HTTP ingress, which is\n" +
		"out of scope here, but it exercises the same Query-to-Run path.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	in := bufio.NewScanner(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if err := serveOne(cmd, a, line); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	if err := in.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("orchestrator: serve: read stdin: %w", err)
	}
	return nil
}

func serveOne(cmd *cobra.Command, a *app, line string) error {
	plan, err := buildPlan(a.idx, model.Query{Text: line})
	if err != nil {
		return err
	}
	runID, err := a.exec.Execute(cmd.Context(), plan)
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run_id: %s\n", runID)
	return nil
}
