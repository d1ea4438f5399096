package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kunal-debug-png/GoComet/internal/capability"
	"github.com/Kunal-debug-png/GoComet/internal/model"
	"github.com/Kunal-debug-png/GoComet/internal/router"
)

var routeFlags struct {
	query    string
	filePath string
}

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Route a query to a flow kind and extracted context",
	RunE:  runRoute,
}

func init() {
	f := routeCmd.Flags()
	f.StringVar(&routeFlags.query, "query", "", "natural-language query text (required)")
	f.StringVar(&routeFlags.filePath, "file", "", "file path attached to the query, if any")
	_ = routeCmd.MarkFlagRequired("query")
}

// routeResult is what `orchestrator route` prints: the Router's three
// return values, bundled so the output round-trips as one JSON document.
type routeResult struct {
	FlowKind       model.FlowKind `json:"flow_kind"`
	Context        model.Context  `json:"context"`
	SuggestedTools []string       `json:"suggested_tools"`
}

func runRoute(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	idx, err := capability.Load(cfg.Capability.IndexPath)
	if err != nil {
		return fmt.Errorf("orchestrator: load capability index: %w", err)
	}

	result, err := routeQuery(idx, routeFlags.query, routeFlags.filePath)
	if err != nil {
		return err
	}
	return printJSON(cmd, result)
}

// routeQuery runs the Router against an already-loaded Index, separated
// from runRoute so it can be exercised directly in tests without going
// through the root command's shared --config flag.
func routeQuery(idx *capability.Index, query, filePath string) (routeResult, error) {
	r := router.New(idx)
	flowKind, ctx, suggestedTools, err := r.Route(
		model.Query{Text: query, FilePath: filePath},
		router.Options{CurrentWeek: time.Now().UTC()},
	)
	if err != nil {
		return routeResult{}, fmt.Errorf("orchestrator: route: %w", err)
	}
	return routeResult{FlowKind: flowKind, Context: ctx, SuggestedTools: suggestedTools}, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
