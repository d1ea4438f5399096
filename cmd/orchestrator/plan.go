package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Kunal-debug-png/GoComet/internal/capability"
	"github.com/Kunal-debug-png/GoComet/internal/model"
	"github.com/Kunal-debug-png/GoComet/internal/planner"
	"github.com/Kunal-debug-png/GoComet/internal/router"
)

var planFlags struct {
	query    string
	filePath string
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Route a query and materialize it into a validated plan",
	RunE:  runPlanCmd,
}

func init() {
	f := planCmd.Flags()
	f.StringVar(&planFlags.query, "query", "", "natural-language query text (required)")
	f.StringVar(&planFlags.filePath, "file", "", "file path attached to the query, if any")
	_ = planCmd.MarkFlagRequired("query")
}

// buildPlan routes q against idx and materializes the resulting flow into
// a validated Plan. Shared by `plan` and `run`, which both need a plan
// before the latter goes on to execute it.
func buildPlan(idx *capability.Index, q model.Query) (model.Plan, error) {
	r := router.New(idx)
	flowKind, ctx, suggestedTools, err := r.Route(q, router.Options{CurrentWeek: time.Now().UTC()})
	if err != nil {
		return model.Plan{}, fmt.Errorf("orchestrator: route: %w", err)
	}

	p := planner.New(idx)
	plan, err := p.Plan(uuid.NewString(), flowKind, ctx, suggestedTools)
	if err != nil {
		return model.Plan{}, fmt.Errorf("orchestrator: plan: %w", err)
	}
	return plan, nil
}

func runPlanCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	idx, err := capability.Load(cfg.Capability.IndexPath)
	if err != nil {
		return fmt.Errorf("orchestrator: load capability index: %w", err)
	}

	plan, err := buildPlan(idx, model.Query{Text: planFlags.query, FilePath: planFlags.filePath})
	if err != nil {
		return err
	}
	return printJSON(cmd, plan)
}
