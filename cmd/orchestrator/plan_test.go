package main

import (
	"testing"

	"github.com/Kunal-debug-png/GoComet/internal/capability"
	"github.com/Kunal-debug-png/GoComet/internal/model"
)

func testIndex(t *testing.T) *capability.Index {
	t.Helper()
	idx, err := capability.FromMap(map[string]capability.ToolFile{
		"plotly_render": {
			Tags:     []string{"plot"},
			Keywords: []string{"plot", "chart", "trend"},
		},
	})
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	return idx
}

func TestBuildPlan_PlotFlow(t *testing.T) {
	plan, err := buildPlan(testIndex(t), model.Query{Text: "Plot sales for the last 4 weeks"})
	if err != nil {
		t.Fatalf("buildPlan: %v", err)
	}
	if plan.FlowKind != model.FlowPlot {
		t.Errorf("FlowKind = %v, want plot", plan.FlowKind)
	}
	if _, ok := plan.NodeByID("plotly_render"); !ok {
		t.Error("plan should include a plotly_render node")
	}
}

func TestBuildPlan_PDFTrackingFlow(t *testing.T) {
	plan, err := buildPlan(testIndex(t), model.Query{Text: "Extract this invoice", FilePath: "/p/inv.pdf"})
	if err != nil {
		t.Fatalf("buildPlan: %v", err)
	}
	if plan.FlowKind != model.FlowPDFTracking {
		t.Errorf("FlowKind = %v, want pdf_tracking", plan.FlowKind)
	}
}

func TestRouteQuery_PlotFlow(t *testing.T) {
	out, err := routeQuery(testIndex(t), "Plot sales for the last 4 weeks", "")
	if err != nil {
		t.Fatalf("routeQuery: %v", err)
	}
	if out.FlowKind != model.FlowPlot {
		t.Errorf("FlowKind = %v, want plot", out.FlowKind)
	}
	if len(out.SuggestedTools) == 0 {
		t.Error("expected at least one suggested tool")
	}
}
