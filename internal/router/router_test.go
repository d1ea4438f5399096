package router

import (
	"errors"
	"testing"
	"time"

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
		"extraction_agent": {
			Tags:     []string{"extract"},
			Keywords: []string{"invoice", "vendor"},
		},
	})
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	return idx
}

func TestRoute_PlotLastNWeeks(t *testing.T) {
	r := New(testIndex(t))
	currentWeek, err := ParseISOWeek("2024-W20")
	if err != nil {
		t.Fatalf("ParseISOWeek: %v", err)
	}
	flow, ctx, _, err := r.Route(
		model.Query{Text: "Plot sales for the last 4 weeks"},
		Options{CurrentWeek: currentWeek},
	)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if flow != model.FlowPlot {
		t.Fatalf("flow = %v, want plot", flow)
	}
	if ctx.WeekCount == nil || *ctx.WeekCount != 4 {
		t.Fatalf("WeekCount = %v, want 4", ctx.WeekCount)
	}
	if ctx.WeekRange == nil || ctx.WeekRange.Lo != "2024-W17" || ctx.WeekRange.Hi != "2024-W20" {
		t.Fatalf("WeekRange = %+v, want (2024-W17, 2024-W20)", ctx.WeekRange)
	}
}

func TestRoute_PDFTrackingHappyPath(t *testing.T) {
	r := New(testIndex(t))
	flow, ctx, _, err := r.Route(
		model.Query{Text: "Extract this invoice", FilePath: "/p/inv.pdf"},
		Options{},
	)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if flow != model.FlowPDFTracking {
		t.Fatalf("flow = %v, want pdf_tracking", flow)
	}
	if ctx.FilePath != "/p/inv.pdf" {
		t.Fatalf("FilePath = %q", ctx.FilePath)
	}
}

func TestRoute_OutletAndProductFilter(t *testing.T) {
	r := New(testIndex(t))
	flow, ctx, _, err := r.Route(
		model.Query{Text: "show widget sales for outlet 42 over last 2 weeks"},
		Options{CurrentWeek: time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)},
	)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if flow != model.FlowPlot {
		t.Fatalf("flow = %v, want plot", flow)
	}
	if ctx.OutletID == nil || *ctx.OutletID != 42 {
		t.Fatalf("OutletID = %v, want 42", ctx.OutletID)
	}
	if ctx.ProductFilter != "widget" {
		t.Fatalf("ProductFilter = %q, want widget", ctx.ProductFilter)
	}
	if ctx.WeekCount == nil || *ctx.WeekCount != 2 {
		t.Fatalf("WeekCount = %v, want 2", ctx.WeekCount)
	}
}

func TestRoute_Ambiguous(t *testing.T) {
	r := New(testIndex(t))
	_, _, _, err := r.Route(model.Query{Text: "hello there"}, Options{})
	if !errors.Is(err, model.ErrAmbiguousFlow) {
		t.Fatalf("err = %v, want ErrAmbiguousFlow", err)
	}
}

func TestRoute_Deterministic(t *testing.T) {
	r := New(testIndex(t))
	q := model.Query{Text: "Plot sales for the last 4 weeks"}
	opts := Options{CurrentWeek: time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)}

	flow1, ctx1, _, err := r.Route(q, opts)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	flow2, ctx2, _, err := r.Route(q, opts)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if flow1 != flow2 {
		t.Errorf("flow not stable: %v != %v", flow1, flow2)
	}
	if *ctx1.WeekCount != *ctx2.WeekCount || ctx1.WeekRange.Lo != ctx2.WeekRange.Lo || ctx1.WeekRange.Hi != ctx2.WeekRange.Hi {
		t.Errorf("context not stable: %+v != %+v", ctx1, ctx2)
	}
}

func TestFormatAndParseISOWeek_RoundTrip(t *testing.T) {
	cases := []string{"2024-W01", "2024-W20", "2024-W52", "2023-W01"}
	for _, tok := range cases {
		parsed, err := ParseISOWeek(tok)
		if err != nil {
			t.Fatalf("ParseISOWeek(%s): %v", tok, err)
		}
		got := FormatISOWeek(parsed)
		if got != tok {
			t.Errorf("round trip %s -> %s, want %s", tok, got, tok)
		}
	}
}

func TestRoute_ExplicitISOWeekTokens(t *testing.T) {
	r := New(testIndex(t))
	_, ctx, _, err := r.Route(
		model.Query{Text: "Plot trend from 2024-W10 to 2024-W15"},
		Options{},
	)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if ctx.WeekRange == nil || ctx.WeekRange.Lo != "2024-W10" || ctx.WeekRange.Hi != "2024-W15" {
		t.Fatalf("WeekRange = %+v, want (2024-W10, 2024-W15)", ctx.WeekRange)
	}
}
