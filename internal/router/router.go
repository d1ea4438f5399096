// Package router classifies a Query into a Flow Kind and extracts
// structured Context from it, using the Capability Index's tags and
// keyword patterns to score candidate flows.
package router

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Kunal-debug-png/GoComet/internal/capability"
	"github.com/Kunal-debug-png/GoComet/internal/model"
)

var plotKeywords = []string{"plot", "chart", "graph", "trend", "visualize", "show"}

var pdfKeywords = []string{"invoice", "tracking", "extract", "vendor"}

var (
	lastNPattern    = regexp.MustCompile(`(?i)last\s+(\d+)\s+(week|weeks|month|months)`)
	outletPattern   = regexp.MustCompile(`(?i)outlet\s+(\d+)`)
	isoWeekPattern  = regexp.MustCompile(`(\d{4})-W(\d{2})`)
	tokenSplitRegex = regexp.MustCompile(`[^a-zA-Z0-9]+`)
)

// knownProducts is the recognized product vocabulary for `for (widget|...)`
// extraction. spec.md's pattern names "widget" as its one worked example;
// a real deployment would source this list from the Capability Index or a
// product catalog rather than hard-coding it, but nothing in scope wires
// that catalog, so the vocabulary is kept here.
var knownProducts = []string{"widget"}

func buildProductPattern() *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(` + strings.Join(knownProducts, "|") + `)\b`)
}

var productPattern = buildProductPattern()

// Router maps queries to flows and context using a loaded Capability
// Index for keyword/tag scoring.
type Router struct {
	idx *capability.Index
}

// New returns a Router that scores candidate flows against idx.
func New(idx *capability.Index) *Router {
	return &Router{idx: idx}
}

// Options configures a single Route call. CurrentWeek lets callers pin
// "now" for deterministic testing; the zero value means "use time.Now()".
type Options struct {
	CurrentWeek time.Time
}

func tokenize(text string) []string {
	lower := strings.ToLower(text)
	fields := tokenSplitRegex.Split(lower, -1)
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func matchAny(tokens []string, keywords []string) bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	for _, kw := range keywords {
		if set[kw] {
			return true
		}
	}
	return false
}

// keywordToolsMatch reports whether any tool tagged with tag has a
// keyword pattern matching text, and returns the matching tool names.
func (r *Router) keywordToolsMatch(text string, tag string) []string {
	if r.idx == nil {
		return nil
	}
	var matched []string
	for _, t := range r.idx.WithTags(tag) {
		tool, ok := r.idx.ByName(t)
		if !ok {
			continue
		}
		for _, re := range tool.Keywords {
			if re.MatchString(text) {
				matched = append(matched, tool.Name)
				break
			}
		}
	}
	return matched
}

// Route classifies query into a flow and extracts its Context. The
// suggested_tools return value seeds dynamic-flow synthesis.
func (r *Router) Route(q model.Query, opts Options) (model.FlowKind, model.Context, []string, error) {
	tokens := tokenize(q.Text)

	plotMatch := matchAny(tokens, plotKeywords)
	plotTools := r.keywordToolsMatch(q.Text, "plot")
	pdfMatch := matchAny(tokens, pdfKeywords)
	isPDFFile := strings.HasSuffix(strings.ToLower(q.FilePath), ".pdf")

	scorePlot := 0
	if plotMatch {
		scorePlot++
	}
	if len(plotTools) > 0 {
		scorePlot++
	}
	scorePDF := 0
	if pdfMatch {
		scorePDF++
	}
	if isPDFFile {
		scorePDF++
	}

	ctx := extractContext(q, opts)
	hasExtractedContext := ctx.OutletID != nil || ctx.WeekCount != nil || ctx.MonthCount != nil || ctx.ProductFilter != ""

	var flow model.FlowKind
	switch {
	case scorePDF > scorePlot:
		flow = model.FlowPDFTracking
	case scorePlot > scorePDF:
		flow = model.FlowPlot
	case scorePlot > 0: // tie, both scores equal and positive
		if q.FilePath != "" {
			flow = model.FlowPDFTracking
		} else {
			flow = model.FlowPlot
		}
	case q.FilePath != "":
		flow = model.FlowPDFTracking
	case hasExtractedContext:
		flow = model.FlowDynamic
	default:
		return "", model.Context{}, nil, model.ErrAmbiguousFlow
	}

	var suggested []string
	suggested = append(suggested, plotTools...)
	suggested = append(suggested, r.keywordToolsMatch(q.Text, "extract")...)
	return flow, ctx, suggested, nil
}

func extractContext(q model.Query, opts Options) model.Context {
	ctx := model.Context{FilePath: q.FilePath}

	if m := lastNPattern.FindStringSubmatch(q.Text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			unit := strings.ToLower(m[2])
			if strings.HasPrefix(unit, "week") {
				ctx.WeekCount = &n
			} else {
				ctx.MonthCount = &n
			}
		}
	}

	if m := outletPattern.FindStringSubmatch(q.Text); m != nil {
		id, err := strconv.Atoi(m[1])
		if err == nil {
			ctx.OutletID = &id
		}
	}

	if m := productPattern.FindStringSubmatch(q.Text); m != nil {
		ctx.ProductFilter = m[1]
	}

	if m := isoWeekPattern.FindAllStringSubmatch(q.Text, -1); len(m) > 0 {
		lo := m[0][0]
		hi := m[len(m)-1][0]
		ctx.WeekRange = &model.WeekRange{Lo: lo, Hi: hi}
	} else if ctx.WeekCount != nil {
		current := opts.CurrentWeek
		if current.IsZero() {
			current = time.Now()
		}
		ctx.WeekRange = weekRangeFromCount(current, *ctx.WeekCount)
	}

	return ctx
}

// weekRangeFromCount returns the inclusive ISO week range ending at
// current's ISO week and spanning n weeks back (n-1 weeks before it).
func weekRangeFromCount(current time.Time, n int) *model.WeekRange {
	if n <= 0 {
		n = 1
	}
	hi := FormatISOWeek(current)
	lo := FormatISOWeek(current.AddDate(0, 0, -7*(n-1)))
	return &model.WeekRange{Lo: lo, Hi: hi}
}

// FormatISOWeek formats t as an ISO-8601 "YYYY-Www" token.
func FormatISOWeek(t time.Time) string {
	year, week := t.ISOWeek()
	return strconv.Itoa(year) + "-W" + pad2(week)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// ParseISOWeek parses a "YYYY-Www" token into the Monday date of that
// ISO-8601 week.
func ParseISOWeek(s string) (time.Time, error) {
	m := regexp.MustCompile(`^(\d{4})-W(\d{2})$`).FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, errors.New("router: malformed iso week token " + s)
	}
	year, _ := strconv.Atoi(m[1])
	week, _ := strconv.Atoi(m[2])
	// Jan 4th is always in week 1 of its year (ISO-8601 rule).
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := int(jan4.Weekday())
	if offset == 0 {
		offset = 7
	}
	week1Monday := jan4.AddDate(0, 0, -(offset - 1))
	return week1Monday.AddDate(0, 0, (week-1)*7), nil
}
