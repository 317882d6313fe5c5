package report

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"deltar/domain/reservoir"
)

// sparkline levels, lowest first
var levels = []rune(" ▁▂▃▄▅▆▇█")

// Renderer draws batch results as markdown text charts. It never modifies its inputs.
type Renderer struct {
	width int
	bins  int
}

// NewRenderer creates a renderer. width is the plot width in characters and bins the
// number of histogram bins; non-positive values select 60 and 24.
func NewRenderer(width, bins int) *Renderer {
	if width <= 0 {
		width = 60
	}
	if bins <= 0 {
		bins = 24
	}
	return &Renderer{width: width, bins: bins}
}

// ErrorBars renders every column's median and interval on a shared axis, ordered by median
func (r *Renderer) ErrorBars(result *reservoir.BatchResult) (string, error) {
	if err := checkResult(result); err != nil {
		return "", err
	}

	rows := make([]reservoir.StatisticsRow, len(result.Statistics))
	copy(rows, result.Statistics)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Median < rows[j].Median })

	lo, hi := math.Inf(1), math.Inf(-1)
	label := 0
	for _, row := range rows {
		lo = math.Min(lo, row.CILow)
		hi = math.Max(hi, row.CIHigh)
		label = max(label, len(row.ID))
	}
	scale := newAxis(lo, hi, r.width)

	var b strings.Builder
	fmt.Fprintf(&b, "### Offset medians and %.0f%% intervals\n\n", result.Confidence*100)
	b.WriteString("```\n")
	for _, row := range rows {
		line := []rune(strings.Repeat(" ", r.width))
		from, to, mid := scale.pos(row.CILow), scale.pos(row.CIHigh), scale.pos(row.Median)
		for i := from; i <= to; i++ {
			line[i] = '─'
		}
		line[from], line[to] = '├', '┤'
		line[mid] = '●'
		fmt.Fprintf(&b, "%-*s │%s│ %8.1f [%.1f, %.1f]\n", label, row.ID, string(line), row.Median, row.CILow, row.CIHigh)
	}
	fmt.Fprintf(&b, "%-*s  %-*.1f%*.1f\n", label, "", r.width/2, lo, r.width-r.width/2, hi)
	b.WriteString("```\n")
	return b.String(), nil
}

// Densities renders one density strip per column over shared bins, so the strips overlay
func (r *Renderer) Densities(result *reservoir.BatchResult) (string, error) {
	if err := checkResult(result); err != nil {
		return "", err
	}
	if len(result.Draws) == 0 {
		return "", reservoir.NewValidationError("result", "no offset draws to plot")
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	label := 0
	for _, d := range result.Draws {
		if len(d.Sample) == 0 {
			return "", reservoir.NewValidationError("result", fmt.Sprintf("column %q has no draws", d.ID))
		}
		lo = math.Min(lo, floats.Min(d.Sample))
		hi = math.Max(hi, floats.Max(d.Sample))
		label = max(label, len(d.ID))
	}
	dividers := r.dividers(lo, hi)

	densities := make([][]float64, len(result.Draws))
	peak := 0.0
	for i, d := range result.Draws {
		densities[i] = density(d.Sample, dividers)
		peak = math.Max(peak, floats.Max(densities[i]))
	}

	var b strings.Builder
	b.WriteString("### Offset densities\n\n```\n")
	for i, d := range result.Draws {
		strip := make([]rune, len(densities[i]))
		for k, v := range densities[i] {
			strip[k] = levels[int(math.Round(v/peak*float64(len(levels)-1)))]
		}
		fmt.Fprintf(&b, "%-*s │%s│\n", label, d.ID, string(strip))
	}
	fmt.Fprintf(&b, "%-*s  %-*.1f%*.1f\n", label, "", r.bins/2, lo, r.bins-r.bins/2, hi)
	b.WriteString("```\n")
	return b.String(), nil
}

// Histogram renders one offset sample with the expected counts of its fitted normal law
func (r *Renderer) Histogram(id string, sample reservoir.OffsetSample, stats reservoir.OffsetStatistics) (string, error) {
	if len(sample) == 0 {
		return "", reservoir.NewValidationError("sample", fmt.Sprintf("%q has no draws", id))
	}

	dividers := r.dividers(floats.Min(sample), floats.Max(sample))
	counts := histogram(sample, dividers)

	expected := make([]float64, len(counts))
	if stats.SD > 0 {
		fit := distuv.Normal{Mu: stats.Mean, Sigma: stats.SD}
		for k := range expected {
			expected[k] = float64(len(sample)) * (fit.CDF(dividers[k+1]) - fit.CDF(dividers[k]))
		}
	}
	top := math.Max(floats.Max(counts), floats.Max(expected))

	var b strings.Builder
	fmt.Fprintf(&b, "### %s\n\n", id)
	b.WriteString("| mean | median | sd | interval | KS p-value |\n|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %.1f | %.1f | %.1f | %.1f to %.1f | %.3g |\n\n", stats.Mean, stats.Median, stats.SD, stats.CILow, stats.CIHigh, stats.PValue)
	b.WriteString("```\n")
	for k, c := range counts {
		bar := []rune(strings.Repeat("█", int(math.Round(c/top*float64(r.width)))))
		bar = append(bar, []rune(strings.Repeat(" ", r.width-len(bar)+1))...)
		if stats.SD > 0 {
			// the fitted normal is drawn as a marker over the bars
			bar[int(math.Round(expected[k]/top*float64(r.width)))] = '┊'
		}
		fmt.Fprintf(&b, "%9.1f │%s %d\n", (dividers[k]+dividers[k+1])/2, string(bar), int(c))
	}
	b.WriteString("```\n")
	return b.String(), nil
}

// Document assembles a complete markdown report for a batch
func (r *Renderer) Document(result *reservoir.BatchResult) (string, error) {
	bars, err := r.ErrorBars(result)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Delta R batch %s\n\n", result.RunID)
	fmt.Fprintf(&b, "Method **%s**", result.Method)
	if result.Mode != "" {
		fmt.Fprintf(&b, " (calibration %s)", result.Mode)
	}
	fmt.Fprintf(&b, ", %d iterations, seed %d.\n\n", result.Iterations, result.Seed)

	b.WriteString("| id | mean | median | sd | low | high | KS p |\n|---|---|---|---|---|---|---|\n")
	for _, row := range result.Statistics {
		fmt.Fprintf(&b, "| %s | %.1f | %.1f | %.1f | %.1f | %.1f | %.3g |\n", row.ID, row.Mean, row.Median, row.SD, row.CILow, row.CIHigh, row.PValue)
	}
	b.WriteString("\n")
	b.WriteString(bars)

	if len(result.Draws) > 0 {
		dens, err := r.Densities(result)
		if err != nil {
			return "", err
		}
		b.WriteString("\n")
		b.WriteString(dens)
		for _, d := range result.Draws {
			stats, _, _ := result.Lookup(d.ID)
			hist, err := r.Histogram(d.ID, d.Sample, stats)
			if err != nil {
				return "", err
			}
			b.WriteString("\n")
			b.WriteString(hist)
		}
	}
	return b.String(), nil
}

// HTML converts a markdown report into a standalone HTML page
func HTML(md string, title string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	doc := p.Parse([]byte(md))
	renderer := html.NewRenderer(html.RendererOptions{
		Title: title,
		Flags: html.CommonFlags | html.CompletePage,
	})
	return markdown.Render(doc, renderer)
}

func checkResult(result *reservoir.BatchResult) error {
	if result == nil || len(result.Statistics) == 0 {
		return reservoir.NewValidationError("result", "no statistics to plot")
	}
	return nil
}

// dividers spans [lo, hi] with the renderer's bin count; the top edge is nudged up so the
// maximum falls inside the last bin
func (r *Renderer) dividers(lo, hi float64) []float64 {
	if hi <= lo {
		hi = lo + 1
	}
	return floats.Span(make([]float64, r.bins+1), lo, math.Nextafter(hi, math.Inf(1)))
}

func histogram(sample reservoir.OffsetSample, dividers []float64) []float64 {
	sorted := make([]float64, len(sample))
	copy(sorted, sample)
	sort.Float64s(sorted)
	return stat.Histogram(nil, dividers, sorted, nil)
}

func density(sample reservoir.OffsetSample, dividers []float64) []float64 {
	counts := histogram(sample, dividers)
	width := dividers[1] - dividers[0]
	floats.Scale(1/(float64(len(sample))*width), counts)
	return counts
}

// axis maps values onto character columns [0, width)
type axis struct {
	lo, hi float64
	width  int
}

func newAxis(lo, hi float64, width int) axis {
	if hi <= lo {
		hi = lo + 1
	}
	return axis{lo: lo, hi: hi, width: width}
}

func (a axis) pos(v float64) int {
	p := int(math.Round((v - a.lo) / (a.hi - a.lo) * float64(a.width-1)))
	return min(max(p, 0), a.width-1)
}
