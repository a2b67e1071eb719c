package prometheus

import (
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/lexguard"
	"github.com/MrEthical07/lexguard/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

// PrometheusExporter renders engine metrics in the Prometheus text format.
type PrometheusExporter struct {
	source internaldefs.Source
}

// NewPrometheusExporter creates an exporter that reads from engine.
func NewPrometheusExporter(engine *lexguard.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource creates an exporter over any source.
func NewPrometheusExporterFromSource(source internaldefs.Source) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves the current metrics.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = io.WriteString(w, p.Render())
	})
}

// Render returns the exposition text for one collection.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	var b strings.Builder
	for _, f := range internaldefs.Collect(p.source) {
		writeFamily(&b, f)
	}
	return b.String()
}

func writeFamily(b *strings.Builder, f internaldefs.Family) {
	b.WriteString("# HELP " + f.Name + " " + escapeHelp(f.Help) + "\n")
	b.WriteString("# TYPE " + f.Name + " " + string(f.Kind) + "\n")
	for _, s := range f.Samples {
		b.WriteString(f.Name)
		b.WriteString(s.Suffix)
		if s.LE != "" {
			b.WriteString(`{le="` + s.LE + `"}`)
		}
		b.WriteByte(' ')
		b.WriteString(formatValue(s.Value))
		b.WriteByte('\n')
	}
}

// formatValue prints whole numbers without an exponent so large counters
// stay readable.
func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func escapeHelp(help string) string {
	return strings.NewReplacer(`\`, `\\`, "\n", `\n`).Replace(help)
}
