package prometheus

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/metrics/export/internaldefs"
)

// Source is what the exporter reads on every scrape. *goAccount.Engine
// implements it.
type Source interface {
	MetricsSnapshot() goAccount.MetricsSnapshot
	AuditDropped() uint64
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithHealthCheck adds a goaccount_backend_up gauge fed by check, usually
// Engine.Ping. Each scrape runs check with timeout.
func WithHealthCheck(check func(context.Context) error, timeout time.Duration) Option {
	return func(e *Exporter) {
		e.health = check
		e.healthTimeout = timeout
	}
}

// Exporter serves engine metrics in the Prometheus text format.
type Exporter struct {
	source        Source
	health        func(context.Context) error
	healthTimeout time.Duration
}

// New returns an exporter reading snapshots from source on every scrape.
func New(source Source, opts ...Option) *Exporter {
	e := &Exporter{source: source, healthTimeout: time.Second}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_, _ = e.WriteTo(r.Context(), w)
}

// Render returns the exposition text, or "" when metrics are disabled.
func (e *Exporter) Render(ctx context.Context) string {
	var buf bytes.Buffer
	_, _ = e.WriteTo(ctx, &buf)
	return buf.String()
}

// WriteTo writes one exposition to w.
func (e *Exporter) WriteTo(ctx context.Context, w io.Writer) (int64, error) {
	if e == nil || e.source == nil {
		return 0, nil
	}
	snapshot := e.source.MetricsSnapshot()
	dropped := e.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 && e.health == nil {
		return 0, nil
	}

	cw := &countingWriter{w: bufio.NewWriter(w)}
	for _, def := range internaldefs.CounterDefs {
		writeMetric(cw, def.Name, def.Help, "counter", snapshot.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID]))
		writeHistogram(cw, def, cumulative)
	}
	writeMetric(cw, "goaccount_audit_dropped_total", "Audit events dropped because the dispatcher buffer was full.", "counter", dropped)

	if e.health != nil {
		up := uint64(1)
		hctx, cancel := context.WithTimeout(ctx, e.healthTimeout)
		if err := e.health(hctx); err != nil {
			up = 0
		}
		cancel()
		writeMetric(cw, "goaccount_backend_up", "Whether the persistence backend answered the last health check.", "gauge", up)
	}

	if err := cw.w.Flush(); err != nil {
		return cw.n, err
	}
	return cw.n, cw.err
}

type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) printf(format string, args ...any) {
	if c.err != nil {
		return
	}
	n, err := fmt.Fprintf(c.w, format, args...)
	c.n += int64(n)
	c.err = err
}

func writeMetric(w *countingWriter, name, help, kind string, value uint64) {
	w.printf("# HELP %s %s\n# TYPE %s %s\n%s %d\n", name, escapeHelp(help), name, kind, name, value)
}

func writeHistogram(w *countingWriter, def internaldefs.HistogramDef, cumulative [8]uint64) {
	w.printf("# HELP %s %s\n# TYPE %s histogram\n", def.Name, escapeHelp(def.Help), def.Name)
	for i, le := range internaldefs.HistogramBounds {
		w.printf("%s_bucket{le=%q} %d\n", def.Name, le, cumulative[i])
	}
	// The engine keeps bucket counts only, so _sum is always zero.
	w.printf("%s_sum 0\n%s_count %d\n", def.Name, def.Name, cumulative[len(cumulative)-1])
}

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

func escapeHelp(help string) string {
	return helpEscaper.Replace(help)
}
