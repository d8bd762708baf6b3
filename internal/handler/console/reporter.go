package console

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"ChainPulse/internal/domain/models"
	xlogger "ChainPulse/pkg/logger"
	"ChainPulse/pkg/util"
)

const rule = "=============================================================="

// Reporter prints cycle progress to a terminal, or NDJSON events for a parent process.
type Reporter struct {
	mu     sync.Mutex
	out    io.Writer
	events bool
	logger *xlogger.Logger
}

func NewReporter(out io.Writer, events bool, logger *xlogger.Logger) *Reporter {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &Reporter{out: out, events: events, logger: logger.Component("console")}
}

// Event is one NDJSON line in event mode.
type Event struct {
	Event   string               `json:"event"`
	RunID   string               `json:"run_id"`
	Cycle   int                  `json:"cycle"`
	At      time.Time            `json:"at"`
	Summary *models.CycleSummary `json:"summary,omitempty"`
}

func (r *Reporter) CycleStarted(runID string, cycle int, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events {
		r.emit(Event{Event: "cycle_started", RunID: runID, Cycle: cycle, At: at})
		return
	}
	fmt.Fprintf(r.out, "\n%s\nCYCLE #%d  run %s  %s IST\n%s\n",
		rule, cycle, runID, at.In(util.IST).Format(time.DateTime), rule)
}

func (r *Reporter) CycleFinished(s models.CycleSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events {
		r.emit(Event{Event: "cycle_finished", RunID: s.RunID, Cycle: s.Cycle, At: s.FinishedAt, Summary: &s})
		return
	}
	r.render(s)
}

func (r *Reporter) emit(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("encode event failed", xlogger.String("event", ev.Event), xlogger.Error(err))
		return
	}
	b = append(b, '\n')
	if _, err := r.out.Write(b); err != nil {
		r.logger.Warn("write event failed", xlogger.Error(err))
	}
}

func (r *Reporter) render(s models.CycleSummary) {
	fmt.Fprintf(r.out, "Processed: %s\n", strings.Join(processed(s), ", "))

	for _, idx := range s.Indices {
		for _, b := range idx.Buckets {
			r.bucketTable(b)
		}
	}

	if len(s.Stocks) > 0 {
		fmt.Fprintln(r.out, "\nStocks:")
		for _, st := range s.Stocks {
			fmt.Fprintln(r.out, "  "+StockLine(st))
		}
	}
	for _, sk := range s.Skipped {
		fmt.Fprintf(r.out, "  skipped %s: %s\n", sk.Symbol, sk.Reason)
	}
	if len(s.Packets) > 0 {
		fmt.Fprintf(r.out, "Packets: %s\n", strings.Join(s.Packets, ", "))
	}
	if s.EODPath != "" {
		fmt.Fprintf(r.out, "EOD state: %s\n", s.EODPath)
	}
	fmt.Fprintf(r.out, "Cycle #%d done in %s\n", s.Cycle, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
}

func processed(s models.CycleSummary) []string {
	names := make([]string, 0, len(s.Indices)+len(s.Stocks))
	for _, idx := range s.Indices {
		names = append(names, idx.Symbol)
	}
	for _, st := range s.Stocks {
		names = append(names, st.Symbol)
	}
	if len(names) == 0 {
		names = append(names, "none")
	}
	return names
}

func (r *Reporter) bucketTable(b models.BucketSnapshot) {
	fmt.Fprintf(r.out, "\n%s %s  expiry %s  spot %.2f\n",
		b.Symbol, strings.ToUpper(string(b.Bucket)), b.Expiry.Format(time.DateOnly), b.Spot)

	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "STRIKE\tCE OI\tCE CHG\tCE LTP\tPE LTP\tPE CHG\tPE OI\tCHG DIFF\t")
	for _, row := range b.Window {
		marker := ""
		if row.Strike == b.Metrics.ATMStrike {
			marker = "*"
		}
		fmt.Fprintf(tw, "%d%s\t%d\t%d\t%.2f\t%.2f\t%d\t%d\t%d\t\n",
			row.Strike, marker, row.CE.OI, row.CE.ChangeOI, row.CE.LTP,
			row.PE.LTP, row.PE.ChangeOI, row.PE.OI, row.ChgOIDiff)
	}
	_ = tw.Flush()

	for _, line := range MetricLines(b.Metrics) {
		fmt.Fprintln(r.out, "  "+line)
	}
}

// MetricLines summarizes aggregate metrics; undefined values print as n/a.
func MetricLines(m models.AggregateMetrics) []string {
	lines := []string{
		fmt.Sprintf("PCR OI %s  PCR Vol %s  ATM zone PCR %s",
			ratio(m.OIPCR, m.HasFlag(models.FlagOIPCRUndefined)),
			ratio(m.VolumePCR, m.HasFlag(models.FlagVolumePCRUndefined)),
			ratio(m.ATMZonePCR, m.HasFlag(models.FlagATMZonePCRUndefined))),
		fmt.Sprintf("CE OI chg %+d (%+.2f%%)  PE OI chg %+d (%+.2f%%)",
			m.TotalCEOIChange, m.TotalCEOIChangePct, m.TotalPEOIChange, m.TotalPEOIChangePct),
	}

	pivot := "n/a"
	if m.PivotDefined {
		pivot = fmt.Sprintf("%.2f", m.WeightedPivot)
	}
	lines = append(lines, fmt.Sprintf("ATM %d  straddle %.2f  pivot %s  resistance %s  support %s",
		m.ATMStrike, m.ATMStraddle, pivot, level(m.Resistance), level(m.Support)))

	if ws := m.EfficientWriters(); len(ws) > 0 {
		parts := make([]string, 0, len(ws))
		for _, w := range ws {
			parts = append(parts, fmt.Sprintf("%d%s %.2f", w.Strike, w.Leg, w.Efficiency))
		}
		lines = append(lines, "efficient writers: "+strings.Join(parts, ", "))
	}
	return lines
}

func ratio(v float64, undefined bool) string {
	if undefined {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}

func level(strike int64) string {
	if strike == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", strike)
}

// StockLine is either the verdict line of an emitted classification or the ignored line.
func StockLine(st models.StockSummary) string {
	v := st.Evaluation
	if !st.Emitted {
		return fmt.Sprintf("%-12s ignored (%s, %.0f%%)", st.Symbol, v.Label, v.Confidence)
	}
	line := fmt.Sprintf("%-12s %s %.0f%%  net %+.1f  price %.2f", st.Symbol, v.Label, v.Confidence, v.NetScore, st.Price)
	if v.Reversal != models.ReversalNone {
		line += "  reversal " + string(v.Reversal)
	}
	if st.NewDiscovery {
		line += "  NEW"
	}
	return line
}
