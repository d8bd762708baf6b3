// Package packet renders the analysis packet handed to the LLM and the human sinks.
package packet

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/internal/domain/models"
	"ChainPulse/pkg/config"
	applogger "ChainPulse/pkg/logger"
	"ChainPulse/pkg/util"
)

// Query modes.
const (
	ModeSingle = "single"
	ModeMulti  = "multi"
	ModeBoth   = "both"

	ScopeAll = "ALL"
)

// Input is one cycle's worth of processed data.
type Input struct {
	Now     time.Time
	RunID   string
	Cycle   int
	Indices []models.SymbolSnapshot
	Stocks  []models.StockSummary
}

type Builder struct {
	rolePrompt string
	mode       string
	prefix     string
	ext        string
	log        *applogger.Logger
}

// NewBuilder loads the role prompt from cfg.RolePromptFile when set.
func NewBuilder(ai config.AIConfig, pc config.PacketConfig, log *applogger.Logger) (*Builder, error) {
	if log == nil {
		log = applogger.Nop()
	}
	prompt := DefaultRolePrompt
	if ai.RolePromptFile != "" {
		data, err := os.ReadFile(ai.RolePromptFile)
		if err != nil {
			return nil, fault.Config("load role prompt", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	mode := ai.AIQueryMode
	if mode == "" {
		mode = ModeSingle
	}
	return &Builder{
		rolePrompt: prompt,
		mode:       mode,
		prefix:     pc.Prefix,
		ext:        strings.TrimPrefix(pc.Extension, "."),
		log:        log.Component("packet"),
	}, nil
}

// Build returns the packets for the configured query mode. Combined comes first in "both".
func (b *Builder) Build(in Input) []models.Packet {
	if in.Now.IsZero() {
		in.Now = util.NowIST()
	}
	var out []models.Packet
	if b.mode == ModeSingle || b.mode == ModeBoth {
		out = append(out, b.render(in, ScopeAll, in.Indices, in.Stocks))
	}
	if b.mode == ModeMulti || b.mode == ModeBoth {
		for i, s := range in.Indices {
			var stocks []models.StockSummary
			if i == 0 {
				stocks = in.Stocks
			}
			out = append(out, b.render(in, s.Symbol, []models.SymbolSnapshot{s}, stocks))
		}
	}
	return out
}

func (b *Builder) render(in Input, scope string, indices []models.SymbolSnapshot, stocks []models.StockSummary) models.Packet {
	var sb strings.Builder
	now := in.Now.In(util.IST)

	fmt.Fprintf(&sb, "=== CURRENT DATA (%s IST, cycle %d) ===\n", now.Format("02-Jan-2006 15:04:05"), in.Cycle)
	if len(indices) == 0 {
		sb.WriteString("\nNo index data this cycle.\n")
	}
	for _, s := range indices {
		writeSymbol(&sb, s)
	}
	if len(stocks) > 0 {
		writeStocks(&sb, stocks)
	}

	p := models.Packet{
		ID:        uuid.NewString(),
		Scope:     scope,
		System:    b.rolePrompt,
		User:      sb.String(),
		CreatedAt: now,
	}
	p.Text = "=== ROLE ===\n" + p.System + "\n\n" + p.User
	return p
}

func writeSymbol(sb *strings.Builder, s models.SymbolSnapshot) {
	fmt.Fprintf(sb, "\n## %s  spot %.2f\n", s.Symbol, s.Spot)
	for _, bk := range s.Buckets {
		m := bk.Metrics
		fmt.Fprintf(sb, "\n### %s  expiry %s  ATM %d\n", bk.Bucket, bk.Expiry.In(util.IST).Format("02-Jan-2006"), m.ATMStrike)
		fmt.Fprintf(sb, "OI PCR %s  Volume PCR %s  ATM-zone PCR %s\n", pcr(m.OIPCR), pcr(m.VolumePCR), pcr(m.ATMZonePCR))
		fmt.Fprintf(sb, "CE OI chg %d (%.3f%%)  PE OI chg %d (%.3f%%)\n",
			m.TotalCEOIChange, m.TotalCEOIChangePct, m.TotalPEOIChange, m.TotalPEOIChangePct)
		if m.PivotDefined {
			fmt.Fprintf(sb, "Weighted pivot %.3f", m.WeightedPivot)
		} else {
			sb.WriteString("Weighted pivot n/a")
		}
		fmt.Fprintf(sb, "  Resistance %s  Support %s  ATM straddle %.2f\n", level(m.Resistance), level(m.Support), m.ATMStraddle)
		if w := m.EfficientWriters(); len(w) > 0 {
			parts := make([]string, len(w))
			for i, a := range w {
				parts[i] = fmt.Sprintf("%d%s %.3f", a.Strike, a.Leg, a.Efficiency)
			}
			fmt.Fprintf(sb, "Efficient writers: %s\n", strings.Join(parts, ", "))
		}
		if len(m.Flags) > 0 {
			fmt.Fprintf(sb, "Flags: %s\n", strings.Join(m.Flags, ", "))
		}
		sb.WriteString("\n")
		writeTable(sb, bk.Window, bk.History)
	}
}

// writeTable renders the strike window tab-aligned.
func writeTable(sb *strings.Builder, rows []models.StrikeRow, history map[int64][]int64) {
	tw := tabwriter.NewWriter(sb, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "STRIKE\tCE_OI\tCE_CHG_OI\tCE_VOL\tCE_LTP\tCE_IV\tPE_OI\tPE_CHG_OI\tPE_VOL\tPE_LTP\tPE_IV\tCHG_OI_DIFF\tHISTORY\t")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%.2f\t%.2f\t%d\t%d\t%d\t%.2f\t%.2f\t%d\t%s\t\n",
			r.Strike,
			r.CE.OI, r.CE.ChangeOI, r.CE.Volume, r.CE.LTP, r.CE.IV,
			r.PE.OI, r.PE.ChangeOI, r.PE.Volume, r.PE.LTP, r.PE.IV,
			r.ChgOIDiff, joinInts(history[r.Strike]))
	}
	_ = tw.Flush()
}

func writeStocks(sb *strings.Builder, stocks []models.StockSummary) {
	sb.WriteString("\n=== STOCKS SUMMARY ===\n")
	tw := tabwriter.NewWriter(sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tNAME\tWEIGHT\tPRICE\tOI_PCR\tVOL_PCR\tVERDICT\tCONFIDENCE\t")
	for _, s := range stocks {
		verdict := string(s.Evaluation.Label)
		if !s.Emitted {
			verdict = "ignored (" + verdict + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.2f\t%s\t%s\t%s\t%.2f%%\t\n",
			s.Symbol, s.DisplayName, s.Weight, s.Price,
			pcr(s.Metrics.OIPCR), pcr(s.Metrics.VolumePCR), verdict, s.Evaluation.Confidence)
	}
	_ = tw.Flush()
}

func pcr(v float64) string {
	if v == 0 {
		return "n/a"
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func level(strike int64) string {
	if strike == 0 {
		return "none"
	}
	return strconv.FormatInt(strike, 10)
}

func joinInts(vs []int64) string {
	if len(vs) == 0 {
		return "-"
	}
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, ",")
}

// FileName is <prefix>_<dd_mm_yyyy_hh_mm_ss>.<ext>.
func FileName(prefix string, t time.Time, ext string) string {
	return prefix + "_" + t.In(util.IST).Format("02_01_2006_15_04_05") + "." + ext
}

// Save writes p.Text under dir and records the path on p. Per-symbol packets carry
// the symbol in the prefix.
func (b *Builder) Save(dir string, p *models.Packet) (string, error) {
	prefix := b.prefix
	if p.Scope != ScopeAll && p.Scope != "" {
		prefix += "_" + p.Scope
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fault.Store("save packet", err)
	}
	path := filepath.Join(dir, FileName(prefix, p.CreatedAt, b.ext))
	if err := os.WriteFile(path, []byte(p.Text), 0o644); err != nil {
		return "", fault.Store("save packet", err)
	}
	p.Path = path
	b.log.Info("packet saved", applogger.String("path", path), applogger.String("scope", p.Scope),
		applogger.Int("bytes", len(p.Text)))
	return path, nil
}
