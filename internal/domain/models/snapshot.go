package models

import "time"

// BucketSnapshot is one processed expiry bucket of one symbol within a cycle.
type BucketSnapshot struct {
	Symbol  string           `json:"symbol"`
	Kind    ChainKind        `json:"kind"`
	Bucket  BucketTag        `json:"bucket"`
	Expiry  time.Time        `json:"expiry"`
	Spot    float64          `json:"spot"`
	Window  []StrikeRow      `json:"window"`
	Stored  []StrikeRow      `json:"-"`
	Metrics AggregateMetrics `json:"metrics"`
	// History holds recent chg_oi_diff values per strike, newest first.
	History map[int64][]int64 `json:"history,omitempty"`
}

// SymbolSnapshot groups the buckets of one index symbol.
type SymbolSnapshot struct {
	Symbol    string           `json:"symbol"`
	Spot      float64          `json:"spot"`
	FetchedAt time.Time        `json:"fetched_at"`
	Buckets   []BucketSnapshot `json:"buckets"`
}

// Bucket returns the snapshot for tag, if processed.
func (s SymbolSnapshot) Bucket(tag BucketTag) (BucketSnapshot, bool) {
	for _, b := range s.Buckets {
		if b.Bucket == tag {
			return b, true
		}
	}
	return BucketSnapshot{}, false
}

// StockSummary is the per-equity outcome of a cycle.
type StockSummary struct {
	Symbol       string           `json:"symbol"`
	DisplayName  string           `json:"display_name"`
	Weight       float64          `json:"weight"`
	Price        float64          `json:"price"`
	Expiry       time.Time        `json:"expiry"`
	Metrics      AggregateMetrics `json:"metrics"`
	Evaluation   TrendVerdict     `json:"evaluation"`
	Emitted      bool             `json:"emitted"`
	NewDiscovery bool             `json:"new_discovery"`
}

// SkippedSymbol records why a symbol produced no output in a cycle.
type SkippedSymbol struct {
	Symbol string `json:"symbol"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// VerdictEvent is an emitted verdict, published before the packet is built.
type VerdictEvent struct {
	RunID        string       `json:"run_id"`
	Cycle        int          `json:"cycle"`
	Symbol       string       `json:"symbol"`
	Date         string       `json:"date"`
	Time         string       `json:"time"`
	Verdict      TrendVerdict `json:"verdict"`
	NewDiscovery bool         `json:"new_discovery"`
}

// CycleSummary is the outcome of one orchestrator cycle.
type CycleSummary struct {
	RunID      string           `json:"run_id"`
	Cycle      int              `json:"cycle"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Indices    []SymbolSnapshot `json:"indices"`
	Stocks     []StockSummary   `json:"stocks"`
	Skipped    []SkippedSymbol  `json:"skipped,omitempty"`
	Verdicts   []VerdictEvent   `json:"verdicts,omitempty"`
	Packets    []string         `json:"packets,omitempty"`
	EODPath    string           `json:"eod_path,omitempty"`
}

// Index returns the snapshot for an index symbol.
func (c CycleSummary) Index(symbol string) (SymbolSnapshot, bool) {
	for _, s := range c.Indices {
		if s.Symbol == symbol {
			return s, true
		}
	}
	return SymbolSnapshot{}, false
}
