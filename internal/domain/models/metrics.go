package models

// Metric flags tag sentinel values produced by zero denominators or empty filters.
const (
	FlagOIPCRUndefined       = "oi_pcr_undefined"
	FlagVolumePCRUndefined   = "volume_pcr_undefined"
	FlagPivotDenominatorZero = "pivot_denominator_zero"
	FlagNoResistance         = "no_resistance"
	FlagNoSupport            = "no_support"
	FlagEmptyWindow          = "empty_window"
	FlagATMZonePCRUndefined  = "atm_zone_pcr_undefined"
)

// WriterActivity is the writer-efficiency reading of one leg at one strike.
type WriterActivity struct {
	Strike     int64   `json:"strike"`
	Leg        string  `json:"leg"`
	Efficiency float64 `json:"efficiency"`
	Efficient  bool    `json:"efficient"`
}

// AggregateMetrics are per-bucket aggregates over the selected strike window.
// A PCR of 0.0 means undefined, never extreme.
type AggregateMetrics struct {
	TotalCEOI     int64 `json:"total_ce_oi"`
	TotalPEOI     int64 `json:"total_pe_oi"`
	TotalCEVolume int64 `json:"total_ce_volume"`
	TotalPEVolume int64 `json:"total_pe_volume"`

	TotalCEOIChange    int64   `json:"total_ce_oi_change"`
	TotalCEOIChangePct float64 `json:"total_ce_oi_change_pct"`
	TotalPEOIChange    int64   `json:"total_pe_oi_change"`
	TotalPEOIChangePct float64 `json:"total_pe_oi_change_pct"`
	OIPCR              float64 `json:"oi_pcr"`
	VolumePCR          float64 `json:"volume_pcr"`

	WeightedPivot float64 `json:"weighted_pivot"`
	PivotDefined  bool    `json:"pivot_defined"`

	ATMStrike   int64   `json:"atm_strike"`
	ATMZonePCR  float64 `json:"atm_zone_pcr"`
	ATMStraddle float64 `json:"atm_straddle"`

	Resistance int64 `json:"resistance,omitempty"`
	Support    int64 `json:"support,omitempty"`

	Writers []WriterActivity `json:"writers,omitempty"`
	Flags   []string         `json:"flags,omitempty"`
}

// HasFlag reports whether flag was raised.
func (m AggregateMetrics) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// EfficientWriters returns only the activities tagged efficient.
func (m AggregateMetrics) EfficientWriters() []WriterActivity {
	var out []WriterActivity
	for _, w := range m.Writers {
		if w.Efficient {
			out = append(out, w)
		}
	}
	return out
}
