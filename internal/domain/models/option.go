package models

import "time"

// ChainKind selects the upstream endpoint and warm-up page.
type ChainKind string

const (
	KindIndex  ChainKind = "index"
	KindEquity ChainKind = "equity"
)

// BucketTag labels an expiry timeframe.
type BucketTag string

const (
	BucketCurrentWeek BucketTag = "current_week"
	BucketNextWeek    BucketTag = "next_week"
	BucketMonthly     BucketTag = "monthly"
)

// BucketOrder is the canonical iteration order for buckets.
var BucketOrder = []BucketTag{BucketCurrentWeek, BucketNextWeek, BucketMonthly}

// Valid reports whether b is one of the known tags.
func (b BucketTag) Valid() bool {
	switch b {
	case BucketCurrentWeek, BucketNextWeek, BucketMonthly:
		return true
	}
	return false
}

// Greeks are stored as delivered and never used for scoring.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// Leg is one side (CE or PE) of a strike.
type Leg struct {
	OI       int64   `json:"oi"`
	ChangeOI int64   `json:"change_oi"`
	Volume   int64   `json:"volume"`
	LTP      float64 `json:"ltp"`
	IV       float64 `json:"iv"`
	Greeks   Greeks  `json:"greeks"`
}

// StrikeRow is a snapshot of one strike at one instant.
type StrikeRow struct {
	Strike         int64     `json:"strike"`
	Expiry         time.Time `json:"expiry"`
	UnderlyingSpot float64   `json:"underlying_spot"`
	CE             Leg       `json:"ce"`
	PE             Leg       `json:"pe"`
	ChgOIDiff      int64     `json:"chg_oi_diff"`
}

// NewStrikeRow fills both legs, defaulting a missing leg to zero values.
func NewStrikeRow(strike int64, expiry time.Time, spot float64, ce, pe *Leg) StrikeRow {
	r := StrikeRow{Strike: strike, Expiry: expiry, UnderlyingSpot: spot}
	if ce != nil {
		r.CE = *ce
	}
	if pe != nil {
		r.PE = *pe
	}
	r.ChgOIDiff = r.CE.ChangeOI - r.PE.ChangeOI
	return r
}

// RawRecord is one element of the upstream data array after coercion.
type RawRecord struct {
	Expiry time.Time
	Strike int64
	CE     *Leg
	PE     *Leg
}

// RawChain is the normalized upstream envelope.
type RawChain struct {
	Symbol          string
	Kind            ChainKind
	UnderlyingValue float64
	ExpiryDates     []time.Time
	Records         []RawRecord
	FetchedAt       time.Time
}

// RowsFor returns strike rows for one expiry in upstream order.
func (c *RawChain) RowsFor(expiry time.Time) []StrikeRow {
	out := make([]StrikeRow, 0, len(c.Records)/max(1, len(c.ExpiryDates)))
	for _, rec := range c.Records {
		if !rec.Expiry.Equal(expiry) {
			continue
		}
		out = append(out, NewStrikeRow(rec.Strike, rec.Expiry, c.UnderlyingValue, rec.CE, rec.PE))
	}
	return out
}

// ExpiryBucket is the row set selected for one tag.
type ExpiryBucket struct {
	Tag    BucketTag   `json:"bucket"`
	Expiry time.Time   `json:"expiry"`
	Rows   []StrikeRow `json:"rows"`
}
