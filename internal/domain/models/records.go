package models

import "time"

// OptionChainRow is one persisted strike in a circular cycle slot.
type OptionChainRow struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	CycleIndex      int       `gorm:"column:cycle_index;not null;index:idx_chain_slot,priority:1" json:"cycle_index"`
	Symbol          string    `gorm:"column:symbol;size:32;not null;index:idx_chain_slot,priority:2" json:"symbol"`
	BucketTag       string    `gorm:"column:bucket_tag;size:16;not null;index:idx_chain_slot,priority:3" json:"bucket_tag"`
	FetchTimestamp  time.Time `gorm:"column:fetch_timestamp;not null" json:"fetch_timestamp"`
	UnderlyingValue float64   `gorm:"column:underlying_value" json:"underlying_value"`
	ExpiryDate      time.Time `gorm:"column:expiry_date" json:"expiry_date"`
	StrikePrice     int64     `gorm:"column:strike_price;index:idx_chain_strike" json:"strike_price"`

	CEChangeOI int64   `gorm:"column:ce_change_oi" json:"ce_change_oi"`
	CEVolume   int64   `gorm:"column:ce_volume" json:"ce_volume"`
	CELTP      float64 `gorm:"column:ce_ltp" json:"ce_ltp"`
	CEOI       int64   `gorm:"column:ce_oi" json:"ce_oi"`
	CEIV       float64 `gorm:"column:ce_iv" json:"ce_iv"`
	CEDelta    float64 `gorm:"column:ce_delta" json:"ce_delta"`
	CEGamma    float64 `gorm:"column:ce_gamma" json:"ce_gamma"`
	CETheta    float64 `gorm:"column:ce_theta" json:"ce_theta"`
	CEVega     float64 `gorm:"column:ce_vega" json:"ce_vega"`

	PEChangeOI int64   `gorm:"column:pe_change_oi" json:"pe_change_oi"`
	PEVolume   int64   `gorm:"column:pe_volume" json:"pe_volume"`
	PELTP      float64 `gorm:"column:pe_ltp" json:"pe_ltp"`
	PEOI       int64   `gorm:"column:pe_oi" json:"pe_oi"`
	PEIV       float64 `gorm:"column:pe_iv" json:"pe_iv"`
	PEDelta    float64 `gorm:"column:pe_delta" json:"pe_delta"`
	PEGamma    float64 `gorm:"column:pe_gamma" json:"pe_gamma"`
	PETheta    float64 `gorm:"column:pe_theta" json:"pe_theta"`
	PEVega     float64 `gorm:"column:pe_vega" json:"pe_vega"`

	ChgOIDiff int64     `gorm:"column:chg_oi_diff" json:"chg_oi_diff"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (OptionChainRow) TableName() string { return "option_chain_rows" }

// NewOptionChainRow flattens a strike row for a slot.
func NewOptionChainRow(cycle int, symbol string, bucket BucketTag, fetchedAt time.Time, r StrikeRow) OptionChainRow {
	return OptionChainRow{
		CycleIndex:      cycle,
		Symbol:          symbol,
		BucketTag:       string(bucket),
		FetchTimestamp:  fetchedAt,
		UnderlyingValue: r.UnderlyingSpot,
		ExpiryDate:      r.Expiry,
		StrikePrice:     r.Strike,
		CEChangeOI:      r.CE.ChangeOI,
		CEVolume:        r.CE.Volume,
		CELTP:           r.CE.LTP,
		CEOI:            r.CE.OI,
		CEIV:            r.CE.IV,
		CEDelta:         r.CE.Greeks.Delta,
		CEGamma:         r.CE.Greeks.Gamma,
		CETheta:         r.CE.Greeks.Theta,
		CEVega:          r.CE.Greeks.Vega,
		PEChangeOI:      r.PE.ChangeOI,
		PEVolume:        r.PE.Volume,
		PELTP:           r.PE.LTP,
		PEOI:            r.PE.OI,
		PEIV:            r.PE.IV,
		PEDelta:         r.PE.Greeks.Delta,
		PEGamma:         r.PE.Greeks.Gamma,
		PETheta:         r.PE.Greeks.Theta,
		PEVega:          r.PE.Greeks.Vega,
		ChgOIDiff:       r.ChgOIDiff,
	}
}

// StrikeRow rebuilds the domain row.
func (o OptionChainRow) StrikeRow() StrikeRow {
	return StrikeRow{
		Strike:         o.StrikePrice,
		Expiry:         o.ExpiryDate,
		UnderlyingSpot: o.UnderlyingValue,
		CE: Leg{
			OI: o.CEOI, ChangeOI: o.CEChangeOI, Volume: o.CEVolume, LTP: o.CELTP, IV: o.CEIV,
			Greeks: Greeks{Delta: o.CEDelta, Gamma: o.CEGamma, Theta: o.CETheta, Vega: o.CEVega},
		},
		PE: Leg{
			OI: o.PEOI, ChangeOI: o.PEChangeOI, Volume: o.PEVolume, LTP: o.PELTP, IV: o.PEIV,
			Greeks: Greeks{Delta: o.PEDelta, Gamma: o.PEGamma, Theta: o.PETheta, Vega: o.PEVega},
		},
		ChgOIDiff: o.ChgOIDiff,
	}
}

// FetchState is the small key/value table holding the cycle cursor.
type FetchState struct {
	Key   string `gorm:"column:key;primaryKey;size:64"`
	Value int64  `gorm:"column:value;not null"`
}

func (FetchState) TableName() string { return "fetch_state" }

const (
	StateCurrentCycle = "current_cycle"
	StateTotalFetches = "total_fetches"
)

// Discovery is an append-only strong-trend record, unique per symbol and local date.
type Discovery struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol        string    `gorm:"column:symbol;size:32;not null;uniqueIndex:idx_discovery_symbol_date,priority:1" json:"symbol"`
	DiscoveryDate string    `gorm:"column:discovery_date;size:10;not null;uniqueIndex:idx_discovery_symbol_date,priority:2" json:"discovery_date"`
	DiscoveryTime string    `gorm:"column:discovery_time;size:8;not null" json:"discovery_time"`
	TrendType     string    `gorm:"column:trend_type;size:40;not null" json:"trend_type"`
	Confidence    float64   `gorm:"column:confidence" json:"confidence"`
	CreatedAt     time.Time `gorm:"column:created_at;index" json:"created_at"`
}

func (Discovery) TableName() string { return "discoveries" }
