package models

import "fmt"

// EODState is the end-of-day state document.
type EODState struct {
	GeneratedOn    string            `json:"generated_on"`
	NiftyState     NiftyEODState     `json:"nifty_state"`
	BankNiftyState BankNiftyEODState `json:"banknifty_state"`
}

type NiftyEODState struct {
	Last3Dates      []string         `json:"last_3_dates"`
	Last3Spots      []float64        `json:"last_3_spots"`
	Last3PCRs       []float64        `json:"last_3_pcrs"`
	PrevATMStraddle float64          `json:"prev_atm_straddle"`
	PrevEODOI       map[string]int64 `json:"prev_eod_oi"`
}

type BankNiftyEODState struct {
	Last3PCRs []float64        `json:"last_3_pcrs"`
	PrevEODOI map[string]int64 `json:"prev_eod_oi"`
}

// OIKey is the prev_eod_oi map key for a strike leg, e.g. "22500_CE".
func OIKey(strike int64, leg string) string {
	return fmt.Sprintf("%d_%s", strike, leg)
}

// OIByStrikeLeg builds the strike-leg to OI map for a bucket.
func OIByStrikeLeg(rows []StrikeRow) map[string]int64 {
	out := make(map[string]int64, len(rows)*2)
	for _, r := range rows {
		out[OIKey(r.Strike, "CE")] = r.CE.OI
		out[OIKey(r.Strike, "PE")] = r.PE.OI
	}
	return out
}
