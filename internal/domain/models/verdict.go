package models

// TrendLabel is the directional classification of a stock.
type TrendLabel string

const (
	LabelSideways                 TrendLabel = "SIDEWAYS"
	LabelBullish                  TrendLabel = "BULLISH"
	LabelStrongBullish            TrendLabel = "STRONG_BULLISH"
	LabelBearish                  TrendLabel = "BEARISH"
	LabelStrongBearish            TrendLabel = "STRONG_BEARISH"
	LabelBullishReversalCandidate TrendLabel = "BULLISH_REVERSAL_CANDIDATE"
	LabelBearishReversalCandidate TrendLabel = "BEARISH_REVERSAL_CANDIDATE"
	LabelHighVolatilityExpected   TrendLabel = "HIGH_VOLATILITY_EXPECTED"
)

// Reversal direction flagged by the classifier.
type Reversal string

const (
	ReversalNone    Reversal = ""
	ReversalBullish Reversal = "bullish"
	ReversalBearish Reversal = "bearish"
)

// TrendVerdict is the classifier output.
type TrendVerdict struct {
	Label        TrendLabel `json:"label"`
	Confidence   float64    `json:"confidence"`
	BullishScore float64    `json:"bullish_score"`
	BearishScore float64    `json:"bearish_score"`
	NetScore     float64    `json:"net_score"`
	Signals      []string   `json:"signals"`
	Volatility   bool       `json:"volatility"`
	Reversal     Reversal   `json:"reversal,omitempty"`
}
