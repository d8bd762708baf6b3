package trend

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChainPulse/internal/domain/models"
)

func metrics(ceChg int64, cePct float64, peChg int64, pePct float64, oiPCR, volPCR float64) models.AggregateMetrics {
	return models.AggregateMetrics{
		TotalCEOIChange:    ceChg,
		TotalCEOIChangePct: cePct,
		TotalPEOIChange:    peChg,
		TotalPEOIChangePct: pePct,
		OIPCR:              oiPCR,
		VolumePCR:          volPCR,
	}
}

func TestStrongBullishStock(t *testing.T) {
	v, ok := Classify(metrics(-10000, -13, 15000, 19, 0.65, 0.75))
	require.True(t, ok)

	assert.Equal(t, models.LabelStrongBullish, v.Label)
	assert.Equal(t, 11.5, v.BullishScore)
	assert.Equal(t, 0.0, v.BearishScore)
	assert.GreaterOrEqual(t, v.NetScore, 3.5)
	assert.Equal(t, 95.83, v.Confidence)
	assert.Contains(t, v.Signals, "OI PCR < 0.7")
	assert.Contains(t, v.Signals, "Volume PCR < 0.8")
	assert.Equal(t, "OI PCR < 0.7", v.Signals[0])
}

func TestBalancedStockIsFiltered(t *testing.T) {
	v, ok := Classify(metrics(-3000, -6, -4000, -7, 1.0, 0.95))
	assert.False(t, ok)
	assert.Equal(t, 0.8, v.BullishScore)
	assert.Equal(t, 0.8, v.BearishScore)
	assert.Equal(t, 0.0, v.Confidence)
	assert.Equal(t, models.LabelSideways, v.Label)
}

func TestStrongBearishStock(t *testing.T) {
	v, ok := Classify(metrics(12000, 19, -8000, -13, 1.35, 1.3))
	require.True(t, ok)

	assert.Equal(t, models.LabelStrongBearish, v.Label)
	assert.Equal(t, 10.5, v.BearishScore)
	assert.Equal(t, -10.5, v.NetScore)
	assert.Equal(t, 87.5, v.Confidence)
	assert.Contains(t, v.Signals, "CE OI Change > 12%")
	assert.Contains(t, v.Signals, "Volume PCR > 1.2")
}

func TestReversalOverridesLabel(t *testing.T) {
	// high OI PCR with light put volume
	v := Evaluate(metrics(0, 0, 0, 0, 1.2, 0.7))
	assert.Equal(t, models.ReversalBullish, v.Reversal)
	assert.Equal(t, models.LabelBullishReversalCandidate, v.Label)
	assert.Equal(t, 4.0, v.BullishScore)
	assert.Equal(t, 1.5, v.BearishScore)

	v = Evaluate(metrics(0, 0, 0, 0, 0.8, 1.5))
	assert.Equal(t, models.LabelBearishReversalCandidate, v.Label)
}

func TestVolatilityAlert(t *testing.T) {
	v := Evaluate(metrics(1000, 6, 1000, 7, 1.0, 1.0))
	assert.True(t, v.Volatility)
	// ce 5-12 bearish 1, pe 5-12 bullish 1, put skew bullish 0.5
	assert.Equal(t, 1.5, v.BullishScore)
	assert.Equal(t, 1.0, v.BearishScore)
	assert.Equal(t, models.LabelHighVolatilityExpected, v.Label)
}

func TestUndefinedPCRNeverScores(t *testing.T) {
	m := metrics(0, 0, 0, 0, 0, 0)
	m.Flags = []string{models.FlagOIPCRUndefined, models.FlagVolumePCRUndefined}
	v, ok := Classify(m)
	assert.False(t, ok)
	assert.Empty(t, v.Signals)
	assert.NotNil(t, v.Signals)
	assert.Equal(t, 0.0, v.NetScore)
}

func TestExhaustionAdders(t *testing.T) {
	v := Evaluate(metrics(0, 0, 0, 0, 2.5, 1.0))
	assert.Equal(t, []string{"OI PCR > 1.3", "OI PCR > 2.0 (put exhaustion)"}, v.Signals)
	assert.Equal(t, 0.5, v.BullishScore)
	assert.Equal(t, 2.5, v.BearishScore)

	v = Evaluate(metrics(0, 0, 0, 0, 0.3, 1.0))
	assert.Equal(t, 2.5, v.BullishScore)
	assert.Equal(t, 0.5, v.BearishScore)
}

func TestGateBoundary(t *testing.T) {
	// bearish 2.5 + 2 + 2, bullish 0.5 exhaustion => net -6, exactly 50
	v, ok := Classify(metrics(0, 0, -1000, -10, 2.5, 1.25))
	assert.Equal(t, -6.0, v.NetScore)
	assert.Equal(t, 50.0, v.Confidence)
	assert.True(t, ok)

	v, ok = Classify(metrics(0, 0, -1000, -4, 1.35, 1.25))
	assert.Equal(t, 45.83, v.Confidence)
	assert.False(t, ok)

	v, ok = Classify(metrics(0, 0, 0, 0, 1.35, 1.25))
	assert.Equal(t, 37.5, v.Confidence)
	assert.False(t, ok)
}

func TestDeterministic(t *testing.T) {
	m := metrics(-10000, -13, 15000, 19, 0.65, 0.75)
	a, _ := json.Marshal(Evaluate(m))
	b, _ := json.Marshal(Evaluate(m))
	assert.Equal(t, string(a), string(b))
}
