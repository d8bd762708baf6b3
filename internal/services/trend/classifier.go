// Package trend scores single-stock option aggregates into a directional verdict.
//
// The rubric follows the stock convention: call writers dominate single-stock OI and
// sell into rallies, so call OI additions are bearish and put OI additions bullish.
// It must not be applied to index buckets.
package trend

import (
	"math"

	"ChainPulse/internal/domain/models"
	"ChainPulse/pkg/util"
)

// ConfidenceGate is the minimum confidence for an emitted verdict.
const ConfidenceGate = 50.0

// maxNet maps a net score onto the 0..100 confidence scale.
const maxNet = 12.0

const largeChange = 2000

type scorer struct {
	bull, bear float64
	signals    []string
	volatility bool
	reversal   models.Reversal
}

func (s *scorer) bullish(points float64, signal string) {
	s.bull += points
	s.signals = append(s.signals, signal)
}

func (s *scorer) bearish(points float64, signal string) {
	s.bear += points
	s.signals = append(s.signals, signal)
}

// Classify returns the verdict and true only when confidence reaches the gate.
func Classify(m models.AggregateMetrics) (models.TrendVerdict, bool) {
	v := Evaluate(m)
	return v, v.Confidence >= ConfidenceGate
}

// Evaluate runs the rubric without the emission gate. Rules fire in a fixed order
// and undefined PCRs (the 0.0 sentinel) never score.
func Evaluate(m models.AggregateMetrics) models.TrendVerdict {
	s := &scorer{}

	oiPCR, oiOK := m.OIPCR, m.OIPCR > 0 && !m.HasFlag(models.FlagOIPCRUndefined)
	volPCR, volOK := m.VolumePCR, m.VolumePCR > 0 && !m.HasFlag(models.FlagVolumePCRUndefined)
	cePct, pePct := m.TotalCEOIChangePct, m.TotalPEOIChangePct
	ceAbs, peAbs := absInt(m.TotalCEOIChange), absInt(m.TotalPEOIChange)

	if oiOK {
		switch {
		case oiPCR < 0.7:
			s.bullish(2.5, "OI PCR < 0.7")
		case oiPCR < 0.9:
			s.bullish(1.5, "OI PCR 0.7-0.9")
		case oiPCR > 1.3:
			s.bearish(2.5, "OI PCR > 1.3")
		case oiPCR > 1.1:
			s.bearish(1.5, "OI PCR 1.1-1.3")
		}
		if oiPCR > 2.0 {
			s.bullish(0.5, "OI PCR > 2.0 (put exhaustion)")
		}
		if oiPCR < 0.4 {
			s.bearish(0.5, "OI PCR < 0.4 (call exhaustion)")
		}
	}

	if volOK {
		switch {
		case volPCR > 1.2:
			s.bearish(2.0, "Volume PCR > 1.2")
		case volPCR < 0.8:
			s.bullish(2.0, "Volume PCR < 0.8")
		}
	}

	switch {
	case cePct > 12:
		s.bearish(2+bonus(ceAbs), "CE OI Change > 12%")
	case cePct > 5:
		s.bearish(1, "CE OI Change 5-12%")
	case cePct < -8:
		s.bullish(2+bonus(ceAbs), "CE OI Change < -8%")
	case cePct < -3:
		s.bullish(1, "CE OI Change -8% to -3%")
	}

	switch {
	case pePct > 12:
		s.bullish(2+bonus(peAbs), "PE OI Change > 12%")
	case pePct > 5:
		s.bullish(1, "PE OI Change 5-12%")
	case pePct < -8:
		s.bearish(2+bonus(peAbs), "PE OI Change < -8%")
	case pePct < -3:
		s.bearish(1, "PE OI Change -8% to -3%")
	}

	if pePct > 5 && cePct < 0 {
		s.bullish(1, "Synergy: PE build-up with CE unwinding")
	}
	if cePct > 5 && pePct < 0 {
		s.bearish(1, "Synergy: CE build-up with PE unwinding")
	}

	if pePct > 12 && cePct < -8 && oiOK && oiPCR < 0.9 {
		s.bullish(1, "Momentum: heavy put writing with call unwinding")
	}

	if inDecline(cePct) && inDecline(pePct) && ceAbs < 5000 && peAbs < 5000 {
		s.bull *= 0.8
		s.bear *= 0.8
		s.signals = append(s.signals, "Low conviction: both legs unwinding")
	}

	if oiOK && volOK {
		if oiPCR < 0.9 && volPCR > 1.2 {
			s.bearish(2, "Reversal: low OI PCR with heavy put volume")
			s.reversal = models.ReversalBearish
		}
		if oiPCR > 1.1 && volPCR < 0.8 {
			s.bullish(2, "Reversal: high OI PCR with light put volume")
			s.reversal = models.ReversalBullish
		}
	}

	if cePct > 5 && pePct > 5 {
		s.volatility = true
		switch {
		case pePct > cePct:
			s.bullish(0.5, "Volatility alert: both legs building, put skew")
		case cePct > pePct:
			s.bearish(0.5, "Volatility alert: both legs building, call skew")
		default:
			s.signals = append(s.signals, "Volatility alert: both legs building")
		}
	}

	return s.verdict()
}

func (s *scorer) verdict() models.TrendVerdict {
	bull, bear := util.Round3(s.bull), util.Round3(s.bear)
	net := util.Round3(bull - bear)
	conf := util.Round(math.Min(math.Abs(net)/maxNet*100, 100), 2)

	signals := s.signals
	if signals == nil {
		signals = []string{}
	}
	return models.TrendVerdict{
		Label:        label(net, s.volatility, s.reversal),
		Confidence:   conf,
		BullishScore: bull,
		BearishScore: bear,
		NetScore:     net,
		Signals:      signals,
		Volatility:   s.volatility,
		Reversal:     s.reversal,
	}
}

func label(net float64, volatility bool, reversal models.Reversal) models.TrendLabel {
	switch reversal {
	case models.ReversalBullish:
		return models.LabelBullishReversalCandidate
	case models.ReversalBearish:
		return models.LabelBearishReversalCandidate
	}
	switch {
	case volatility && math.Abs(net) < 1.5:
		return models.LabelHighVolatilityExpected
	case net >= 3.5:
		return models.LabelStrongBullish
	case net >= 1.5:
		return models.LabelBullish
	case net <= -3.5:
		return models.LabelStrongBearish
	case net <= -1.5:
		return models.LabelBearish
	}
	return models.LabelSideways
}

func bonus(abs int64) float64 {
	if abs > largeChange {
		return 0.5
	}
	return 0
}

func inDecline(pct float64) bool {
	return pct >= -8 && pct <= -3
}

func absInt(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
