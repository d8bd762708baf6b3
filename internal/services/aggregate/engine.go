package aggregate

import (
	"math"

	"ChainPulse/internal/domain/models"
	"ChainPulse/internal/services/strikes"
	"ChainPulse/pkg/config"
	"ChainPulse/pkg/util"
)

// Options tune the engine. Zero is a real setting: no OI filter, no efficiency
// floor, and an ATM-only zone. OptionsFromConfig carries the configured defaults.
type Options struct {
	WriterEfficiencyThreshold float64
	StrikeOIThreshold         int64
	ATMZoneWidth              int
}

var DefaultOptions = Options{WriterEfficiencyThreshold: 0.15, StrikeOIThreshold: 1000, ATMZoneWidth: 1}

func OptionsFromConfig(c config.AnalysisConfig) Options {
	return Options{
		WriterEfficiencyThreshold: c.WriterEfficiencyThreshold,
		StrikeOIThreshold:         c.StrikeOIThreshold,
		ATMZoneWidth:              c.ATMZoneWidth,
	}
}

// Compute derives bucket aggregates over a strike window. It never fails: zero
// denominators produce the 0.0 sentinel and raise the matching flag.
func Compute(rows []models.StrikeRow, spot float64, opts Options) models.AggregateMetrics {
	var m models.AggregateMetrics
	if len(rows) == 0 {
		m.Flags = append(m.Flags, models.FlagEmptyWindow)
	}

	for _, r := range rows {
		m.TotalCEOI += r.CE.OI
		m.TotalPEOI += r.PE.OI
		m.TotalCEVolume += r.CE.Volume
		m.TotalPEVolume += r.PE.Volume
		m.TotalCEOIChange += r.CE.ChangeOI
		m.TotalPEOIChange += r.PE.ChangeOI
	}

	if m.TotalCEOI > 0 {
		m.OIPCR = util.Round3(util.SafeDiv(float64(m.TotalPEOI), float64(m.TotalCEOI)))
	} else {
		m.Flags = append(m.Flags, models.FlagOIPCRUndefined)
	}
	if m.TotalCEVolume > 0 {
		m.VolumePCR = util.Round3(util.SafeDiv(float64(m.TotalPEVolume), float64(m.TotalCEVolume)))
	} else {
		m.Flags = append(m.Flags, models.FlagVolumePCRUndefined)
	}
	m.TotalCEOIChangePct = changePct(m.TotalCEOIChange, m.TotalCEOI)
	m.TotalPEOIChangePct = changePct(m.TotalPEOIChange, m.TotalPEOI)

	pivot(&m, rows, spot)
	m.Writers = writers(rows, opts.WriterEfficiencyThreshold)
	keyLevels(&m, rows, spot, opts.StrikeOIThreshold)
	atmZone(&m, rows, spot, opts.ATMZoneWidth)

	return m
}

func changePct(change, total int64) float64 {
	return util.Round3(util.SafeDiv(float64(change), float64(total)) * 100)
}

// pivot weights call OI above spot and put OI below spot by strike.
func pivot(m *models.AggregateMetrics, rows []models.StrikeRow, spot float64) {
	var num, den float64
	for _, r := range rows {
		s := float64(r.Strike)
		switch {
		case s > spot:
			num += s * float64(r.CE.OI)
			den += float64(r.CE.OI)
		case s < spot:
			num += s * float64(r.PE.OI)
			den += float64(r.PE.OI)
		}
	}
	if den == 0 {
		m.Flags = append(m.Flags, models.FlagPivotDenominatorZero)
		return
	}
	m.WeightedPivot = util.Round3(util.SafeDiv(num, den))
	m.PivotDefined = true
}

func writers(rows []models.StrikeRow, threshold float64) []models.WriterActivity {
	out := make([]models.WriterActivity, 0, len(rows)*2)
	for _, r := range rows {
		for _, leg := range []struct {
			name string
			l    models.Leg
		}{{"CE", r.CE}, {"PE", r.PE}} {
			eff := util.Round3(WriterEfficiency(leg.l))
			out = append(out, models.WriterActivity{
				Strike:     r.Strike,
				Leg:        leg.name,
				Efficiency: eff,
				Efficient:  eff > threshold,
			})
		}
	}
	return out
}

// WriterEfficiency is |change_oi| / max(1, volume).
func WriterEfficiency(l models.Leg) float64 {
	return util.SafeDiv(math.Abs(float64(l.ChangeOI)), float64(max(int64(1), l.Volume)))
}

// keyLevels picks the heaviest call strike above spot and the heaviest put strike
// below spot, each filtered by minOI. Ties keep the lower strike.
func keyLevels(m *models.AggregateMetrics, rows []models.StrikeRow, spot float64, minOI int64) {
	var resOI, supOI int64
	for _, r := range rows {
		s := float64(r.Strike)
		if s > spot && r.CE.OI > minOI && r.CE.OI > resOI {
			resOI = r.CE.OI
			m.Resistance = r.Strike
		}
		if s < spot && r.PE.OI > minOI && r.PE.OI > supOI {
			supOI = r.PE.OI
			m.Support = r.Strike
		}
	}
	if resOI == 0 {
		m.Flags = append(m.Flags, models.FlagNoResistance)
	}
	if supOI == 0 {
		m.Flags = append(m.Flags, models.FlagNoSupport)
	}
}

func atmZone(m *models.AggregateMetrics, rows []models.StrikeRow, spot float64, width int) {
	zone := strikes.Select(rows, spot, width)
	if len(zone.Rows) == 0 {
		m.Flags = append(m.Flags, models.FlagATMZonePCRUndefined)
		return
	}
	m.ATMStrike = zone.ATM

	var ce, pe int64
	for _, r := range zone.Rows {
		ce += r.CE.OI
		pe += r.PE.OI
		if r.Strike == zone.ATM {
			m.ATMStraddle = util.Round(r.CE.LTP+r.PE.LTP, 2)
		}
	}
	if ce == 0 {
		m.Flags = append(m.Flags, models.FlagATMZonePCRUndefined)
		return
	}
	m.ATMZonePCR = util.Round3(util.SafeDiv(float64(pe), float64(ce)))
}
