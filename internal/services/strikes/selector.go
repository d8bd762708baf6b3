package strikes

import (
	"math"
	"sort"

	"ChainPulse/internal/domain/models"
)

// FullChain selects every strike.
const FullChain = -1

// Window is the ATM-centred selection for one expiry.
type Window struct {
	ATM  int64
	Rows []models.StrikeRow
}

// Select sorts rows by strike, drops duplicate strikes (first occurrence wins), finds the
// strike closest to spot (the lower one on a tie) and returns ATM±k clipped to the chain.
func Select(rows []models.StrikeRow, spot float64, k int) Window {
	uniq := dedupe(rows)
	if len(uniq) == 0 {
		return Window{}
	}

	atmIdx := 0
	best := math.Inf(1)
	for i, r := range uniq {
		d := math.Abs(float64(r.Strike) - spot)
		// strict less keeps the lower strike on equidistance
		if d < best {
			best = d
			atmIdx = i
		}
	}

	w := Window{ATM: uniq[atmIdx].Strike}
	if k < 0 {
		w.Rows = uniq
		return w
	}

	lo := max(0, atmIdx-k)
	hi := min(len(uniq)-1, atmIdx+k)
	w.Rows = append([]models.StrikeRow(nil), uniq[lo:hi+1]...)
	return w
}

func dedupe(rows []models.StrikeRow) []models.StrikeRow {
	out := make([]models.StrikeRow, 0, len(rows))
	seen := make(map[int64]bool, len(rows))
	for _, r := range rows {
		if seen[r.Strike] {
			continue
		}
		seen[r.Strike] = true
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Strike < out[j].Strike })
	return out
}
