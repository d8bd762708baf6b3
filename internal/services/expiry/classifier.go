package expiry

import (
	"sort"
	"time"

	"ChainPulse/internal/domain/models"
	"ChainPulse/pkg/config"
	"ChainPulse/pkg/util"
)

// Rules parameterize bucket assignment. Distances are IST calendar days.
type Rules struct {
	NextWeekMin    int
	NextWeekMax    int
	MonthlyMinDays int
	MonthlyWeekday time.Weekday
}

// DefaultRules are the exchange conventions: next week in [5,9], monthly at 20+ days
// or the last Thursday of the month.
var DefaultRules = Rules{NextWeekMin: 5, NextWeekMax: 9, MonthlyMinDays: 20, MonthlyWeekday: time.Thursday}

// RulesFromConfig maps analysis settings onto Rules.
func RulesFromConfig(c config.AnalysisConfig) Rules {
	r := DefaultRules
	if len(c.NextWeekDayRange) == 2 {
		r.NextWeekMin, r.NextWeekMax = c.NextWeekDayRange[0], c.NextWeekDayRange[1]
	}
	if c.MonthlyThresholdDays > 0 {
		r.MonthlyMinDays = c.MonthlyThresholdDays
	}
	if wd, ok := util.ParseWeekday(c.MonthlyWeekday); ok {
		r.MonthlyWeekday = wd
	}
	return r
}

type candidate struct {
	expiry time.Time
	dte    int
}

// Classify assigns at most one expiry to each bucket. An expiry never lands in two
// buckets, past expiries are ignored and an empty bucket is simply absent.
func Classify(expiries []time.Time, today time.Time, rules Rules) map[models.BucketTag]time.Time {
	out := make(map[models.BucketTag]time.Time, 3)

	cands := make([]candidate, 0, len(expiries))
	seen := make(map[string]bool, len(expiries))
	for _, e := range expiries {
		day := util.DateOnly(e)
		key := day.Format("2006-01-02")
		if seen[key] {
			continue
		}
		seen[key] = true
		dte := util.DaysBetween(today, day)
		if dte < 0 {
			continue
		}
		cands = append(cands, candidate{expiry: day, dte: dte})
	}
	if len(cands) == 0 {
		return out
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].dte < cands[j].dte })

	used := make([]bool, len(cands))

	out[models.BucketCurrentWeek] = cands[0].expiry
	used[0] = true

	for i, c := range cands {
		if used[i] {
			continue
		}
		if c.dte >= rules.NextWeekMin && c.dte <= rules.NextWeekMax {
			out[models.BucketNextWeek] = c.expiry
			used[i] = true
			break
		}
	}

	lastWd := util.LastWeekdayOfMonth(today, rules.MonthlyWeekday)
	for i, c := range cands {
		if used[i] {
			continue
		}
		if c.dte >= rules.MonthlyMinDays || c.expiry.Equal(lastWd) {
			out[models.BucketMonthly] = c.expiry
			used[i] = true
			break
		}
	}

	return out
}

// Buckets resolves the classified expiries against a chain, in canonical order.
// When multiExpiry is false only current_week is returned.
func Buckets(chain *models.RawChain, today time.Time, rules Rules, multiExpiry bool) []models.ExpiryBucket {
	assigned := Classify(chain.ExpiryDates, today, rules)
	out := make([]models.ExpiryBucket, 0, len(assigned))
	for _, tag := range models.BucketOrder {
		exp, ok := assigned[tag]
		if !ok {
			continue
		}
		if !multiExpiry && tag != models.BucketCurrentWeek {
			continue
		}
		out = append(out, models.ExpiryBucket{Tag: tag, Expiry: exp, Rows: chain.RowsFor(exp)})
	}
	return out
}
