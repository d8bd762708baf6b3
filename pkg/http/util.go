package http

import (
	"time"

	"ChainPulse/pkg/util"
)

// ParseDateDefault parses a YYYY-MM-DD date in IST or returns def when s is empty or invalid.
func ParseDateDefault(s string, def time.Time) time.Time {
	if s == "" {
		return def
	}
	t, err := time.ParseInLocation(time.DateOnly, s, util.IST)
	if err != nil {
		return def
	}
	return t
}
