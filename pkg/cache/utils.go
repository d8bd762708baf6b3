package cache

import (
	"fmt"
	"strings"
)

// Key joins parts with ":" so entries group by their first part, e.g. discovery:TCS:2024-11-14.
func Key(parts ...interface{}) string {
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = fmt.Sprint(p)
	}
	return strings.Join(s, ":")
}
