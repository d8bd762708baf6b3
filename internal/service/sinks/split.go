package sinks

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// labelReserve is room kept for a "[iii/nnn]\n" prefix.
const labelReserve = 12

// Split breaks text into parts of at most max bytes, preferring line boundaries.
// When more than one part results, each is prefixed with "[i/n]\n".
func Split(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}
	budget := max - labelReserve
	if budget < 1 {
		budget = 1
	}

	var chunks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > budget {
			flush()
			cut := runeCut(line, budget)
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if cur.Len()+len(line) > budget {
			flush()
		}
		cur.WriteString(line)
	}
	flush()

	n := len(chunks)
	for i := range chunks {
		chunks[i] = fmt.Sprintf("[%d/%d]\n%s", i+1, n, chunks[i])
	}
	return chunks
}

// runeCut returns the largest index <= limit that does not split a UTF-8 sequence.
func runeCut(s string, limit int) int {
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		_, size := utf8.DecodeRuneInString(s)
		return size
	}
	return cut
}
