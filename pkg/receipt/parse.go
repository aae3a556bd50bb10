package receipt

import (
	"regexp"
	"strconv"
	"strings"
)

// Receipts carry many numbers that are not amounts (phone numbers, order
// ids, card fragments). Candidate selection therefore prefers lines with
// total-like context words or an explicit currency marker, and rejects
// digit runs that don't look like money.

var (
	amountRE  = regexp.MustCompile(`(?:[$€£]\s*)?\d{1,3}(?:[.,]\d{3})*[.,]\d{2}\b|(?:[$€£]\s*)\d{1,6}\b`)
	contextRE = regexp.MustCompile(`(?i)\b(total|amount\s+due|balance\s+due|grand\s+total|to\s+pay|paid)\b`)
)

// BestAmount scans OCR text for monetary candidates and returns the most
// plausible one. The boolean is false when nothing usable was found.
func BestAmount(text string) (float64, string, bool) {
	type cand struct {
		amt   float64
		raw   string
		score int
	}
	var cands []cand

	for _, line := range strings.Split(text, "\n") {
		hasContext := contextRE.MatchString(line)
		for _, raw := range amountRE.FindAllString(line, -1) {
			amt, err := ParseAmount(raw)
			if err != nil || amt <= 0 {
				continue
			}
			score := 0
			if hasContext {
				score += 10
			}
			if strings.ContainsAny(raw, "$€£") {
				score += 5
			}
			if cents2RE.MatchString(raw) {
				score += 3
			}
			cands = append(cands, cand{amt: amt, raw: strings.TrimSpace(raw), score: score})
		}
	}
	if len(cands) == 0 {
		return 0, "", false
	}

	best := cands[0]
	for _, c := range cands[1:] {
		// Higher score wins; among equals the largest amount is usually
		// the total rather than a line item.
		if c.score > best.score || (c.score == best.score && c.amt > best.amt) {
			best = c
		}
	}
	return best.amt, best.raw, true
}

var cents2RE = regexp.MustCompile(`[.,]\d{2}$`)

// ParseAmount normalizes a matched substring into a decimal amount.
// Handles both separator conventions: "1,234.56" and "1.234,56".
func ParseAmount(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimLeft(s, "$€£ ")
	if s == "" {
		return 0, ErrNoAmount
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot != -1 && lastComma != -1:
		// Both present: the later one is the decimal separator.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma != -1:
		// A lone comma followed by exactly two digits is a decimal mark,
		// otherwise it's grouping.
		if len(s)-lastComma == 3 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	}

	amt, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if amt < 0 {
		amt = -amt
	}
	return amt, nil
}
