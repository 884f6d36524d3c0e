// Package price parses marketplace price strings and computes summary
// statistics over them. Kleinanzeigen prices come as free-form German text
// ("120 €", "1.234,56 € VB", "Zu verschenken"), so parsing is deliberately
// forgiving: anything without a numeric part is rejected, everything else is
// normalized to a euro amount.
package price

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Price is a parsed listing price.
type Price struct {
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	Negotiable bool    `json:"negotiable"` // "VB" (Verhandlungsbasis)
	Raw        string  `json:"raw"`
}

var numericPart = regexp.MustCompile(`[\d.,]+`)

// Parse parses a German marketplace price string.
//
//	"120 €"       -> 120.00
//	"199 € VB"    -> 199.00, negotiable
//	"1.234,56 €"  -> 1234.56 (dot thousands, comma decimal)
//	"1,234.56"    -> 1234.56 (US format)
func Parse(raw string) (Price, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Price{}, fmt.Errorf("empty price string")
	}

	negotiable := strings.Contains(s, "VB")
	s = strings.NewReplacer("€", "", "VB", "", " ", "").Replace(s)
	s = strings.TrimSpace(s)

	num := numericPart.FindString(s)
	if num == "" {
		return Price{}, fmt.Errorf("no numeric part in %q", raw)
	}

	switch {
	case strings.Contains(num, ".") && strings.Contains(num, ","):
		// Both separators present: whichever appears last is the decimal
		// mark ("1.234,56" German vs "1,234.56" US).
		if strings.LastIndex(num, ",") > strings.LastIndex(num, ".") {
			num = strings.ReplaceAll(num, ".", "")
			num = strings.ReplaceAll(num, ",", ".")
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	case strings.Contains(num, ","):
		num = strings.ReplaceAll(num, ",", ".")
	}

	amount, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return Price{}, fmt.Errorf("unparseable price %q: %w", raw, err)
	}

	return Price{
		Amount:     amount,
		Currency:   "EUR",
		Negotiable: negotiable,
		Raw:        raw,
	}, nil
}

// Summary holds aggregate price statistics. Min, Max and Median are nil when
// no prices were available, never zero-valued.
type Summary struct {
	Count  int      `json:"count"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	Median *float64 `json:"median"`
}

// Summarize computes min, max and median over the given amounts. An empty
// input yields a Summary with Count 0 and nil statistics. The input slice is
// not modified.
func Summarize(amounts []float64) Summary {
	if len(amounts) == 0 {
		return Summary{}
	}

	sorted := make([]float64, len(amounts))
	copy(sorted, amounts)
	sort.Float64s(sorted)

	median := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 {
		median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	}

	min := round2(sorted[0])
	max := round2(sorted[len(sorted)-1])
	med := round2(median)

	return Summary{
		Count:  len(sorted),
		Min:    &min,
		Max:    &max,
		Median: &med,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
