// Package usage turns grouped usage rows returned by the billing vendor
// into per-tier counts and advisory dollar amounts. All functions are
// pure - no side effects.
package usage

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// GroupedRow is one vendor-computed aggregation bucket: the tier it was
// grouped under plus a numeric count. Vendors deliver the count as a
// number or a numeric string depending on magnitude, so Value is kept
// raw until ParseQuantity.
type GroupedRow struct {
	GroupKey   string
	GroupValue string
	Value      any
}

// TierUsage is the display payload for one tier: the summed event count
// and the estimated dollar amount. Amount is advisory only - invoice
// line items remain the source of truth.
type TierUsage struct {
	Count  int64   `json:"count"`
	Amount float64 `json:"amount"`
}

// ParseQuantity coerces a vendor count into an integer. Numbers and
// numeric strings are accepted via a tolerant float parse truncated
// toward zero; anything else reports ok=false and the row is skipped.
func ParseQuantity(v any) (int64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return int64(f), true
	default:
		return 0, false
	}
}

// SumCounts folds grouped rows into a tier -> count map. A tier may
// appear in more than one row (paginated or windowed responses), so
// counts accumulate. Rows without a group value or with a malformed
// count are skipped and do not disturb other rows.
func SumCounts(rows []GroupedRow) map[string]int64 {
	counts := make(map[string]int64)
	for _, r := range rows {
		if r.GroupValue == "" {
			continue
		}
		n, ok := ParseQuantity(r.Value)
		if !ok {
			continue
		}
		counts[r.GroupValue] += n
	}
	return counts
}

// Amount computes the estimated dollar amount for count units at
// unitCents per unit: count * cents / 100. Arithmetic runs in exact
// decimal and converts to float only for display.
func Amount(count, unitCents int64) float64 {
	d := decimal.NewFromInt(count).
		Mul(decimal.NewFromInt(unitCents)).
		Div(decimal.NewFromInt(100))
	f, _ := d.Float64()
	return f
}

// Summarize combines summed counts with cached unit prices into the
// per-tier display payload. Every tier in tiers appears in the result:
// tiers without usage report zero, tiers without a cached price report
// the real count with a zero amount (partial information beats none).
func Summarize(rows []GroupedRow, prices map[string]int64, tiers []string) map[string]TierUsage {
	counts := SumCounts(rows)

	out := make(map[string]TierUsage, len(tiers))
	for _, t := range tiers {
		n := counts[t]
		u := TierUsage{Count: n}
		if cents, ok := prices[t]; ok {
			u.Amount = Amount(n, cents)
		}
		out[t] = u
	}
	return out
}
