package usage_test

import (
	"testing"

	"github.com/novalabs/meterlink/domain/usage"
)

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   int64
		wantOK bool
	}{
		{"float", 10.0, 10, true},
		{"float truncates", 9.7, 9, true},
		{"int", 7, 7, true},
		{"int64", int64(12), 12, true},
		{"numeric string", "592", 592, true},
		{"decimal string", " 3.9 ", 3, true},
		{"garbage string", "abc", 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := usage.ParseQuantity(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseQuantity(%v) = %d, %v, want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSumCounts_AccumulatesDuplicateTiers(t *testing.T) {
	rows := []usage.GroupedRow{
		{GroupValue: "small-aws", Value: 6.0},
		{GroupValue: "small-aws", Value: "4"},
		{GroupValue: "medium-gcp", Value: 2.0},
	}

	counts := usage.SumCounts(rows)
	if counts["small-aws"] != 10 {
		t.Errorf("small-aws = %d, want 10", counts["small-aws"])
	}
	if counts["medium-gcp"] != 2 {
		t.Errorf("medium-gcp = %d, want 2", counts["medium-gcp"])
	}
}

func TestSumCounts_SkipsMalformedRows(t *testing.T) {
	rows := []usage.GroupedRow{
		{GroupValue: "small-aws", Value: 6.0},
		{GroupValue: "small-aws", Value: "not-a-number"},
		{GroupValue: "", Value: 5.0},
		{GroupValue: "small-aws", Value: nil},
		{GroupValue: "small-aws", Value: 4.0},
	}

	counts := usage.SumCounts(rows)
	if counts["small-aws"] != 10 {
		t.Errorf("small-aws = %d, want 10 (bad rows must not corrupt the sum)", counts["small-aws"])
	}
}

func TestSummarize_PricedTier(t *testing.T) {
	rows := []usage.GroupedRow{{GroupValue: "small-aws", Value: 10.0}}
	prices := map[string]int64{"small-aws": 54}

	got := usage.Summarize(rows, prices, []string{"small-aws"})
	if got["small-aws"].Count != 10 {
		t.Errorf("Count = %d, want 10", got["small-aws"].Count)
	}
	if got["small-aws"].Amount != 5.40 {
		t.Errorf("Amount = %v, want 5.40", got["small-aws"].Amount)
	}
}

func TestSummarize_NoPrices_CountStillReported(t *testing.T) {
	rows := []usage.GroupedRow{{GroupValue: "small-aws", Value: 10.0}}

	got := usage.Summarize(rows, nil, []string{"small-aws"})
	if got["small-aws"].Count != 10 {
		t.Errorf("Count = %d, want 10 (count is never suppressed)", got["small-aws"].Count)
	}
	if got["small-aws"].Amount != 0.0 {
		t.Errorf("Amount = %v, want 0.0", got["small-aws"].Amount)
	}
}

func TestSummarize_IncludesIdleTiers(t *testing.T) {
	got := usage.Summarize(nil, map[string]int64{"ultra": 10}, []string{"standard", "ultra"})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got["standard"].Count != 0 || got["standard"].Amount != 0 {
		t.Errorf("standard = %+v, want zero", got["standard"])
	}
}

func TestAmount(t *testing.T) {
	tests := []struct {
		count, cents int64
		want         float64
	}{
		{10, 54, 5.40},
		{0, 54, 0},
		{3, 199, 5.97},
		{1298, 49, 636.02},
	}

	for _, tt := range tests {
		if got := usage.Amount(tt.count, tt.cents); got != tt.want {
			t.Errorf("Amount(%d, %d) = %v, want %v", tt.count, tt.cents, got, tt.want)
		}
	}
}
