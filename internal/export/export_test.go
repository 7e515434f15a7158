package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/Simplici0/engineroom/internal/pricing"
)

func sampleResults() []pricing.ItemResult {
	return []pricing.ItemResult{
		{ItemID: "a", Description: "plain, with comma", UsageRank: 1, Group: "group1_2", Rule: "rule1", Trend: "trend_down", AverageCost: 10, CurrentPrice: 11, ProposedPrice: 11.123456, CurrentMargin: 9.0909, ProposedMargin: 10.0999, Multiplier: 1.1123456, RuleApplied: "rule1_trend_down"},
		{ItemID: "b", UsageRank: 3, CurrentPrice: 5, ProposedPrice: 5.00004, Flagged: true, FlagReason: "RULE1_ABOVE_MARKET", Flags: []pricing.Flag{pricing.FlagAboveMarket}},
		{ItemID: "c", UsageRank: 6, CurrentPrice: 2, ProposedPrice: 2, MarginCapApplied: true},
	}
}

func readAll(t *testing.T, buf *bytes.Buffer) [][]string {
	t.Helper()
	records, err := csv.NewReader(buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return records
}

func column(name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

func TestWriteCSVAll(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteCSV(&buf, sampleResults(), All)
	if err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("WriteCSV() = %d rows, want 3", n)
	}

	records := readAll(t, &buf)
	if len(records) != 4 {
		t.Fatalf("got %d records, want header + 3", len(records))
	}
	if strings.Join(records[0], ",") != strings.Join(header, ",") {
		t.Fatalf("unexpected header: %v", records[0])
	}

	first := records[1]
	if first[column("description")] != "plain, with comma" {
		t.Fatalf("description not preserved: %q", first[column("description")])
	}
	if got := first[column("proposed_price")]; got != "11.1235" {
		t.Fatalf("proposed_price = %q, want 11.1235", got)
	}
	if got := first[column("price_change")]; got != "0.1235" {
		t.Fatalf("price_change = %q, want 0.1235", got)
	}
	if got := first[column("proposed_margin_pct")]; got != "10.10" {
		t.Fatalf("proposed_margin_pct = %q, want 10.10", got)
	}
	if got := records[3][column("margin_cap_applied")]; got != "true" {
		t.Fatalf("margin_cap_applied = %q, want true", got)
	}
}

func TestWriteCSVFilters(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "flagged", filter: FlaggedOnly, want: []string{"b"}},
		{name: "changed ignores sub-display differences", filter: ChangedOnly, want: []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			n, err := WriteCSV(&buf, sampleResults(), tt.filter)
			if err != nil {
				t.Fatalf("WriteCSV() error = %v", err)
			}
			if n != len(tt.want) {
				t.Fatalf("WriteCSV() = %d rows, want %d", n, len(tt.want))
			}
			records := readAll(t, &buf)
			for i, id := range tt.want {
				if records[i+1][0] != id {
					t.Fatalf("row %d id = %q, want %q", i, records[i+1][0], id)
				}
			}
		})
	}
}

func TestRoundPriceHalfAwayFromZero(t *testing.T) {
	if got := RoundPrice(1.00005).StringFixed(4); got != "1.0001" {
		t.Fatalf("RoundPrice(1.00005) = %s, want 1.0001", got)
	}
	if got := RoundPrice(2.5).StringFixed(4); got != "2.5000" {
		t.Fatalf("RoundPrice(2.5) = %s, want 2.5000", got)
	}
}

func TestParseFilter(t *testing.T) {
	for in, want := range map[string]Filter{"": All, "all": All, "flagged": FlaggedOnly, "changed": ChangedOnly} {
		got, err := ParseFilter(in)
		if err != nil || got != want {
			t.Fatalf("ParseFilter(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseFilter("everything"); err == nil {
		t.Fatalf("expected error for unknown filter")
	}
}
