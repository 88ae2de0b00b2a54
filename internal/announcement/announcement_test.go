package announcement

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var fixedNow = time.Date(2025, 3, 5, 14, 30, 0, 0, time.UTC)

func TestDeriveID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  Raw
		want string
	}{
		{"corp_id wins", Raw{"corp_id": "C1", "id": "I1", "dedup_id": "D1"}, "C1"},
		{"id next", Raw{"id": "I1", "dedup_id": "D1"}, "I1"},
		{"dedup_id last explicit", Raw{"dedup_id": "D1"}, "D1"},
		{"numeric id", Raw{"id": float64(12345)}, "12345"},
		{"empty explicit ignored", Raw{"corp_id": "", "id": "I2"}, "I2"},
		{"company and summary", Raw{"companyname": "Acme", "summary": "Quarterly results announced today"}, "Acme-Quarterly results an"},
		{"ai summary alias", Raw{"company": "Acme", "ai_summary": "short"}, "Acme-short"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveID(tc.raw, fixedNow); got != tc.want {
				t.Fatalf("DeriveID = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDeriveIDFallbackIsFresh(t *testing.T) {
	t.Parallel()

	raw := Raw{"category": "Other"}
	a := DeriveID(raw, fixedNow)
	b := DeriveID(raw, fixedNow)
	prefix := "new-1741185000000-"
	if !strings.HasPrefix(a, prefix) || len(a) != len(prefix)+9 {
		t.Fatalf("unexpected fallback id %q", a)
	}
	if a == b {
		t.Fatalf("fallback ids collided: %q", a)
	}
}

func TestDeriveIDCountsRunes(t *testing.T) {
	t.Parallel()

	got := DeriveID(Raw{"companyname": "Ünï", "summary": "ééééééééééééééééééééééé"}, fixedNow)
	if got != "Ünï-"+strings.Repeat("é", 20) {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	a := Normalize(Raw{}, "x", fixedNow)
	if a.Company != DefaultCompany || a.Category != DefaultCategory || a.Sentiment != Neutral {
		t.Fatalf("defaults not applied: %+v", a)
	}
	if a.Date != "2025-03-05T14:30:00Z" || !a.IsNew || a.ID != "x" {
		t.Fatalf("unexpected record: %+v", a)
	}

	a = Normalize(Raw{
		"companyname": "Acme", "Symbol": "ACME", "ISIN": "INE000A01010",
		"Category": "Dividend", "created_at": "2025-01-02", "ai_summary": "ai", "summary": "plain",
		"sentiment": "bogus",
	}, "y", fixedNow)
	if a.Ticker != "ACME" || a.ISIN != "INE000A01010" || a.Category != "Dividend" || a.Date != "2025-01-02" {
		t.Fatalf("aliases not honored: %+v", a)
	}
	if a.Summary != "ai" || a.DetailedContent != "ai" {
		t.Fatalf("ai_summary should win: %+v", a)
	}
	if a.Sentiment != Neutral {
		t.Fatalf("invalid sentiment should become Neutral, got %q", a.Sentiment)
	}
}

func TestDefaultEnhancer(t *testing.T) {
	t.Parallel()

	in := Announcement{
		ID:        "1",
		Category:  DefaultCategory,
		Sentiment: Neutral,
		Date:      "2025-03-05T14:30:00Z",
		Summary:   "**Category:** Financial Results\n**Sentiment:** Positive\nRevenue up.",
	}
	out, err := DefaultEnhancer{}.Enhance(in)
	if err != nil {
		t.Fatal(err)
	}
	if out.Category != "Financial Results" || out.Sentiment != Positive {
		t.Fatalf("markers not parsed: %+v", out)
	}
	if out.DisplayDate != "05 Mar 2025, 14:30" {
		t.Fatalf("DisplayDate = %q", out.DisplayDate)
	}

	out, _ = DefaultEnhancer{}.Enhance(Announcement{ID: "2", Summary: "Net loss widened after penalty"})
	if out.Sentiment != Negative {
		t.Fatalf("keyword sentiment = %q, want Negative", out.Sentiment)
	}
}

func TestSafeEnhanceFallsBack(t *testing.T) {
	t.Parallel()

	in := Announcement{ID: "1", Company: "Acme"}
	cases := []struct {
		name string
		e    Enhancer
	}{
		{"error", EnhancerFunc(func(a Announcement) (Announcement, error) {
			a.Company = "changed"
			return a, errors.New("boom")
		})},
		{"panic", EnhancerFunc(func(a Announcement) (Announcement, error) { panic("bad") })},
		{"id change", EnhancerFunc(func(a Announcement) (Announcement, error) {
			a.ID = "other"
			return a, nil
		})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := SafeEnhance(tc.e, in)
			if err == nil {
				t.Fatal("expected error")
			}
			if out != in {
				t.Fatalf("expected original record, got %+v", out)
			}
		})
	}
}

func TestGroupOf(t *testing.T) {
	t.Parallel()

	if g := GroupOf("USFDA"); g != "Regulatory & Legal" {
		t.Fatalf("GroupOf(USFDA) = %q", g)
	}
	if g := GroupOf("Something New"); g != FallbackGroup {
		t.Fatalf("GroupOf(unknown) = %q", g)
	}
	if n := len(AllCategories()); n == 0 {
		t.Fatal("no categories")
	}
}
