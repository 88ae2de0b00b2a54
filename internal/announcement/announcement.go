// Package announcement holds the canonical announcement record and the rules
// that turn loosely-shaped inbound payloads into it.
package announcement

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Sentiment string

const (
	Positive Sentiment = "Positive"
	Negative Sentiment = "Negative"
	Neutral  Sentiment = "Neutral"
)

func (s Sentiment) Valid() bool {
	switch s {
	case Positive, Negative, Neutral:
		return true
	}
	return false
}

// EventReceived is the bus event carrying each newly processed Announcement.
const EventReceived = "announcement.received"

const (
	DefaultCompany  = "Unknown Company"
	DefaultCategory = "Other"
)

// Announcement is the canonical record. ID never changes once assigned.
type Announcement struct {
	ID              string    `json:"id"`
	Company         string    `json:"company"`
	Ticker          string    `json:"ticker"`
	ISIN            string    `json:"isin"`
	Category        string    `json:"category"`
	Sentiment       Sentiment `json:"sentiment"`
	Date            string    `json:"date"`
	DisplayDate     string    `json:"displayDate,omitempty"`
	Summary         string    `json:"summary"`
	DetailedContent string    `json:"detailedContent"`
	IsNew           bool      `json:"isNew"`
}

// Raw is an inbound payload as decoded from JSON. Field names vary by
// producer, so lookups go through aliases.
type Raw map[string]any

// Str returns the first non-empty value among keys, stringified.
func (r Raw) Str(keys ...string) string {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		if s := stringify(v); s != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		if !x {
			return ""
		}
		return "true"
	case map[string]any, []any:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

const summaryKeyLen = 20

// DeriveID picks the announcement identity: an explicit id (corp_id, id,
// dedup_id), then "<company>-<first 20 runes of summary>", then a fresh
// "new-<unix ms>-<9 random chars>".
func DeriveID(r Raw, now time.Time) string {
	if id := r.Str("corp_id", "id", "dedup_id"); id != "" {
		return id
	}
	company := r.Str("companyname", "company")
	summary := r.Str("summary", "ai_summary")
	if company != "" && summary != "" {
		return company + "-" + prefixRunes(summary, summaryKeyLen)
	}
	return fmt.Sprintf("new-%d-%s", now.UnixMilli(), randomSuffix())
}

func randomSuffix() string {
	s := strings.ReplaceAll(uuid.NewString(), "-", "")
	return s[:9]
}

func prefixRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Normalize maps a raw payload onto the canonical record under id, applying
// defaults for absent fields. Records produced here are always marked new.
func Normalize(r Raw, id string, now time.Time) Announcement {
	a := Announcement{
		ID:        id,
		Company:   r.Str("companyname", "company"),
		Ticker:    r.Str("symbol", "Symbol", "ticker"),
		ISIN:      r.Str("isin", "ISIN"),
		Category:  r.Str("category", "Category"),
		Sentiment: Sentiment(r.Str("sentiment", "Sentiment")),
		Date:      r.Str("date", "created_at"),
		Summary:   r.Str("ai_summary", "summary"),
		IsNew:     true,
	}
	a.DetailedContent = a.Summary
	if a.Company == "" {
		a.Company = DefaultCompany
	}
	if a.Category == "" {
		a.Category = DefaultCategory
	}
	if !a.Sentiment.Valid() {
		a.Sentiment = Neutral
	}
	if a.Date == "" {
		a.Date = now.UTC().Format(time.RFC3339)
	}
	return a
}

// Time parses Date in the formats producers are known to use.
func (a Announcement) Time() (time.Time, bool) {
	return parseDate(a.Date)
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatDisplayDate renders a date for humans, e.g. "05 Mar 2025, 14:30".
// Unparseable input is returned unchanged.
func FormatDisplayDate(s string) string {
	t, ok := parseDate(s)
	if !ok {
		return s
	}
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format("02 Jan 2006")
	}
	return t.Format("02 Jan 2006, 15:04")
}
