// Package feed is the REST client for the authoritative announcement list,
// stock prices and company search.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"marketwire/internal/announcement"
	logx "marketwire/pkg/logx"
)

var ErrInvalidDateRange = errors.New("invalid date range")

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("feed: http %d", e.Status)
	}
	return fmt.Sprintf("feed: http %d: %s", e.Status, e.Body)
}

type StockPrice struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type Company struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Ticker   string `json:"ticker,omitempty"`
	ISIN     string `json:"isin,omitempty"`
	Industry string `json:"industry,omitempty"`
}

type Config struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	Enhancer announcement.Enhancer
	Now      func() time.Time
}

type Client struct {
	base  string
	token string
	http  *http.Client
	enh   announcement.Enhancer
	now   func() time.Time
	log   logx.Logger
}

const maxErrorBody = 512

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		token: cfg.Token,
		http:  &http.Client{Timeout: cfg.Timeout},
		enh:   cfg.Enhancer,
		now:   cfg.Now,
		log:   log,
	}
}

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidateDateRange accepts empty bounds; set bounds must be YYYY-MM-DD and
// ordered.
func ValidateDateRange(start, end string) error {
	var st, en time.Time
	var err error
	if start != "" {
		if !dateRe.MatchString(start) {
			return fmt.Errorf("%w: start %q", ErrInvalidDateRange, start)
		}
		if st, err = time.Parse("2006-01-02", start); err != nil {
			return fmt.Errorf("%w: start %q", ErrInvalidDateRange, start)
		}
	}
	if end != "" {
		if !dateRe.MatchString(end) {
			return fmt.Errorf("%w: end %q", ErrInvalidDateRange, end)
		}
		if en, err = time.Parse("2006-01-02", end); err != nil {
			return fmt.Errorf("%w: end %q", ErrInvalidDateRange, end)
		}
	}
	if start != "" && end != "" && st.After(en) {
		return fmt.Errorf("%w: start after end", ErrInvalidDateRange)
	}
	return nil
}

// FetchAnnouncements returns the authoritative list for the range, each item
// normalized and enhanced.
func (c *Client) FetchAnnouncements(ctx context.Context, start, end, industry string) ([]announcement.Announcement, error) {
	if err := ValidateDateRange(start, end); err != nil {
		return nil, err
	}
	q := url.Values{}
	if start != "" {
		q.Set("start_date", start)
	}
	if end != "" {
		q.Set("end_date", end)
	}
	if industry != "" {
		q.Set("industry", industry)
	}

	var raws []announcement.Raw
	if err := c.getList(ctx, "/announcements", q, &raws); err != nil {
		return nil, err
	}

	now := c.now()
	out := make([]announcement.Announcement, 0, len(raws))
	for _, r := range raws {
		if len(r) == 0 {
			continue
		}
		a := announcement.Normalize(r, announcement.DeriveID(r, now), now)
		a.IsNew = false
		enriched, err := announcement.SafeEnhance(c.enh, a)
		if err != nil {
			c.log.Debug("enhancement failed for fetched announcement", logx.String("id", a.ID), logx.Err(err))
		}
		out = append(out, enriched)
	}
	return out, nil
}

func (c *Client) FetchStockPriceData(ctx context.Context, isin string) ([]StockPrice, error) {
	isin = strings.TrimSpace(isin)
	if isin == "" {
		return nil, errors.New("feed: isin is required")
	}
	var out []StockPrice
	if err := c.getList(ctx, "/stock_price", url.Values{"isin": {isin}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchCompanies returns nil without a request for queries under 2 runes.
func (c *Client) SearchCompanies(ctx context.Context, query string, limit int) ([]Company, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < 2 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	q := url.Values{"q": {query}, "limit": {fmt.Sprint(limit)}}

	var raws []announcement.Raw
	if err := c.getList(ctx, "/companies/search", q, &raws); err != nil {
		return nil, err
	}
	out := make([]Company, 0, len(raws))
	for _, r := range raws {
		co := Company{
			ID:       r.Str("id", "ISIN", "isin"),
			Name:     r.Str("name", "NewName", "newname", "OldName", "oldname"),
			Ticker:   r.Str("ticker", "NewNSEcode", "newnsecode", "OldNSEcode", "oldnsecode"),
			ISIN:     r.Str("isin", "ISIN"),
			Industry: r.Str("industry"),
		}
		if co.Name == "" {
			continue
		}
		out = append(out, co)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// getList GETs path and decodes either a bare JSON array or an object with
// the array under "data".
func (c *Client) getList(ctx context.Context, path string, q url.Values, out any) error {
	u, err := url.Parse(c.base + path)
	if err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("GET %s: read body: %w", path, err)
	}
	c.log.Debug("feed request", logx.String("path", path), logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return &HTTPError{Status: resp.StatusCode, Body: msg}
	}

	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return fmt.Errorf("GET %s: decode: %w", path, err)
		}
		body = env.Data
	}
	if len(body) == 0 || string(body) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}
