package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"marketwire/internal/announcement"
	logx "marketwire/pkg/logx"
)

func newClient(t *testing.T, h http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	c := New(Config{
		BaseURL:  srv.URL + "/",
		Token:    "secret",
		Timeout:  2 * time.Second,
		Enhancer: announcement.DefaultEnhancer{},
		Now:      func() time.Time { return time.Date(2025, 3, 5, 14, 30, 0, 0, time.UTC) },
	}, logx.Nop())
	return c, &hits
}

func TestFetchAnnouncements(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/announcements" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("start_date") != "2025-03-01" || q.Get("end_date") != "2025-03-05" || q.Get("industry") != "Banks" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`{"data":[
			{"corp_id": 101, "companyname": "HDFC Bank", "symbol": "HDFCBANK", "ai_summary": "**Category:** Dividend\nInterim dividend declared", "date": "2025-03-04T10:00:00Z"},
			{},
			{"company": "Acme", "summary": "Board meeting outcome"}
		]}`))
	})

	got, err := c.FetchAnnouncements(context.Background(), "2025-03-01", "2025-03-05", "Banks")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d announcements, want 2", len(got))
	}
	if got[0].ID != "101" || got[0].Ticker != "HDFCBANK" || got[0].Category != "Dividend" || got[0].IsNew {
		t.Fatalf("first = %+v", got[0])
	}
	if got[1].ID != "Acme-Board meeting outcom" {
		t.Fatalf("second id = %q", got[1].ID)
	}
}

func TestFetchAnnouncementsBareArray(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"a1"}]`))
	})
	got, err := c.FetchAnnouncements(context.Background(), "", "", "")
	if err != nil || len(got) != 1 || got[0].Company != announcement.DefaultCompany {
		t.Fatalf("got %+v, %v", got, err)
	}
}

func TestInvalidDateRangeMakesNoRequest(t *testing.T) {
	c, hits := newClient(t, func(w http.ResponseWriter, r *http.Request) {})
	cases := [][2]string{
		{"2025/03/01", ""},
		{"", "yesterday"},
		{"2025-03-05", "2025-03-01"},
		{"2025-13-01", ""},
	}
	for _, tc := range cases {
		_, err := c.FetchAnnouncements(context.Background(), tc[0], tc[1], "")
		if !errors.Is(err, ErrInvalidDateRange) {
			t.Fatalf("range %v: err = %v", tc, err)
		}
	}
	if hits.Load() != 0 {
		t.Fatalf("requests made = %d", hits.Load())
	}
}

func TestHTTPError(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	})
	_, err := c.FetchAnnouncements(context.Background(), "", "", "")
	var he *HTTPError
	if !errors.As(err, &he) || he.Status != http.StatusBadGateway || he.Body != "backend down" {
		t.Fatalf("err = %v", err)
	}
}

func TestFetchStockPriceData(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stock_price" || r.URL.Query().Get("isin") != "INE040A01034" {
			t.Errorf("request = %s", r.URL)
		}
		_, _ = w.Write([]byte(`[{"date":"2025-03-04","open":1,"high":2,"low":0.5,"close":1.5,"volume":1000}]`))
	})
	got, err := c.FetchStockPriceData(context.Background(), "INE040A01034")
	if err != nil || len(got) != 1 || got[0].Close != 1.5 || got[0].Volume != 1000 {
		t.Fatalf("got %+v, %v", got, err)
	}
	if _, err := c.FetchStockPriceData(context.Background(), " "); err == nil {
		t.Fatal("empty isin should fail")
	}
}

func TestSearchCompanies(t *testing.T) {
	c, hits := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "hd" || r.URL.Query().Get("limit") != "2" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`[
			{"ISIN":"INE040A01034","NewName":"HDFC Bank","NewNSEcode":"HDFCBANK","industry":"Banks"},
			{"isin":"INE001A01036","oldname":"HDFC Ltd"},
			{"ISIN":"X"}
		]`))
	})

	got, err := c.SearchCompanies(context.Background(), "h", 5)
	if err != nil || got != nil || hits.Load() != 0 {
		t.Fatalf("short query: %v, %v, hits=%d", got, err, hits.Load())
	}

	got, err = c.SearchCompanies(context.Background(), "hd", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "HDFC Bank" || got[0].Ticker != "HDFCBANK" || got[0].ID != "INE040A01034" || got[1].Name != "HDFC Ltd" {
		t.Fatalf("got %+v", got)
	}
}
