package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"marketwire/internal/announcement"
	"marketwire/internal/eventbus"
	"marketwire/internal/feed"
	"marketwire/internal/live"
	"marketwire/internal/rooms"
	logx "marketwire/pkg/logx"
)

type fakeFetcher struct {
	mu    sync.Mutex
	data  []announcement.Announcement
	err   error
	calls []string
}

func (f *fakeFetcher) FetchAnnouncements(ctx context.Context, start, end, industry string) ([]announcement.Announcement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s|%s|%s", start, end, industry))
	return f.data, f.err
}

func (f *fakeFetcher) set(data []announcement.Announcement, err error) {
	f.mu.Lock()
	f.data, f.err = data, err
	f.mu.Unlock()
}

type fakeConn struct {
	mu         sync.Mutex
	status     live.Status
	rooms      map[string]bool
	reconnects int
}

func newFakeConn(s live.Status) *fakeConn { return &fakeConn{status: s, rooms: map[string]bool{}} }

func (c *fakeConn) JoinRoom(room string)  { c.mu.Lock(); c.rooms[room] = true; c.mu.Unlock() }
func (c *fakeConn) LeaveRoom(room string) { c.mu.Lock(); delete(c.rooms, room); c.mu.Unlock() }
func (c *fakeConn) Status() live.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}
func (c *fakeConn) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	c.reconnects++
	c.mu.Unlock()
	return nil
}
func (c *fakeConn) has(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[room]
}

type fakeToasts struct {
	mu   sync.Mutex
	info []string
	errs []string
}

func (t *fakeToasts) Info(ctx context.Context, text string) {
	t.mu.Lock()
	t.info = append(t.info, text)
	t.mu.Unlock()
}
func (t *fakeToasts) Error(ctx context.Context, text string) {
	t.mu.Lock()
	t.errs = append(t.errs, text)
	t.mu.Unlock()
}

type resetCounter struct{ n int }

func (r *resetCounter) ResetSession() { r.n++ }

func sample() []announcement.Announcement {
	return []announcement.Announcement{
		{ID: "1", Company: "Acme", Ticker: "ACME", ISIN: "INE000000001", Category: "Dividend", Sentiment: announcement.Positive, Date: "2025-03-01T10:00:00Z", Summary: "Interim dividend"},
		{ID: "2", Company: "Beta", Ticker: "BETA", Category: "AGM", Sentiment: announcement.Neutral, Date: "2025-03-03T10:00:00Z", Summary: "Annual general meeting"},
		{ID: "3", Company: "Acme", Category: "AGM", Sentiment: announcement.Negative, Date: "2025-03-02T10:00:00Z", Summary: "Outcome of AGM"},
		{ID: "4", Company: "Gamma", Category: "Other", Date: "not a date", Summary: "Misc"},
	}
}

type fixture struct {
	d       *Dashboard
	fetcher *fakeFetcher
	conn    *fakeConn
	toasts  *fakeToasts
	resets  *resetCounter
	bus     eventbus.Bus
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	fx := &fixture{
		fetcher: &fakeFetcher{data: sample()},
		conn:    newFakeConn(live.StatusConnected),
		toasts:  &fakeToasts{},
		resets:  &resetCounter{},
		bus:     eventbus.New(),
	}
	if cfg.MinLoading == 0 {
		cfg.MinLoading = -1
	}
	fx.d = New(cfg, Options{
		Fetcher:  fx.fetcher,
		Conn:     fx.conn,
		Sessions: fx.resets,
		Toasts:   fx.toasts,
		Bus:      fx.bus,
		Log:      logx.Nop(),
		Now:      func() time.Time { return time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC) },
	})
	return fx
}

func TestLoadSuccessPagesNewestFirst(t *testing.T) {
	fx := newFixture(t, Config{PageSize: 2})
	if err := fx.d.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	p := fx.d.Page(context.Background(), 0)
	if p.Page != 1 || p.TotalPages != 2 || p.Total != 4 || p.Loading || p.Error != "" {
		t.Fatalf("page = %+v", p)
	}
	if p.Items[0].ID != "2" || p.Items[1].ID != "3" {
		t.Fatalf("order = %s,%s", p.Items[0].ID, p.Items[1].ID)
	}
	last := fx.d.Page(context.Background(), 9)
	if last.Page != 2 || last.Items[len(last.Items)-1].ID != "4" {
		t.Fatalf("clamped page = %+v", last)
	}
	for _, room := range []string{"all", "ACME", "INE000000001", "BETA"} {
		if !fx.conn.has(room) {
			t.Fatalf("room %q not joined", room)
		}
	}
}

func TestLoadWaitsForMinimumLoadingTime(t *testing.T) {
	fx := newFixture(t, Config{MinLoading: 60 * time.Millisecond})
	start := time.Now()
	_ = fx.d.Load(context.Background())
	if took := time.Since(start); took < 60*time.Millisecond {
		t.Fatalf("load returned after %v, want >= 60ms", took)
	}
}

func TestLoadFailureShowsPlaceholdersOnlyWhenEmpty(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.fetcher.set(nil, errors.New("boom"))

	if err := fx.d.Load(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	p := fx.d.Page(context.Background(), 1)
	if p.Error != LoadErrorMessage || p.Total != placeholderCount {
		t.Fatalf("page = %+v", p)
	}
	for _, it := range p.Items {
		if !strings.HasPrefix(it.Company, "Placeholder Company") || !strings.HasPrefix(it.ID, "placeholder-") {
			t.Fatalf("placeholder item = %+v", it)
		}
	}

	fx.fetcher.set(sample(), nil)
	_ = fx.d.Load(context.Background())
	fx.fetcher.set(nil, errors.New("boom again"))
	_ = fx.d.Load(context.Background())
	p = fx.d.Page(context.Background(), 1)
	if p.Error != LoadErrorMessage || p.Total != 4 {
		t.Fatalf("existing list should be kept on failure: %+v", p)
	}
}

func TestReloadResetsSessionAndToasts(t *testing.T) {
	fx := newFixture(t, Config{})
	if err := fx.d.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fx.resets.n != 1 || len(fx.toasts.info) != 1 || fx.toasts.info[0] != ReloadedMessage {
		t.Fatalf("resets=%d info=%v", fx.resets.n, fx.toasts.info)
	}

	fx.fetcher.set(nil, errors.New("down"))
	_ = fx.d.Reload(context.Background())
	if len(fx.toasts.errs) != 1 || fx.toasts.errs[0] != LoadErrorMessage {
		t.Fatalf("errs = %v", fx.toasts.errs)
	}
}

func TestRetryReconnectsOnlyFromError(t *testing.T) {
	fx := newFixture(t, Config{})
	_ = fx.d.Retry(context.Background())
	if fx.conn.reconnects != 0 {
		t.Fatal("connected: retry should not reconnect")
	}
	fx.conn.mu.Lock()
	fx.conn.status = live.StatusError
	fx.conn.mu.Unlock()
	_ = fx.d.Retry(context.Background())
	if fx.conn.reconnects != 1 || len(fx.fetcher.calls) != 2 {
		t.Fatalf("reconnects=%d fetches=%d", fx.conn.reconnects, len(fx.fetcher.calls))
	}
}

func TestSetFilters(t *testing.T) {
	fx := newFixture(t, Config{})
	_ = fx.d.Load(context.Background())

	err := fx.d.SetFilters(context.Background(), rooms.Filters{DateRange: rooms.DateRange{Start: "2025-03-05", End: "2025-03-01"}})
	if !errors.Is(err, feed.ErrInvalidDateRange) {
		t.Fatalf("err = %v", err)
	}

	// Client-side filters do not refetch.
	if err := fx.d.SetFilters(context.Background(), rooms.Filters{SelectedCompany: "Acme", Categories: []string{"AGM"}}); err != nil {
		t.Fatal(err)
	}
	if len(fx.fetcher.calls) != 1 {
		t.Fatalf("fetches = %d, want 1", len(fx.fetcher.calls))
	}
	p := fx.d.Page(context.Background(), 1)
	if p.Total != 1 || p.Items[0].ID != "3" {
		t.Fatalf("filtered = %+v", p.Items)
	}
	if !fx.conn.has("company:Acme") || !fx.conn.has("category:AGM") {
		t.Fatal("filter rooms not joined")
	}

	// A single industry refetches with it and joins its room.
	if err := fx.d.SetFilters(context.Background(), rooms.Filters{Industries: []string{"Banks"}}); err != nil {
		t.Fatal(err)
	}
	if got := fx.fetcher.calls[len(fx.fetcher.calls)-1]; got != "||Banks" {
		t.Fatalf("fetch args = %q", got)
	}
	if !fx.conn.has("industry:Banks") || fx.conn.has("company:Acme") {
		t.Fatal("rooms not recomputed")
	}
}

func TestFilterSearchAndSentiment(t *testing.T) {
	got := Filter(rooms.Filters{SearchTerm: "acme"}, sample())
	if len(got) != 2 {
		t.Fatalf("search = %d", len(got))
	}
	got = Filter(rooms.Filters{SearchTerm: "ine000"}, sample())
	if len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("isin search = %+v", got)
	}
	got = Filter(rooms.Filters{Sentiments: []string{"Negative", "Positive"}}, sample())
	if len(got) != 2 || got[0].ID != "3" || got[1].ID != "1" {
		t.Fatalf("sentiment = %+v", got)
	}
}

func TestMarksShowInPage(t *testing.T) {
	fx := newFixture(t, Config{})
	_ = fx.d.Load(context.Background())
	ctx := context.Background()
	_ = fx.d.MarkViewed(ctx, "2")
	saved, err := fx.d.ToggleSaved(ctx, "1")
	if err != nil || !saved {
		t.Fatalf("ToggleSaved = %v, %v", saved, err)
	}
	for _, it := range fx.d.Page(ctx, 1).Items {
		if (it.ID == "2") != it.Viewed || (it.ID == "1") != it.Saved {
			t.Fatalf("marks wrong on %+v", it)
		}
	}
}

func TestRunSyncsOnConnectionEventsAndLeavesOnExit(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.conn.mu.Lock()
	fx.conn.status = live.StatusDisconnected
	fx.conn.mu.Unlock()
	_ = fx.d.Load(context.Background())
	if fx.conn.has("all") {
		t.Fatal("rooms joined while disconnected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = fx.d.Run(ctx); close(done) }()

	fx.conn.mu.Lock()
	fx.conn.status = live.StatusConnected
	fx.conn.mu.Unlock()
	fx.bus.Publish(eventbus.Event{Type: live.EventConnected})

	deadline := time.Now().Add(2 * time.Second)
	for !fx.conn.has("all") {
		if time.Now().After(deadline) {
			t.Fatal("rooms not synced after connect event")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
	if fx.conn.has("all") {
		t.Fatal("rooms not left on exit")
	}
}

func TestScheduledRefreshRejectsBadSpec(t *testing.T) {
	fx := newFixture(t, Config{RefreshSchedule: "every now and then"})
	if err := fx.d.startCron(); err == nil {
		t.Fatal("expected parse error")
	}
	fx = newFixture(t, Config{RefreshSchedule: "@every 1h"})
	if err := fx.d.startCron(); err != nil {
		t.Fatal(err)
	}
	fx.d.stopCron()
}
