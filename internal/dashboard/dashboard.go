// Package dashboard holds the announcement list the user is looking at:
// loading it from the REST backend, filtering and paging it, and keeping
// live room membership in line with what is shown.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"marketwire/internal/announcement"
	"marketwire/internal/eventbus"
	"marketwire/internal/feed"
	"marketwire/internal/live"
	"marketwire/internal/rooms"
	"marketwire/internal/storage"
	logx "marketwire/pkg/logx"
)

const (
	LoadErrorMessage = "Failed to load announcements. Please try again."
	ReloadedMessage  = "Announcements reloaded!"

	DefaultPageSize   = 15
	DefaultMinLoading = 500 * time.Millisecond

	placeholderCount = 3
)

type Fetcher interface {
	FetchAnnouncements(ctx context.Context, start, end, industry string) ([]announcement.Announcement, error)
}

// Connection is the part of the live manager the dashboard uses.
type Connection interface {
	rooms.Joiner
	Status() live.Status
	Reconnect(ctx context.Context) error
}

// SessionResetter forgets processed announcement ids. *pipeline.Pipeline
// satisfies it.
type SessionResetter interface {
	ResetSession()
}

type Toasts interface {
	Info(ctx context.Context, text string)
	Error(ctx context.Context, text string)
}

type Config struct {
	PageSize        int
	MinLoading      time.Duration
	RefreshSchedule string
	Timezone        string
	LookbackDays    int
	Industry        string
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MinLoading < 0 {
		c.MinLoading = 0
	} else if c.MinLoading == 0 {
		c.MinLoading = DefaultMinLoading
	}
	return c
}

type Options struct {
	Fetcher  Fetcher
	Conn     Connection
	Sessions SessionResetter
	Toasts   Toasts
	Prefs    *storage.Preferences
	Bus      eventbus.Bus
	Log      logx.Logger
	Now      func() time.Time
}

type Dashboard struct {
	opt    Options
	log    logx.Logger
	policy *rooms.Policy

	events <-chan eventbus.Event
	unsub  func()

	mu      sync.Mutex
	cfg     Config
	filters rooms.Filters
	list    []announcement.Announcement
	loading bool
	errMsg  string
	page    int
	loadSeq uint64

	cronMu sync.Mutex
	cron   *cron.Cron
}

func New(cfg Config, opt Options) *Dashboard {
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Prefs == nil {
		opt.Prefs = storage.NewPreferences(nil)
	}
	cfg = cfg.withDefaults()
	d := &Dashboard{
		opt:  opt,
		log:  opt.Log,
		cfg:  cfg,
		page: 1,
	}
	d.filters = d.defaultFilters(cfg)
	if opt.Conn != nil {
		d.policy = rooms.NewPolicy(opt.Conn, opt.Log)
	}
	if opt.Bus != nil {
		d.events, d.unsub = opt.Bus.Subscribe(16, live.EventConnected, live.EventDisconnected)
	}
	return d
}

func (d *Dashboard) defaultFilters(cfg Config) rooms.Filters {
	f := rooms.Filters{}
	if cfg.Industry != "" {
		f.Industries = []string{cfg.Industry}
	}
	if cfg.LookbackDays > 0 {
		now := d.opt.Now().In(d.location(cfg))
		f.DateRange = rooms.DateRange{
			Start: now.AddDate(0, 0, -cfg.LookbackDays).Format("2006-01-02"),
			End:   now.Format("2006-01-02"),
		}
	}
	return f
}

func (d *Dashboard) location(cfg Config) *time.Location {
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
		d.log.Warn("invalid dashboard timezone; using local", logx.String("tz", tz))
	}
	return time.Local
}

// Apply swaps hot-reloadable settings. A changed refresh schedule takes
// effect immediately when Run is active.
func (d *Dashboard) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	old := d.cfg
	d.cfg = cfg
	d.mu.Unlock()

	if old.RefreshSchedule != cfg.RefreshSchedule || old.Timezone != cfg.Timezone {
		d.cronMu.Lock()
		running := d.cron != nil
		d.cronMu.Unlock()
		if running {
			d.stopCron()
			if err := d.startCron(); err != nil {
				d.log.Warn("refresh schedule not applied", logx.Err(err))
			}
		}
	}
}

// Load fetches the list for the current filters. The loading state lasts at
// least MinLoading even when the fetch returns sooner. On failure the page
// error is set and, if nothing was loaded yet, placeholder rows are shown.
// A load overtaken by a newer one discards its result.
func (d *Dashboard) Load(ctx context.Context) error {
	d.mu.Lock()
	d.loadSeq++
	seq := d.loadSeq
	d.loading = true
	d.errMsg = ""
	f := d.filters.Clone()
	minLoading := d.cfg.MinLoading
	d.mu.Unlock()

	guard := time.NewTimer(minLoading)
	defer guard.Stop()

	industry, _ := f.SingleIndustry()
	data, err := d.fetch(ctx, f.DateRange, industry)

	select {
	case <-guard.C:
	case <-ctx.Done():
	}

	d.mu.Lock()
	if seq != d.loadSeq {
		d.mu.Unlock()
		d.log.Debug("load result superseded", logx.Int64("seq", int64(seq)))
		return err
	}
	d.loading = false
	if err != nil {
		d.errMsg = LoadErrorMessage
		if len(d.list) == 0 {
			d.list = placeholders(d.opt.Now())
		}
		d.mu.Unlock()
		d.log.Warn("failed to load announcements", logx.Err(err))
		d.SyncRooms()
		return err
	}
	d.list = data
	d.page = 1
	d.mu.Unlock()

	d.log.Info("announcements loaded", logx.Int("count", len(data)))
	d.SyncRooms()
	return nil
}

func (d *Dashboard) fetch(ctx context.Context, dr rooms.DateRange, industry string) ([]announcement.Announcement, error) {
	if d.opt.Fetcher == nil {
		return nil, errors.New("dashboard: no fetcher")
	}
	return d.opt.Fetcher.FetchAnnouncements(ctx, dr.Start, dr.End, industry)
}

func placeholders(now time.Time) []announcement.Announcement {
	categories := []string{"Financial Results", "Dividend", "Mergers & Acquisitions"}
	sentiments := []announcement.Sentiment{announcement.Positive, announcement.Negative, announcement.Neutral}
	out := make([]announcement.Announcement, 0, placeholderCount)
	for i := 0; i < placeholderCount; i++ {
		date := now.Add(-time.Duration(i) * time.Hour).UTC().Format(time.RFC3339)
		summary := fmt.Sprintf("**Category:** %s\nPlaceholder shown because the announcement list could not be loaded.", categories[i])
		out = append(out, announcement.Announcement{
			ID:              fmt.Sprintf("placeholder-%d-%d", i, now.UnixMilli()),
			Company:         fmt.Sprintf("Placeholder Company %d", i+1),
			Ticker:          fmt.Sprintf("PH%d", i+1),
			ISIN:            fmt.Sprintf("PLACEHOLDER%d", i),
			Category:        categories[i],
			Sentiment:       sentiments[i],
			Date:            date,
			DisplayDate:     announcement.FormatDisplayDate(date),
			Summary:         summary,
			DetailedContent: summary,
		})
	}
	return out
}

// Reload is the badge's reload action: forget processed ids, refetch, and
// confirm with a toast.
func (d *Dashboard) Reload(ctx context.Context) error {
	if d.opt.Sessions != nil {
		d.opt.Sessions.ResetSession()
	}
	err := d.Load(ctx)
	if d.opt.Toasts != nil {
		if err != nil {
			d.opt.Toasts.Error(ctx, LoadErrorMessage)
		} else {
			d.opt.Toasts.Info(ctx, ReloadedMessage)
		}
	}
	return err
}

// Retry reconnects first when the connection is in error, then reloads the
// list. A throttled reconnect does not prevent the load.
func (d *Dashboard) Retry(ctx context.Context) error {
	if d.opt.Conn != nil && d.opt.Conn.Status() == live.StatusError {
		if err := d.opt.Conn.Reconnect(ctx); err != nil {
			d.log.Warn("reconnect during retry failed", logx.Err(err))
		}
	}
	return d.Load(ctx)
}

// SetFilters replaces the filters. A changed date range or industry
// selection refetches; anything else only re-filters.
func (d *Dashboard) SetFilters(ctx context.Context, f rooms.Filters) error {
	if err := feed.ValidateDateRange(f.DateRange.Start, f.DateRange.End); err != nil {
		return err
	}
	f = f.Clone()

	d.mu.Lock()
	old := d.filters
	d.filters = f
	d.page = 1
	d.mu.Unlock()

	if old.DateRange != f.DateRange || !sameStrings(old.Industries, f.Industries) {
		return d.Load(ctx)
	}
	d.SyncRooms()
	return nil
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (d *Dashboard) Filters() rooms.Filters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filters.Clone()
}

// SyncRooms brings live room membership in line with the filters and the
// loaded list.
func (d *Dashboard) SyncRooms() {
	if d.policy == nil {
		return
	}
	d.mu.Lock()
	f := d.filters.Clone()
	loaded := append([]announcement.Announcement(nil), d.list...)
	d.mu.Unlock()
	d.policy.Sync(d.opt.Conn.Status() == live.StatusConnected, f, loaded)
}

func (d *Dashboard) MarkViewed(ctx context.Context, id string) error {
	return d.opt.Prefs.MarkViewed(ctx, id)
}

func (d *Dashboard) ToggleSaved(ctx context.Context, id string) (bool, error) {
	return d.opt.Prefs.ToggleSaved(ctx, id)
}

// Run keeps rooms in sync with connection changes and drives the scheduled
// refresh until ctx is done. On exit every joined room is left.
func (d *Dashboard) Run(ctx context.Context) error {
	if err := d.startCron(); err != nil {
		d.log.Warn("refresh schedule disabled", logx.Err(err))
	}
	defer func() {
		d.stopCron()
		if d.unsub != nil {
			d.unsub()
		}
		if d.policy != nil {
			d.policy.Close()
		}
	}()

	if d.events == nil {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-d.events:
			if !ok {
				return nil
			}
			d.SyncRooms()
		}
	}
}

func (d *Dashboard) startCron() error {
	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()
	spec := strings.TrimSpace(cfg.RefreshSchedule)
	if spec == "" {
		return nil
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(d.location(cfg)))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := d.Load(ctx); err != nil {
			d.log.Debug("scheduled refresh failed", logx.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("refresh_schedule %q: %w", spec, err)
	}

	d.cronMu.Lock()
	d.cron = c
	d.cronMu.Unlock()
	c.Start()
	d.log.Info("scheduled refresh enabled", logx.String("schedule", spec))
	return nil
}

func (d *Dashboard) stopCron() {
	d.cronMu.Lock()
	c := d.cron
	d.cron = nil
	d.cronMu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Item is an announcement as listed, with the user's marks.
type Item struct {
	announcement.Announcement
	Viewed bool `json:"viewed"`
	Saved  bool `json:"saved"`
}

type PageView struct {
	Items      []Item        `json:"items"`
	Page       int           `json:"page"`
	TotalPages int           `json:"totalPages"`
	Total      int           `json:"total"`
	Loading    bool          `json:"loading"`
	Error      string        `json:"error,omitempty"`
	Filters    rooms.Filters `json:"filters"`
}

// Page returns page n of the filtered list, newest first. n <= 0 means the
// current page; out-of-range pages are clamped.
func (d *Dashboard) Page(ctx context.Context, n int) PageView {
	d.mu.Lock()
	f := d.filters.Clone()
	list := append([]announcement.Announcement(nil), d.list...)
	size := d.cfg.PageSize
	loading, errMsg := d.loading, d.errMsg
	if n <= 0 {
		n = d.page
	}
	d.mu.Unlock()

	filtered := Filter(f, list)
	total := len(filtered)
	pages := (total + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	if n > pages {
		n = pages
	}
	d.mu.Lock()
	d.page = n
	d.mu.Unlock()

	viewed, err := d.opt.Prefs.Viewed(ctx)
	if err != nil {
		d.log.Warn("viewed announcements unavailable", logx.Err(err))
	}
	saved, err := d.opt.Prefs.Saved(ctx)
	if err != nil {
		d.log.Warn("saved filings unavailable", logx.Err(err))
	}

	lo := (n - 1) * size
	hi := lo + size
	if hi > total {
		hi = total
	}
	items := make([]Item, 0, hi-lo)
	for _, a := range filtered[lo:hi] {
		items = append(items, Item{Announcement: a, Viewed: viewed[a.ID], Saved: saved[a.ID]})
	}
	return PageView{
		Items:      items,
		Page:       n,
		TotalPages: pages,
		Total:      total,
		Loading:    loading,
		Error:      errMsg,
		Filters:    f,
	}
}

// Filter narrows list by company, search term, category and sentiment and
// sorts it newest first. Undated entries sort last.
func Filter(f rooms.Filters, list []announcement.Announcement) []announcement.Announcement {
	term := strings.ToLower(strings.TrimSpace(f.SearchTerm))
	out := make([]announcement.Announcement, 0, len(list))
	for _, a := range list {
		if f.SelectedCompany != "" && a.Company != f.SelectedCompany {
			continue
		}
		if term != "" && !matches(a, term) {
			continue
		}
		if len(f.Categories) > 0 && !contains(f.Categories, a.Category) {
			continue
		}
		if len(f.Sentiments) > 0 && (a.Sentiment == "" || !contains(f.Sentiments, string(a.Sentiment))) {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, oki := out[i].Time()
		tj, okj := out[j].Time()
		if oki != okj {
			return oki
		}
		return ti.After(tj)
	})
	return out
}

func matches(a announcement.Announcement, term string) bool {
	for _, s := range []string{a.Company, a.Summary, a.Ticker, a.ISIN} {
		if s != "" && strings.Contains(strings.ToLower(s), term) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
