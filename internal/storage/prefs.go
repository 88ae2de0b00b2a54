package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	KeyNotificationAudio = "notificationAudio"
	KeySidebarCollapsed  = "sidebarCollapsed"

	SetViewedAnnouncements = "viewedAnnouncements"
	SetSavedFilings        = "savedFilings"

	audioDisabled = "disabled"
	audioEnabled  = "enabled"
)

// Preferences is the typed view over a Store. Every getter returns the
// default alongside any read error, so callers can log and carry on.
type Preferences struct {
	st Store
}

func NewPreferences(st Store) *Preferences {
	if st == nil {
		st = NewMemory()
	}
	return &Preferences{st: st}
}

// AudioEnabled is true unless the user explicitly disabled it.
func (p *Preferences) AudioEnabled(ctx context.Context) (bool, error) {
	v, ok, err := p.st.GetPref(ctx, KeyNotificationAudio)
	if err != nil || !ok {
		return true, err
	}
	return v != audioDisabled, nil
}

func (p *Preferences) SetAudioEnabled(ctx context.Context, enabled bool) error {
	v := audioDisabled
	if enabled {
		v = audioEnabled
	}
	return p.st.SetPref(ctx, KeyNotificationAudio, v)
}

func (p *Preferences) SidebarCollapsed(ctx context.Context) (bool, error) {
	v, ok, err := p.st.GetPref(ctx, KeySidebarCollapsed)
	if err != nil || !ok {
		return false, err
	}
	b, perr := strconv.ParseBool(v)
	if perr != nil {
		return false, nil
	}
	return b, nil
}

func (p *Preferences) SetSidebarCollapsed(ctx context.Context, collapsed bool) error {
	return p.st.SetPref(ctx, KeySidebarCollapsed, strconv.FormatBool(collapsed))
}

func (p *Preferences) MarkViewed(ctx context.Context, id string) error {
	return p.st.AddMember(ctx, SetViewedAnnouncements, id)
}

func (p *Preferences) Viewed(ctx context.Context) (map[string]bool, error) {
	return p.set(ctx, SetViewedAnnouncements)
}

// ToggleSaved flips id in the saved filings and reports the new state.
func (p *Preferences) ToggleSaved(ctx context.Context, id string) (bool, error) {
	saved, err := p.set(ctx, SetSavedFilings)
	if err != nil {
		return false, err
	}
	if saved[id] {
		return false, p.st.RemoveMember(ctx, SetSavedFilings, id)
	}
	return true, p.st.AddMember(ctx, SetSavedFilings, id)
}

func (p *Preferences) Saved(ctx context.Context) (map[string]bool, error) {
	return p.set(ctx, SetSavedFilings)
}

func (p *Preferences) set(ctx context.Context, name string) (map[string]bool, error) {
	ids, err := p.st.Members(ctx, name)
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, err
}

// View is the JSON shape of the toggles.
type View struct {
	AudioEnabled     bool `json:"audioEnabled"`
	SidebarCollapsed bool `json:"sidebarCollapsed"`
}

func (p *Preferences) View(ctx context.Context) (View, error) {
	audio, err1 := p.AudioEnabled(ctx)
	sidebar, err2 := p.SidebarCollapsed(ctx)
	if err1 != nil {
		return View{AudioEnabled: audio, SidebarCollapsed: sidebar}, err1
	}
	return View{AudioEnabled: audio, SidebarCollapsed: sidebar}, err2
}

// Watchlists manages named company lists.
type Watchlists struct {
	st  Store
	now func() time.Time
}

func NewWatchlists(st Store) *Watchlists {
	if st == nil {
		st = NewMemory()
	}
	return &Watchlists{st: st, now: time.Now}
}

func (w *Watchlists) Create(ctx context.Context, name string) (Watchlist, error) {
	wl := Watchlist{
		ID:        uuid.NewString(),
		Name:      name,
		Companies: []WatchedCompany{},
		CreatedAt: w.now().UTC().Truncate(time.Millisecond),
	}
	return wl, w.st.PutWatchlist(ctx, wl)
}

func (w *Watchlists) List(ctx context.Context) ([]Watchlist, error) {
	return w.st.ListWatchlists(ctx)
}

func (w *Watchlists) Get(ctx context.Context, id string) (Watchlist, error) {
	return w.st.GetWatchlist(ctx, id)
}

func (w *Watchlists) Delete(ctx context.Context, id string) error {
	return w.st.DeleteWatchlist(ctx, id)
}

// AddCompany appends c unless a company with the same id or ISIN is already
// on the list.
func (w *Watchlists) AddCompany(ctx context.Context, id string, c WatchedCompany) (Watchlist, error) {
	wl, err := w.st.GetWatchlist(ctx, id)
	if err != nil {
		return Watchlist{}, err
	}
	for _, have := range wl.Companies {
		if have.ID == c.ID || (c.ISIN != "" && have.ISIN == c.ISIN) {
			return wl, nil
		}
	}
	wl.Companies = append(wl.Companies, c)
	return wl, w.st.PutWatchlist(ctx, wl)
}

func (w *Watchlists) RemoveCompany(ctx context.Context, id, companyID string) (Watchlist, error) {
	wl, err := w.st.GetWatchlist(ctx, id)
	if err != nil {
		return Watchlist{}, err
	}
	kept := make([]WatchedCompany, 0, len(wl.Companies))
	for _, c := range wl.Companies {
		if c.ID != companyID {
			kept = append(kept, c)
		}
	}
	wl.Companies = kept
	return wl, w.st.PutWatchlist(ctx, wl)
}
