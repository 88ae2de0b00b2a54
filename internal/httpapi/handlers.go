// Package httpapi exposes connection status, the badge, the announcement
// list, preferences and a live event stream over a local HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"marketwire/internal/announcement"
	"marketwire/internal/badge"
	"marketwire/internal/dashboard"
	"marketwire/internal/eventbus"
	"marketwire/internal/feed"
	"marketwire/internal/live"
	"marketwire/internal/notifier"
	"marketwire/internal/pipeline"
	"marketwire/internal/rooms"
	"marketwire/internal/storage"
	logx "marketwire/pkg/logx"
)

type Connection interface {
	State() live.State
	Reconnect(ctx context.Context) error
}

type Badge interface {
	View() badge.View
	Click(ctx context.Context) error
}

type Dashboard interface {
	Page(ctx context.Context, n int) dashboard.PageView
	SetFilters(ctx context.Context, f rooms.Filters) error
	MarkViewed(ctx context.Context, id string) error
	ToggleSaved(ctx context.Context, id string) (bool, error)
}

type Feed interface {
	FetchStockPriceData(ctx context.Context, isin string) ([]feed.StockPrice, error)
	SearchCompanies(ctx context.Context, q string, limit int) ([]feed.Company, error)
}

type Stats interface {
	Stats() pipeline.Stats
}

// ToastHistory lists recently delivered toasts.
type ToastHistory interface {
	History() []notifier.HistoryItem
}

// Audio is the inline indicator's sound toggle.
type Audio interface {
	AudioEnabled() bool
	SetAudio(ctx context.Context, on bool) error
}

// Indicator is the inline "n new updates" counter.
type Indicator interface {
	Count() int
	Label() string
	Clear()
}

// ToastCache reports how many ids are currently suppressed from toasting.
type ToastCache interface {
	Len() int
}

// Handlers holds dependencies for HTTP handlers. Nil dependencies answer
// 503 on their routes.
type Handlers struct {
	Conn       Connection
	Badge      Badge
	Dashboard  Dashboard
	Feed       Feed
	Stats      Stats
	Audio      Audio
	Indicator  Indicator
	Toasts     ToastHistory
	ToastCache ToastCache
	Prefs      *storage.Preferences
	Watchlists *storage.Watchlists
	Bus        eventbus.Bus
	Log        logx.Logger

	// Heartbeat is the SSE keepalive interval. Defaults to 20s.
	Heartbeat time.Duration
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func unavailable(w http.ResponseWriter) {
	writeError(w, http.StatusServiceUnavailable, "not available")
}

func (h *Handlers) log() logx.Logger {
	if h.Log.IsZero() {
		return logx.Nop()
	}
	return h.Log
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type indicatorView struct {
	Count int    `json:"count"`
	Label string `json:"label,omitempty"`
}

type statusResponse struct {
	Connection    live.State      `json:"connection"`
	Pipeline      *pipeline.Stats `json:"pipeline,omitempty"`
	Indicator     *indicatorView  `json:"indicator,omitempty"`
	ToastCache    *int            `json:"toastCache,omitempty"`
	EventsDropped *uint64         `json:"eventsDropped,omitempty"`
}

func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Conn == nil {
		unavailable(w)
		return
	}
	resp := statusResponse{Connection: h.Conn.State()}
	if h.Stats != nil {
		st := h.Stats.Stats()
		resp.Pipeline = &st
	}
	if h.Indicator != nil {
		resp.Indicator = &indicatorView{Count: h.Indicator.Count(), Label: h.Indicator.Label()}
	}
	if h.ToastCache != nil {
		n := h.ToastCache.Len()
		resp.ToastCache = &n
	}
	if h.Bus != nil {
		n := h.Bus.Dropped()
		resp.EventsDropped = &n
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleIndicatorClear resets the inline counter once the user has seen
// the new announcements.
func (h *Handlers) HandleIndicatorClear(w http.ResponseWriter, r *http.Request) {
	if h.Indicator == nil {
		unavailable(w)
		return
	}
	h.Indicator.Clear()
	writeJSON(w, http.StatusOK, indicatorView{Count: h.Indicator.Count(), Label: h.Indicator.Label()})
}

func (h *Handlers) HandleReconnect(w http.ResponseWriter, r *http.Request) {
	if h.Conn == nil {
		unavailable(w)
		return
	}
	err := h.Conn.Reconnect(r.Context())
	switch {
	case errors.Is(err, live.ErrReconnectThrottled):
		w.Header().Set("Retry-After", "2")
		writeError(w, http.StatusTooManyRequests, err.Error())
	case err != nil:
		writeJSON(w, http.StatusBadGateway, struct {
			Error      string     `json:"error"`
			Connection live.State `json:"connection"`
		}{err.Error(), h.Conn.State()})
	default:
		writeJSON(w, http.StatusOK, statusResponse{Connection: h.Conn.State()})
	}
}

func (h *Handlers) HandleBadge(w http.ResponseWriter, r *http.Request) {
	if h.Badge == nil {
		unavailable(w)
		return
	}
	writeJSON(w, http.StatusOK, h.Badge.View())
}

func (h *Handlers) HandleBadgeClick(w http.ResponseWriter, r *http.Request) {
	if h.Badge == nil {
		unavailable(w)
		return
	}
	if err := h.Badge.Click(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, struct {
			Error string     `json:"error"`
			Badge badge.View `json:"badge"`
		}{err.Error(), h.Badge.View()})
		return
	}
	writeJSON(w, http.StatusOK, h.Badge.View())
}

func (h *Handlers) HandleAnnouncements(w http.ResponseWriter, r *http.Request) {
	if h.Dashboard == nil {
		unavailable(w)
		return
	}
	page := 0
	if s := r.URL.Query().Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		page = n
	}
	writeJSON(w, http.StatusOK, h.Dashboard.Page(r.Context(), page))
}

func (h *Handlers) HandleSetFilters(w http.ResponseWriter, r *http.Request) {
	if h.Dashboard == nil {
		unavailable(w)
		return
	}
	var f rooms.Filters
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := h.Dashboard.SetFilters(r.Context(), f)
	if errors.Is(err, feed.ErrInvalidDateRange) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		// Filters are applied; only the refetch failed. The page carries the error.
		h.log().Debug("refetch after filter change failed", logx.Err(err))
	}
	writeJSON(w, http.StatusOK, h.Dashboard.Page(r.Context(), 1))
}

func (h *Handlers) HandleMarkViewed(w http.ResponseWriter, r *http.Request) {
	if h.Dashboard == nil {
		unavailable(w)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.Dashboard.MarkViewed(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "viewed": true})
}

func (h *Handlers) HandleToggleSaved(w http.ResponseWriter, r *http.Request) {
	if h.Dashboard == nil {
		unavailable(w)
		return
	}
	id := chi.URLParam(r, "id")
	saved, err := h.Dashboard.ToggleSaved(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "saved": saved})
}

func (h *Handlers) feedError(w http.ResponseWriter, err error) {
	var he *feed.HTTPError
	if errors.As(err, &he) {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("upstream returned %d", he.Status))
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

func (h *Handlers) HandleStock(w http.ResponseWriter, r *http.Request) {
	if h.Feed == nil {
		unavailable(w)
		return
	}
	prices, err := h.Feed.FetchStockPriceData(r.Context(), chi.URLParam(r, "isin"))
	if err != nil {
		h.feedError(w, err)
		return
	}
	if prices == nil {
		prices = []feed.StockPrice{}
	}
	writeJSON(w, http.StatusOK, prices)
}

func (h *Handlers) HandleCompanies(w http.ResponseWriter, r *http.Request) {
	if h.Feed == nil {
		unavailable(w)
		return
	}
	limit := 5
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 50 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 50")
			return
		}
		limit = n
	}
	companies, err := h.Feed.SearchCompanies(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		h.feedError(w, err)
		return
	}
	if companies == nil {
		companies = []feed.Company{}
	}
	writeJSON(w, http.StatusOK, companies)
}

func (h *Handlers) HandleToasts(w http.ResponseWriter, r *http.Request) {
	if h.Toasts == nil {
		unavailable(w)
		return
	}
	items := h.Toasts.History()
	if items == nil {
		items = []notifier.HistoryItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handlers) HandleListWatchlists(w http.ResponseWriter, r *http.Request) {
	if h.Watchlists == nil {
		unavailable(w)
		return
	}
	list, err := h.Watchlists.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type createWatchlistRequest struct {
	Name string `json:"name"`
}

func (h *Handlers) HandleCreateWatchlist(w http.ResponseWriter, r *http.Request) {
	if h.Watchlists == nil {
		unavailable(w)
		return
	}
	var req createWatchlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	wl, err := h.Watchlists.Create(r.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, wl)
}

func (h *Handlers) HandleAddToWatchlist(w http.ResponseWriter, r *http.Request) {
	if h.Watchlists == nil {
		unavailable(w)
		return
	}
	var c storage.WatchedCompany
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil || (c.ID == "" && c.ISIN == "") || c.Name == "" {
		writeError(w, http.StatusBadRequest, "company needs a name and an id or isin")
		return
	}
	if c.ID == "" {
		c.ID = c.ISIN
	}
	wl, err := h.Watchlists.AddCompany(r.Context(), chi.URLParam(r, "id"), c)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "watchlist not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wl)
}

func (h *Handlers) HandleRemoveFromWatchlist(w http.ResponseWriter, r *http.Request) {
	if h.Watchlists == nil {
		unavailable(w)
		return
	}
	wl, err := h.Watchlists.RemoveCompany(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "companyID"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "watchlist not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wl)
}

func (h *Handlers) HandleDeleteWatchlist(w http.ResponseWriter, r *http.Request) {
	if h.Watchlists == nil {
		unavailable(w)
		return
	}
	err := h.Watchlists.Delete(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "watchlist not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) HandleGetPreferences(w http.ResponseWriter, r *http.Request) {
	if h.Prefs == nil {
		unavailable(w)
		return
	}
	v, err := h.Prefs.View(r.Context())
	if err != nil {
		h.log().Warn("preferences unavailable; showing defaults", logx.Err(err))
	}
	if h.Audio != nil {
		v.AudioEnabled = h.Audio.AudioEnabled()
	}
	writeJSON(w, http.StatusOK, v)
}

type preferencesRequest struct {
	AudioEnabled     *bool `json:"audioEnabled"`
	SidebarCollapsed *bool `json:"sidebarCollapsed"`
}

func (h *Handlers) HandlePutPreferences(w http.ResponseWriter, r *http.Request) {
	if h.Prefs == nil {
		unavailable(w)
		return
	}
	var req preferencesRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx := r.Context()
	if req.AudioEnabled != nil {
		var err error
		if h.Audio != nil {
			err = h.Audio.SetAudio(ctx, *req.AudioEnabled)
		} else {
			err = h.Prefs.SetAudioEnabled(ctx, *req.AudioEnabled)
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if req.SidebarCollapsed != nil {
		if err := h.Prefs.SetSidebarCollapsed(ctx, *req.SidebarCollapsed); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	h.HandleGetPreferences(w, r)
}

// HandleEvents provides a Server-Sent Events stream of announcements and
// connection changes.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if h.Bus == nil {
		unavailable(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub, unsub := h.Bus.Subscribe(64,
		announcement.EventReceived,
		live.EventConnected, live.EventDisconnected, live.EventError,
	)
	defer unsub()

	hb := h.Heartbeat
	if hb <= 0 {
		hb = 20 * time.Second
	}
	ticker := time.NewTicker(hb)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case e, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(e.Data)
			if err != nil {
				h.log().Warn("failed to marshal SSE event", logx.String("type", e.Type), logx.Err(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
