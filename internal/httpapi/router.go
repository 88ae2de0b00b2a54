package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	logx "marketwire/pkg/logx"
)

type RouterOptions struct {
	// Token, when set, is required on every route but /healthz, either as
	// "Authorization: Bearer <token>" or "?token=<token>".
	Token string
	Pprof bool
}

func NewRouter(h *Handlers, opt RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.log()))

	r.Get("/healthz", h.HandleHealth)

	r.Group(func(r chi.Router) {
		r.Use(withAuth(opt.Token))

		r.Route("/api", func(r chi.Router) {
			r.Get("/status", h.HandleStatus)
			r.Post("/reconnect", h.HandleReconnect)

			r.Get("/badge", h.HandleBadge)
			r.Post("/badge/click", h.HandleBadgeClick)
			r.Post("/indicator/clear", h.HandleIndicatorClear)

			r.Get("/announcements", h.HandleAnnouncements)
			r.Post("/announcements/{id}/viewed", h.HandleMarkViewed)
			r.Post("/announcements/{id}/saved", h.HandleToggleSaved)
			r.Put("/filters", h.HandleSetFilters)

			r.Get("/stock/{isin}", h.HandleStock)
			r.Get("/companies", h.HandleCompanies)

			r.Get("/toasts", h.HandleToasts)

			r.Get("/watchlists", h.HandleListWatchlists)
			r.Post("/watchlists", h.HandleCreateWatchlist)
			r.Post("/watchlists/{id}/companies", h.HandleAddToWatchlist)
			r.Delete("/watchlists/{id}/companies/{companyID}", h.HandleRemoveFromWatchlist)
			r.Delete("/watchlists/{id}", h.HandleDeleteWatchlist)

			r.Get("/preferences", h.HandleGetPreferences)
			r.Put("/preferences", h.HandlePutPreferences)

			r.Get("/events", h.HandleEvents)
		})

		if opt.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

func requestLogger(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Int("bytes", ww.BytesWritten()),
				logx.Duration("took", time.Since(start)),
				logx.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func withAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Accept either:
			//   Authorization: Bearer <token>
			// or query param: ?token=<token> (EventSource cannot set headers)
			if got := r.URL.Query().Get("token"); got != "" {
				if tokenMatches(got, tok) {
					next.ServeHTTP(w, r)
					return
				}
				unauthorized(w)
				return
			}
			if ah := r.Header.Get("Authorization"); ah != "" {
				const p = "Bearer "
				if strings.HasPrefix(ah, p) && tokenMatches(strings.TrimSpace(strings.TrimPrefix(ah, p)), tok) {
					next.ServeHTTP(w, r)
					return
				}
			}
			unauthorized(w)
		})
	}
}

func tokenMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
