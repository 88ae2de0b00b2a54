// Package app wires the live connection, the announcement pipeline, the
// dashboard and the local API into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"marketwire/internal/announcement"
	"marketwire/internal/badge"
	"marketwire/internal/config"
	"marketwire/internal/dashboard"
	"marketwire/internal/dedup"
	"marketwire/internal/eventbus"
	"marketwire/internal/feed"
	"marketwire/internal/httpapi"
	"marketwire/internal/live"
	"marketwire/internal/notifier"
	"marketwire/internal/pipeline"
	rtsup "marketwire/internal/runtime/supervisor"
	"marketwire/internal/storage"
	"marketwire/internal/toast"
	"marketwire/internal/transport"
	"marketwire/internal/transport/telegram"
	logx "marketwire/pkg/logx"
)

const (
	connectedNotice    = "Live updates connected!"
	disconnectedNotice = "Live updates disconnected"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	notif  *notifier.Service
	cache  *dedup.Cache
	toasts *toast.Service
	pipe   *pipeline.Pipeline
	live   *live.Manager
	dash   *dashboard.Dashboard
	badge  *badge.Controller
	ind    *badge.Indicator
	http   *httpapi.Server

	// Bell is where the indicator chime rings. Defaults to stderr.
	bell io.Writer
}

type Option func(*App)

// WithBell redirects the new-announcement chime.
func WithBell(w io.Writer) Option { return func(a *App) { a.bell = w } }

func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{cfgm: cfgm, bell: os.Stderr}
	for _, o := range opts {
		o(a)
	}

	// Telegram sink (optional), shared by toasts and mirrored logs.
	var tg *telegram.Adapter
	if cfg.Telegram.Enabled {
		tcfg, err := mapTelegramConfig(cfg)
		if err != nil {
			return nil, err
		}
		tg, err = telegram.New(tcfg, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
	}

	// logx.New applies immediately; bootstrap with the Telegram sink off so
	// it does not warn before the target is set.
	var logSender transport.Sender
	if tg != nil {
		logSender = tg
	}
	logCfg := mapLoggingConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, logSender)
	logSvc.SetTarget(telegramTarget(cfg))
	logSvc.Apply(logCfg)
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))

	a.bus = eventbus.New()

	// Storage falls back to memory so preferences still work for the session.
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			a.log.Warn("storage unavailable; preferences kept in memory", logx.String("driver", sc.Driver), logx.Err(err))
		} else {
			a.store = st
			a.log.Info("storage enabled", logx.String("driver", sc.Driver))
		}
	}
	if a.store == nil {
		a.store = storage.NewMemory()
	}
	prefs := storage.NewPreferences(a.store)
	watchlists := storage.NewWatchlists(a.store)

	// Toast delivery.
	ncfg, console, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	var sinks transport.Multi
	if console {
		sinks = append(sinks, transport.NewConsole(os.Stdout))
	}
	if tg != nil {
		sinks = append(sinks, tg)
	}
	a.notif = notifier.New(ncfg, sinks, log.With(logx.String("comp", "notifier")), a.bus)

	dcfg, err := mapDedupConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.cache = dedup.New(dcfg)
	a.toasts = toast.New(a.cache, a.notif, log.With(logx.String("comp", "toast")))

	a.pipe = pipeline.New(pipeline.Options{
		Enhancer: announcement.DefaultEnhancer{},
		Toaster:  a.toasts,
		Bus:      a.bus,
		Log:      log.With(logx.String("comp", "pipeline")),
	})

	lcfg, err := mapLiveConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.live = live.New(lcfg, log.With(logx.String("comp", "live")), a.bus)
	a.live.SetHandler(a.pipe.HandleInboundMessage)
	a.live.OnSessionStart(a.pipe.ResetSession)

	fcfg, err := mapFeedConfig(cfg)
	if err != nil {
		return nil, err
	}
	fcfg.Enhancer = announcement.DefaultEnhancer{}
	fc := feed.New(fcfg, log.With(logx.String("comp", "feed")))

	dashCfg, err := mapDashboardConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.dash = dashboard.New(dashCfg, dashboard.Options{
		Fetcher:  fc,
		Conn:     a.live,
		Sessions: a.pipe,
		Toasts:   a.toasts,
		Prefs:    prefs,
		Bus:      a.bus,
		Log:      log.With(logx.String("comp", "dashboard")),
	})

	a.badge = badge.New(a.dash, log.With(logx.String("comp", "badge")))
	a.ind = badge.NewIndicator(context.Background(), &badge.BellChime{W: a.bell}, prefs, log.With(logx.String("comp", "indicator")))
	// Counters observe the pipeline directly; bus subscribers may drop.
	a.pipe.AddObserver(a.badge.Observe)
	a.pipe.AddObserver(a.ind.Observe)

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.http = httpapi.NewServer(hcfg, &httpapi.Handlers{
		Conn:       a.live,
		Badge:      a.badge,
		Dashboard:  a.dash,
		Feed:       fc,
		Stats:      a.pipe,
		Audio:      a.ind,
		Indicator:  a.ind,
		Toasts:     a.notif,
		ToastCache: a.cache,
		Prefs:      prefs,
		Watchlists: watchlists,
		Bus:        a.bus,
	}, log.With(logx.String("comp", "http")))

	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Live() *live.Manager { return a.live }
func (a *App) Dashboard() *dashboard.Dashboard { return a.dash }
func (a *App) Badge() *badge.Controller { return a.badge }
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipe }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if a.notif.Enabled() {
		a.notif.Start(runCtx)
	}

	a.sup.Go("indicator", a.ind.Run)
	a.sup.Go("dashboard", a.dash.Run)

	// Subscribe before connecting so the first transition is not missed.
	notices, unsubNotices := a.bus.Subscribe(16, live.EventConnected, live.EventDisconnected)
	a.sup.Go0("live.notices", func(c context.Context) {
		defer unsubNotices()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-notices:
				if !ok {
					return
				}
				switch e.Type {
				case live.EventConnected:
					a.toasts.Info(c, connectedNotice)
				case live.EventDisconnected:
					a.toasts.Info(c, disconnectedNotice)
				}
			}
		}
	})

	// Optional: log events for observability/debug.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type))
			}
		}
	})

	a.http.Start(runCtx)

	// Mount: connect and load concurrently. Neither failure is fatal and a
	// failed connect is not retried until the user asks.
	a.sup.Go0("live.connect", func(c context.Context) {
		err := a.live.Connect(c)
		switch {
		case err == nil:
		case errors.Is(err, live.ErrNoURL):
			a.log.Info("live updates disabled: no live.url configured")
		case c.Err() != nil:
		default:
			a.log.Warn("live connect failed", logx.Err(err))
		}
	})
	a.sup.Go0("dashboard.load", func(c context.Context) {
		if err := a.dash.Load(c); err != nil && c.Err() == nil {
			a.log.Warn("initial announcement load failed", logx.Err(err))
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes hot-reloadable sections to running components. Sections
// that need a restart are only reported.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if config.RestartSections[s] {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	// update log target first (so Apply() doesn't warn when Telegram logging is enabled)
	a.logs.SetTarget(telegramTarget(newCfg))
	a.logs.Apply(mapLoggingConfig(newCfg))

	if dc, err := mapDedupConfig(newCfg); err != nil {
		a.log.Warn("invalid pipeline config; keeping previous", logx.Err(err))
	} else {
		a.cache.Apply(dc)
	}

	if dc, err := mapDashboardConfig(newCfg); err != nil {
		a.log.Warn("invalid dashboard config; keeping previous", logx.Err(err))
	} else {
		a.dash.Apply(dc)
	}

	prevNotifEnabled := a.notif.Enabled()
	if ncfg, _, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
		if prevNotifEnabled && !ncfg.Enabled {
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		} else if !prevNotifEnabled && ncfg.Enabled {
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	wait := 2 * time.Second
	if cfg := a.cfgm.Get(); cfg != nil {
		wait = shutdownWait(cfg)
	}

	// Order: surfaces first, then the connection, then delivery and storage.
	step("http", wait, func(c context.Context) error { a.http.Stop(c); return nil })
	step("live", 2*time.Second, func(c context.Context) error { a.live.Disconnect(c); return nil })
	step("notifier", 1*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, run loops, etc.)
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
