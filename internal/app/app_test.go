package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"marketwire/internal/config"
)

func TestMapNotifierConfigDefaults(t *testing.T) {
	nc, console, err := mapNotifierConfig(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if !nc.Enabled || !console {
		t.Fatalf("omitted section should enable the console notifier: %+v console=%v", nc, console)
	}

	off := false
	nc, console, err = mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{
		Workers: 3, RetryBase: "250ms", Console: &off,
	}})
	if err != nil {
		t.Fatal(err)
	}
	if !nc.Enabled || console || nc.Workers != 3 || nc.RetryBase != 250*time.Millisecond {
		t.Fatalf("section without enabled should stay on: %+v console=%v", nc, console)
	}

	nc, _, err = mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{Enabled: &off}})
	if err != nil {
		t.Fatal(err)
	}
	if nc.Enabled {
		t.Fatal("explicit enabled=false must disable toasts")
	}

	if _, _, err := mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{RetryBase: "soon"}}); err == nil {
		t.Fatal("want error for bad duration")
	}
}

func TestMapStorageConfig(t *testing.T) {
	cases := []struct {
		name    string
		in      *config.StorageConfig
		enabled bool
		driver  string
		wantErr bool
	}{
		{name: "omitted", in: nil},
		{name: "none", in: &config.StorageConfig{Driver: "none"}},
		{name: "memory", in: &config.StorageConfig{Driver: "Memory"}, enabled: true, driver: "memory"},
		{name: "file default path", in: &config.StorageConfig{Driver: "file"}, enabled: true, driver: "file"},
		{name: "sqlite", in: &config.StorageConfig{Driver: "sqlite", Path: "x.db"}, enabled: true, driver: "sqlite"},
		{name: "sqlite without path", in: &config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "unknown", in: &config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sc, enabled, err := mapStorageConfig(&config.Config{Storage: tc.in})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v", err)
			}
			if enabled != tc.enabled || sc.Driver != tc.driver {
				t.Fatalf("got %+v enabled=%v", sc, enabled)
			}
			if tc.driver == "file" && sc.Path == "" {
				t.Fatal("file driver needs a default path")
			}
			if tc.driver == "sqlite" && sc.BusyTimeout != time.Second {
				t.Fatalf("busy timeout = %v", sc.BusyTimeout)
			}
		})
	}
}

func TestMapLoggingNeedsTelegram(t *testing.T) {
	cfg := &config.Config{}
	cfg.Logging.Telegram.Enabled = true
	if mapLoggingConfig(cfg).Telegram.Enabled {
		t.Fatal("telegram log sink must stay off while telegram is disabled")
	}
	if !telegramTarget(cfg).IsZero() {
		t.Fatal("target must be zero while telegram is disabled")
	}
	cfg.Telegram = config.TelegramConfig{Enabled: true, ChatID: -100, ThreadID: 3}
	if !mapLoggingConfig(cfg).Telegram.Enabled {
		t.Fatal("telegram log sink should be on")
	}
	if to := telegramTarget(cfg); to.ChatID != -100 || to.ThreadID != 3 {
		t.Fatalf("target = %+v", to)
	}
}

func TestMapDashboardAndLive(t *testing.T) {
	cfg := &config.Config{}
	cfg.Dashboard = config.DashboardConfig{PageSize: 20, MinLoading: "100ms", RefreshSchedule: "@every 5m"}
	cfg.Live = config.LiveConfig{URL: "wss://h/ws", DialAttempts: 5, DialBackoff: "1s"}

	dc, err := mapDashboardConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if dc.PageSize != 20 || dc.MinLoading != 100*time.Millisecond || dc.RefreshSchedule != "@every 5m" {
		t.Fatalf("dashboard = %+v", dc)
	}
	lc, err := mapLiveConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if lc.URL != "wss://h/ws" || lc.DialAttempts != 5 || lc.DialBackoff != time.Second {
		t.Fatalf("live = %+v", lc)
	}
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "config.json")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	p := writeConfig(t, t.TempDir(), `{"live":{"url":"http://not-a-socket"}}`)
	if _, err := New(p); err == nil {
		t.Fatal("want validation error")
	}
	p = writeConfig(t, t.TempDir(), `{"unknown_section":{}}`)
	if _, err := New(p); err == nil {
		t.Fatal("want strict decode error")
	}
}

func TestAppLoadsAnnouncementsOnStart(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/announcements" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`[
			{"id":"a1","company":"Acme","summary":"Board meeting","date":"2025-03-04T10:00:00Z"},
			{"id":"a2","company":"Globex","summary":"Dividend","date":"2025-03-03T10:00:00Z"}
		]`))
	}))
	defer api.Close()

	dir := t.TempDir()
	p := writeConfig(t, dir, `{
		"api": {"base_url": "`+api.URL+`"},
		"dashboard": {"min_loading": "10ms"},
		"logging": {"level": "error"},
		"notifier": {"enabled": true, "console": false},
		"storage": {"driver": "file", "path": "`+filepath.ToSlash(filepath.Join(dir, "prefs"))+`"}
	}`)

	a, err := New(p, WithBell(&bytes.Buffer{}))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		pv := a.Dashboard().Page(ctx, 1)
		if pv.Total == 2 && !pv.Loading {
			if pv.Items[0].ID != "a1" {
				t.Fatalf("newest first expected, got %q", pv.Items[0].ID)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("announcements not loaded: %+v", pv)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if v := a.Badge().View(); v.Visible {
		t.Fatalf("badge should start hidden: %+v", v)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatal(err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
	if err := a.Err(); err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
}
