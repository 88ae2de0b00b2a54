package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	logx "marketwire/pkg/logx"
)

func openDriver(t *testing.T, driver string) Store {
	t.Helper()
	cfg := Config{Driver: driver}
	if driver != "memory" {
		cfg.Path = filepath.Join(t.TempDir(), "state.db")
	}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver should fail")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path should fail")
	}
}

func TestDrivers(t *testing.T) {
	for _, driver := range []string{"memory", "file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st := openDriver(t, driver)
			prefs := NewPreferences(st)

			on, err := prefs.AudioEnabled(ctx)
			if err != nil || !on {
				t.Fatalf("audio default = %v, %v", on, err)
			}
			if err := prefs.SetAudioEnabled(ctx, false); err != nil {
				t.Fatal(err)
			}
			if on, _ := prefs.AudioEnabled(ctx); on {
				t.Fatal("audio should be disabled")
			}

			if collapsed, _ := prefs.SidebarCollapsed(ctx); collapsed {
				t.Fatal("sidebar should default to expanded")
			}

			_ = prefs.MarkViewed(ctx, "b")
			_ = prefs.MarkViewed(ctx, "a")
			_ = prefs.MarkViewed(ctx, "a")
			ids, err := st.Members(ctx, SetViewedAnnouncements)
			if err != nil || len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
				t.Fatalf("viewed = %v, %v", ids, err)
			}

			saved, err := prefs.ToggleSaved(ctx, "x")
			if err != nil || !saved {
				t.Fatalf("first toggle = %v, %v", saved, err)
			}
			saved, _ = prefs.ToggleSaved(ctx, "x")
			if saved {
				t.Fatal("second toggle should unsave")
			}
			if m, _ := prefs.Saved(ctx); len(m) != 0 {
				t.Fatalf("saved = %v", m)
			}

			wls := NewWatchlists(st)
			wl, err := wls.Create(ctx, "Banks")
			if err != nil {
				t.Fatal(err)
			}
			if _, err := wls.AddCompany(ctx, wl.ID, WatchedCompany{ID: "c1", Name: "HDFC", ISIN: "INE040A01034"}); err != nil {
				t.Fatal(err)
			}
			got, err := wls.AddCompany(ctx, wl.ID, WatchedCompany{ID: "c9", Name: "dup", ISIN: "INE040A01034"})
			if err != nil || len(got.Companies) != 1 {
				t.Fatalf("duplicate ISIN added: %+v, %v", got, err)
			}
			list, err := wls.List(ctx)
			if err != nil || len(list) != 1 || list[0].Name != "Banks" || len(list[0].Companies) != 1 {
				t.Fatalf("list = %+v, %v", list, err)
			}
			if !list[0].CreatedAt.Equal(wl.CreatedAt) {
				t.Fatalf("createdAt = %v, want %v", list[0].CreatedAt, wl.CreatedAt)
			}

			if err := wls.Delete(ctx, wl.ID); err != nil {
				t.Fatal(err)
			}
			if _, err := wls.Get(ctx, wl.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get after delete err = %v", err)
			}
			if err := wls.Delete(ctx, wl.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("second delete err = %v", err)
			}
		})
	}
}

func TestFileStoreSurvivesReopenAndSkipsCorruptLines(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.json")
	cfg := Config{Driver: "file", Path: path}

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	prefs := NewPreferences(st)
	_ = prefs.SetAudioEnabled(ctx, false)
	_ = prefs.MarkViewed(ctx, "v1")
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	// Writes after the compacting close land in the journal.
	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	_ = NewPreferences(st).MarkViewed(ctx, "v2")
	journal := filepath.Join(filepath.Dir(path), "prefs.journal.jsonl")
	f, err := os.OpenFile(journal, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("{not json\n")
	_ = f.Close()

	// Reopen without closing so the journal is replayed, not compacted.
	st2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st2.Close()
	prefs2 := NewPreferences(st2)
	if on, _ := prefs2.AudioEnabled(ctx); on {
		t.Fatal("audio preference lost across reopen")
	}
	viewed, _ := prefs2.Viewed(ctx)
	if !viewed["v1"] || !viewed["v2"] {
		t.Fatalf("viewed = %v", viewed)
	}
	_ = st.Close()
}
