package toast

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"marketwire/internal/announcement"
	"marketwire/internal/dedup"
	"marketwire/internal/notifier"
	logx "marketwire/pkg/logx"
)

type recordingQueue struct {
	mu     sync.Mutex
	toasts []notifier.Toast
}

func (q *recordingQueue) Notify(ctx context.Context, t notifier.Toast) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.toasts = append(q.toasts, t)
	return nil
}

func TestShowSuppressesRepeatsWithinWindow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	cache := dedup.New(dedup.Config{Now: func() time.Time { return now }})
	q := &recordingQueue{}
	s := New(cache, q, logx.Nop())
	a := announcement.Announcement{ID: "A", Company: "Acme", Summary: "Results"}

	if !s.Show(context.Background(), a) {
		t.Fatal("first Show should pass")
	}
	now = now.Add(5 * time.Second)
	if s.Show(context.Background(), a) {
		t.Fatal("repeat within window should be suppressed")
	}
	s.Info(context.Background(), "Announcements reloaded!")
	s.Info(context.Background(), "Announcements reloaded!")

	if len(q.toasts) != 3 {
		t.Fatalf("queued %d toasts, want 3", len(q.toasts))
	}
	if q.toasts[0].Key != "A" || q.toasts[0].Kind != notifier.KindAnnouncement {
		t.Fatalf("unexpected first toast: %+v", q.toasts[0])
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 100)
	got := Format(announcement.Announcement{Company: "Acme", Summary: long})
	want := "🔔 Acme\n" + strings.Repeat("a", 80) + "..."
	if got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}

	got = Format(announcement.Announcement{Company: "Acme", Summary: "short"})
	if got != "🔔 Acme\nshort" {
		t.Fatalf("Format short = %q", got)
	}
	if got := Format(announcement.Announcement{Company: "Acme"}); got != "🔔 Acme" {
		t.Fatalf("Format empty summary = %q", got)
	}
}
