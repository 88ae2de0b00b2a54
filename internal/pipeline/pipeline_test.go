package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"marketwire/internal/announcement"
	"marketwire/internal/dedup"
	"marketwire/internal/eventbus"
	"marketwire/internal/notifier"
	"marketwire/internal/toast"
	logx "marketwire/pkg/logx"
)

type countingQueue struct {
	mu   sync.Mutex
	keys []string
}

func (q *countingQueue) Notify(ctx context.Context, t notifier.Toast) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.keys = append(q.keys, t.Key)
	return nil
}

func (q *countingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.keys)
}

type harness struct {
	p      *Pipeline
	queue  *countingQueue
	events <-chan eventbus.Event
}

func newHarness(t *testing.T, enh announcement.Enhancer, onNew func(announcement.Announcement)) *harness {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	bus := eventbus.New()
	events, unsub := bus.Subscribe(256, announcement.EventReceived)
	t.Cleanup(unsub)

	q := &countingQueue{}
	ts := toast.New(dedup.New(dedup.Config{Now: clock}), q, logx.Nop())
	p := New(Options{Enhancer: enh, Toaster: ts, Bus: bus, Log: logx.Nop(), Now: clock, OnNew: onNew})
	return &harness{p: p, queue: q, events: events}
}

func (h *harness) received() []announcement.Announcement {
	var out []announcement.Announcement
	for len(h.events) > 0 {
		out = append(out, (<-h.events).Data.(announcement.Announcement))
	}
	return out
}

func TestDuplicateDeliveryProcessedOnce(t *testing.T) {
	h := newHarness(t, announcement.DefaultEnhancer{}, nil)
	raw := announcement.Raw{"corp_id": "X1", "companyname": "Acme", "summary": "Board meeting"}

	h.p.HandleInboundMessage(context.Background(), raw)
	h.p.HandleInboundMessage(context.Background(), raw)

	got := h.received()
	if len(got) != 1 || got[0].ID != "X1" {
		t.Fatalf("received = %+v, want one X1", got)
	}
	if h.queue.Len() != 1 {
		t.Fatalf("toasts = %d, want 1", h.queue.Len())
	}
	st := h.p.Stats()
	if st.Processed != 1 || st.Duplicates != 1 || !h.p.Processed("X1") {
		t.Fatalf("stats = %+v", st)
	}
}

func TestResetSessionReprocessesButToastStaysSuppressed(t *testing.T) {
	h := newHarness(t, nil, nil)
	raw := announcement.Raw{"id": "A"}

	h.p.HandleInboundMessage(context.Background(), raw)
	h.p.ResetSession()
	if h.p.Processed("A") {
		t.Fatal("ResetSession should forget processed ids")
	}
	h.p.HandleInboundMessage(context.Background(), raw)

	if got := h.received(); len(got) != 2 {
		t.Fatalf("events = %d, want 2 (one per session)", len(got))
	}
	if h.queue.Len() != 1 {
		t.Fatalf("toasts = %d, want 1 (second suppressed within window)", h.queue.Len())
	}
}

func TestIdentityFallbackDeduplicates(t *testing.T) {
	h := newHarness(t, nil, nil)
	raw := announcement.Raw{"companyname": "Acme", "summary": "Quarterly results announced today"}

	h.p.HandleInboundMessage(context.Background(), raw)
	h.p.HandleInboundMessage(context.Background(), raw)

	got := h.received()
	if len(got) != 1 || got[0].ID != "Acme-Quarterly results an" {
		t.Fatalf("received = %+v", got)
	}
}

func TestNormalizationDefaultsAndEnhancerFailure(t *testing.T) {
	failing := announcement.EnhancerFunc(func(a announcement.Announcement) (announcement.Announcement, error) {
		return a, errors.New("enhancer down")
	})
	var cb []string
	h := newHarness(t, failing, func(a announcement.Announcement) { cb = append(cb, a.ID) })

	h.p.HandleInboundMessage(context.Background(), announcement.Raw{"id": "N1"})
	got := h.received()
	if len(got) != 1 {
		t.Fatalf("received %d, want 1", len(got))
	}
	a := got[0]
	if a.Company != "Unknown Company" || a.Category != "Other" || a.Sentiment != announcement.Neutral || !a.IsNew {
		t.Fatalf("defaults not applied: %+v", a)
	}
	if h.queue.Len() != 1 || len(cb) != 1 || cb[0] != "N1" {
		t.Fatalf("toast/callback not run on fallback: toasts=%d cb=%v", h.queue.Len(), cb)
	}
	if h.p.Stats().EnhanceFailures != 1 {
		t.Fatalf("stats = %+v", h.p.Stats())
	}
}

func TestEmptyPayloadRejected(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.p.HandleInboundMessage(context.Background(), nil)
	h.p.HandleInboundMessage(context.Background(), announcement.Raw{})
	if len(h.received()) != 0 || h.p.Stats().Rejected != 2 {
		t.Fatalf("stats = %+v", h.p.Stats())
	}
}

func TestReentrantMessagesAreQueuedAndDrained(t *testing.T) {
	var h *harness
	var order []string
	h = newHarness(t, nil, func(a announcement.Announcement) {
		order = append(order, a.ID)
		if a.ID != "A" {
			return
		}
		// Re-entry from the processing goroutine itself must not wait.
		h.p.HandleInboundMessage(context.Background(), announcement.Raw{"id": "B"})
		h.p.HandleInboundMessage(context.Background(), announcement.Raw{"id": "C"})
		order = append(order, "A-done")
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.p.HandleInboundMessage(context.Background(), announcement.Raw{"id": "A"})
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("HandleInboundMessage blocked on re-entry; stats=%+v", h.p.Stats())
	}

	want := "[A A-done B C]"
	if got := fmt.Sprint(order); got != want {
		t.Fatalf("order = %s, want %s", got, want)
	}
	st := h.p.Stats()
	if st.Deferred != 2 || st.Abandoned != 0 || st.Processed != 3 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestPendingQueueDropsOldestWhenFull(t *testing.T) {
	var p *Pipeline
	var order []string
	p = New(Options{MaxPending: 2, OnNew: func(a announcement.Announcement) {
		order = append(order, a.ID)
		if a.ID == "A" {
			for _, id := range []string{"B", "C", "D"} {
				p.HandleInboundMessage(context.Background(), announcement.Raw{"id": id})
			}
		}
	}})

	p.HandleInboundMessage(context.Background(), announcement.Raw{"id": "A"})

	if got := fmt.Sprint(order); got != "[A C D]" {
		t.Fatalf("order = %s, want [A C D]", got)
	}
	if st := p.Stats(); st.Abandoned != 1 || st.Deferred != 3 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestObserversSeeEveryAnnouncement(t *testing.T) {
	// No bus subscriber buffer is involved, so a burst larger than any
	// buffer is still counted exactly.
	p := New(Options{Bus: eventbus.New()})
	n := 0
	p.AddObserver(func(announcement.Announcement) { n++ })
	p.AddObserver(func(announcement.Announcement) { panic("observer bug") })
	p.AddObserver(nil)

	for i := 0; i < 5000; i++ {
		p.HandleInboundMessage(context.Background(), announcement.Raw{"id": fmt.Sprintf("id-%d", i)})
	}
	p.HandleInboundMessage(context.Background(), announcement.Raw{"id": "id-0"})

	if n != 5000 {
		t.Fatalf("observed = %d, want 5000", n)
	}
}

func TestConcurrentDeliveriesAllProcessed(t *testing.T) {
	h := newHarness(t, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.p.HandleInboundMessage(context.Background(), announcement.Raw{"id": fmt.Sprintf("id-%d", i)})
		}(i)
	}
	wg.Wait()

	// Queued messages are drained by whichever goroutine was processing, so
	// by the time every caller returned the pipeline is idle.
	if got := h.p.Stats().Processed; got != 50 {
		t.Fatalf("processed = %d, want 50", got)
	}
	if got := len(h.received()); got != 50 {
		t.Fatalf("events = %d, want 50", got)
	}
}
