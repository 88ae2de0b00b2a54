// Package pipeline turns raw live payloads into announcements exactly once
// per session: identity, dedup by id, normalization, enrichment, toast and
// fan-out to subscribers.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketwire/internal/announcement"
	"marketwire/internal/eventbus"
	logx "marketwire/pkg/logx"
)

// Toaster shows a toast for a processed announcement. *toast.Service
// satisfies it.
type Toaster interface {
	Show(ctx context.Context, a announcement.Announcement) bool
}

type Options struct {
	Enhancer announcement.Enhancer
	Toaster  Toaster
	Bus      eventbus.Bus
	Log      logx.Logger
	// OnNew, if set, is called with every announcement after it is published.
	OnNew func(announcement.Announcement)
	// MaxPending caps messages queued behind the one in flight. When full the
	// oldest queued message is abandoned. Defaults to DefaultMaxPending.
	MaxPending int
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

const DefaultMaxPending = 256

type Stats struct {
	Processed       uint64 `json:"processed"`
	Duplicates      uint64 `json:"duplicates"`
	Rejected        uint64 `json:"rejected"`
	Deferred        uint64 `json:"deferred"`
	Abandoned       uint64 `json:"abandoned"`
	EnhanceFailures uint64 `json:"enhanceFailures"`
	Tracked         int    `json:"tracked"`
}

// Pipeline processes one message at a time. A message arriving while another
// is in flight, including one sent from inside a callback, is queued and
// drained by the goroutine already processing. Callers never wait.
type Pipeline struct {
	opt Options
	log logx.Logger

	mu        sync.Mutex
	processed map[string]struct{}
	busy      bool
	pending   []announcement.Raw
	observers []func(announcement.Announcement)
	stats     Stats
}

func New(opt Options) *Pipeline {
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.MaxPending <= 0 {
		opt.MaxPending = DefaultMaxPending
	}
	return &Pipeline{
		opt:       opt,
		log:       opt.Log,
		processed: map[string]struct{}{},
	}
}

// AddObserver registers fn to be called synchronously with every processed
// announcement. Unlike bus subscribers, observers never miss one.
func (p *Pipeline) AddObserver(fn func(announcement.Announcement)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.observers = append(p.observers, fn)
	p.mu.Unlock()
}

// HandleInboundMessage processes raw. It never returns an error: failures
// are logged and counted.
func (p *Pipeline) HandleInboundMessage(ctx context.Context, raw announcement.Raw) {
	if len(raw) == 0 {
		p.log.Warn("received empty announcement data")
		p.count(func(s *Stats) { s.Rejected++ })
		return
	}

	p.mu.Lock()
	if p.busy {
		if len(p.pending) >= p.opt.MaxPending {
			p.pending[0] = nil
			p.pending = p.pending[1:]
			p.stats.Abandoned++
			p.log.Warn("pending announcement queue full; oldest abandoned", logx.Int("max", p.opt.MaxPending))
		}
		p.pending = append(p.pending, raw)
		p.stats.Deferred++
		p.mu.Unlock()
		return
	}
	p.busy = true
	p.mu.Unlock()

	p.process(ctx, raw)
	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			p.pending = nil
			p.busy = false
			p.mu.Unlock()
			return
		}
		next := p.pending[0]
		p.pending[0] = nil
		p.pending = p.pending[1:]
		p.mu.Unlock()
		p.process(ctx, next)
	}
}

func (p *Pipeline) process(ctx context.Context, raw announcement.Raw) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("announcement processing panicked", logx.Any("panic", r))
		}
	}()

	now := p.opt.Now()
	id := announcement.DeriveID(raw, now)

	p.mu.Lock()
	if _, seen := p.processed[id]; seen {
		p.stats.Duplicates++
		p.mu.Unlock()
		p.log.Debug("announcement already processed", logx.String("id", id))
		return
	}
	p.processed[id] = struct{}{}
	p.mu.Unlock()

	a := announcement.Normalize(raw, id, now)
	enriched, err := announcement.SafeEnhance(p.opt.Enhancer, a)
	if err != nil {
		p.log.Warn("announcement enhancement failed; using normalized record", logx.String("id", id), logx.Err(err))
		p.count(func(s *Stats) { s.EnhanceFailures++ })
	}

	if p.opt.Toaster != nil {
		p.opt.Toaster.Show(ctx, enriched)
	}
	if p.opt.Bus != nil {
		p.opt.Bus.Publish(eventbus.Event{Type: announcement.EventReceived, Time: now, Data: enriched})
	}
	p.mu.Lock()
	observers := p.observers
	p.mu.Unlock()
	for _, fn := range observers {
		if err := safeCall(fn, enriched); err != nil {
			p.log.Warn("announcement observer failed", logx.String("id", id), logx.Err(err))
		}
	}
	if p.opt.OnNew != nil {
		if err := safeCall(p.opt.OnNew, enriched); err != nil {
			p.log.Warn("announcement callback failed", logx.String("id", id), logx.Err(err))
		}
	}
	p.count(func(s *Stats) { s.Processed++ })
	p.log.Debug("announcement processed", logx.String("id", id), logx.String("company", enriched.Company))
}

func safeCall(fn func(announcement.Announcement), a announcement.Announcement) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn(a)
	return nil
}

// ResetSession forgets every processed id. Called on connect, manual
// reconnect and reload.
func (p *Pipeline) ResetSession() {
	p.mu.Lock()
	n := len(p.processed)
	p.processed = map[string]struct{}{}
	p.mu.Unlock()
	p.log.Debug("processed announcement ids cleared", logx.Int("count", n))
}

func (p *Pipeline) Processed(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.processed[id]
	return ok
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Tracked = len(p.processed)
	return s
}

func (p *Pipeline) count(fn func(*Stats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}
