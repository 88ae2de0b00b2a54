// Package toast turns announcements and system notices into user-facing
// toasts, suppressing repeats through a dedup cache.
package toast

import (
	"context"
	"errors"
	"strings"

	"marketwire/internal/announcement"
	"marketwire/internal/dedup"
	"marketwire/internal/notifier"
	logx "marketwire/pkg/logx"
)

const summaryPreview = 80

// Queue accepts toasts for delivery. *notifier.Service satisfies it.
type Queue interface {
	Notify(ctx context.Context, t notifier.Toast) error
}

type Service struct {
	cache *dedup.Cache
	queue Queue
	log   logx.Logger
}

func New(cache *dedup.Cache, queue Queue, log logx.Logger) *Service {
	if cache == nil {
		cache = dedup.New(dedup.Config{})
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cache: cache, queue: queue, log: log}
}

// Show displays a toast for a unless one was shown for the same id within the
// suppression window. It reports whether the toast was let through.
func (s *Service) Show(ctx context.Context, a announcement.Announcement) bool {
	if !s.cache.ShouldShow(a.ID) {
		s.log.Debug("duplicate toast suppressed", logx.String("id", a.ID))
		return false
	}
	s.enqueue(ctx, notifier.Toast{Key: a.ID, Kind: notifier.KindAnnouncement, Text: Format(a)})
	return true
}

// Info shows a system notice. Notices are never deduplicated.
func (s *Service) Info(ctx context.Context, text string) {
	s.enqueue(ctx, notifier.Toast{Kind: notifier.KindInfo, Text: text})
}

// Error shows a failure notice.
func (s *Service) Error(ctx context.Context, text string) {
	s.enqueue(ctx, notifier.Toast{Kind: notifier.KindError, Text: text})
}

func (s *Service) enqueue(ctx context.Context, t notifier.Toast) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Notify(ctx, t); err != nil && !errors.Is(err, notifier.ErrDisabled) {
		s.log.Warn("toast not queued", logx.String("key", t.Key), logx.Err(err))
	}
}

// Format renders "🔔 <company>" over the first 80 runes of the summary,
// followed by "..." when the summary was cut.
func Format(a announcement.Announcement) string {
	var b strings.Builder
	b.WriteString("🔔 ")
	b.WriteString(a.Company)
	summary := strings.TrimSpace(a.Summary)
	if summary == "" {
		return b.String()
	}
	b.WriteByte('\n')
	rs := []rune(summary)
	if len(rs) > summaryPreview {
		b.WriteString(string(rs[:summaryPreview]))
		b.WriteString("...")
	} else {
		b.WriteString(summary)
	}
	return b.String()
}
