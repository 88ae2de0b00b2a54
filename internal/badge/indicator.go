package badge

import (
	"context"
	"fmt"
	"io"
	"sync"

	"marketwire/internal/announcement"
	logx "marketwire/pkg/logx"
)

// Chime plays the new-announcement sound.
type Chime interface {
	Play(ctx context.Context) error
}

// BellChime rings the terminal bell on W.
type BellChime struct {
	mu sync.Mutex
	W  io.Writer
}

func (b *BellChime) Play(ctx context.Context) error {
	if b == nil || b.W == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := io.WriteString(b.W, "\a")
	return err
}

// AudioPrefs persists the sound toggle.
type AudioPrefs interface {
	AudioEnabled(ctx context.Context) (bool, error)
	SetAudioEnabled(ctx context.Context, enabled bool) error
}

// Indicator is the inline "n new updates" counter. It counts independently
// of the Controller and chimes from Run when audio is on; chimes requested
// while one is playing coalesce into one.
type Indicator struct {
	log   logx.Logger
	chime Chime
	prefs AudioPrefs
	ring  chan struct{}

	mu      sync.Mutex
	count   int
	audioOn bool
}

func NewIndicator(ctx context.Context, chime Chime, prefs AudioPrefs, log logx.Logger) *Indicator {
	if log.IsZero() {
		log = logx.Nop()
	}
	in := &Indicator{log: log, chime: chime, prefs: prefs, audioOn: true, ring: make(chan struct{}, 1)}
	if prefs != nil {
		if on, err := prefs.AudioEnabled(ctx); err == nil {
			in.audioOn = on
		} else {
			log.Warn("audio preference unavailable; defaulting to enabled", logx.Err(err))
		}
	}
	return in
}

// Run plays requested chimes until ctx is done.
func (in *Indicator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-in.ring:
			if in.chime == nil {
				continue
			}
			if err := in.chime.Play(ctx); err != nil {
				in.log.Warn("could not play notification sound", logx.Err(err))
			}
		}
	}
}

// Observe counts one new announcement and requests a chime. It never blocks.
func (in *Indicator) Observe(announcement.Announcement) {
	in.mu.Lock()
	in.count++
	play := in.audioOn && in.chime != nil
	in.mu.Unlock()
	if !play {
		return
	}
	select {
	case in.ring <- struct{}{}:
	default:
	}
}

func (in *Indicator) Count() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.count
}

// Clear resets the counter after the user viewed the new announcements.
func (in *Indicator) Clear() {
	in.mu.Lock()
	in.count = 0
	in.mu.Unlock()
}

// Label renders e.g. "2 new updates", or "" when there is nothing new.
func (in *Indicator) Label() string {
	n := in.Count()
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf("%d new %s", n, plural(n, "update"))
}

func (in *Indicator) AudioEnabled() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.audioOn
}

// ToggleAudio flips the sound preference and persists it.
func (in *Indicator) ToggleAudio(ctx context.Context) (bool, error) {
	in.mu.Lock()
	in.audioOn = !in.audioOn
	on := in.audioOn
	in.mu.Unlock()
	if in.prefs == nil {
		return on, nil
	}
	return on, in.prefs.SetAudioEnabled(ctx, on)
}

// SetAudio sets the sound preference and persists it.
func (in *Indicator) SetAudio(ctx context.Context, on bool) error {
	in.mu.Lock()
	in.audioOn = on
	in.mu.Unlock()
	if in.prefs == nil {
		return nil
	}
	return in.prefs.SetAudioEnabled(ctx, on)
}
