// Package badge counts announcements that arrived since the list was last
// loaded and turns a click into a reload.
package badge

import (
	"context"
	"fmt"
	"sync"

	"marketwire/internal/announcement"
	logx "marketwire/pkg/logx"
)

// Reloader refetches the announcement list.
type Reloader interface {
	Reload(ctx context.Context) error
}

type ReloaderFunc func(ctx context.Context) error

func (f ReloaderFunc) Reload(ctx context.Context) error { return f(ctx) }

// View is what a surface needs to draw the badge.
type View struct {
	Count   int    `json:"count"`
	Visible bool   `json:"visible"`
	Label   string `json:"label,omitempty"`
}

// Controller holds the badge counter. The count only grows one
// announcement at a time and only shrinks by resetting to zero. Register
// Observe as a pipeline observer so no announcement is missed.
type Controller struct {
	log      logx.Logger
	reloader Reloader

	mu      sync.Mutex
	count   int
	visible bool
}

// New mounts the badge.
func New(reloader Reloader, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Controller{log: log, reloader: reloader}
	c.Mount()
	return c
}

// Mount resets the badge, as on a fresh page load.
func (c *Controller) Mount() {
	c.mu.Lock()
	c.count, c.visible = 0, false
	c.mu.Unlock()
}

// Observe records one new announcement.
func (c *Controller) Observe(announcement.Announcement) {
	c.mu.Lock()
	c.count++
	c.visible = true
	n := c.count
	c.mu.Unlock()
	c.log.Debug("badge count updated", logx.Int("count", n))
}

// Click reloads the list and then resets the badge. The badge is reset even
// when the reload fails; the error is returned.
func (c *Controller) Click(ctx context.Context) error {
	var err error
	if c.reloader != nil {
		err = c.reloader.Reload(ctx)
	}
	c.Mount()
	if err != nil {
		c.log.Warn("reload from badge failed", logx.Err(err))
	}
	return err
}

// Render returns the badge label, or ok=false when nothing should be shown.
func (c *Controller) Render() (label string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.visible || c.count == 0 {
		return "", false
	}
	return Label(c.count), true
}

func (c *Controller) View() View {
	c.mu.Lock()
	n, vis := c.count, c.visible
	c.mu.Unlock()
	v := View{Count: n, Visible: vis && n > 0}
	if v.Visible {
		v.Label = Label(n)
	}
	return v
}

// Label renders e.g. "3 new announcements - Click to reload".
func Label(n int) string {
	return fmt.Sprintf("%d new %s - Click to reload", n, plural(n, "announcement"))
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
