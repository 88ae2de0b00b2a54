package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Target addresses a chat. Console sinks ignore it.
type Target struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

func (t Target) IsZero() bool { return t.ChatID == 0 }

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers a rendered text somewhere a human will see it.
type Sender interface {
	Name() string
	SendText(ctx context.Context, to Target, text string, opt *SendOptions) error
}

// Console writes each message as a block to an io.Writer.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsole(w io.Writer) *Console { return &Console{w: w} }

func (c *Console) Name() string { return "console" }

func (c *Console) SendText(ctx context.Context, _ Target, text string, _ *SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "%s\n\n", strings.TrimRight(text, "\n"))
	return err
}

// Multi fans a message out to every sender. The first failure does not stop
// delivery to the rest; all errors are joined.
type Multi []Sender

func (m Multi) Name() string {
	names := make([]string, 0, len(m))
	for _, s := range m {
		names = append(names, s.Name())
	}
	return strings.Join(names, "+")
}

func (m Multi) SendText(ctx context.Context, to Target, text string, opt *SendOptions) error {
	var errs []error
	for _, s := range m {
		if err := s.SendText(ctx, to, text, opt); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
