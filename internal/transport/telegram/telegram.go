// Package telegram is a send-only Telegram sink for toasts and mirrored logs.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"marketwire/internal/transport"
	logx "marketwire/pkg/logx"
)

type Config struct {
	Token string
	// Target is where toasts go when the caller passes a zero target.
	Target transport.Target
	// Timeout bounds each Bot API call.
	Timeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	mu  sync.Mutex
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	// No poller: this bot never reads updates.
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) Name() string { return "telegram" }

// DefaultTarget returns the configured chat.
func (a *Adapter) DefaultTarget() transport.Target { return a.cfg.Target }

func (a *Adapter) SendText(ctx context.Context, to transport.Target, text string, opt *transport.SendOptions) error {
	if to.IsZero() {
		to = a.cfg.Target
	}
	if to.IsZero() {
		return errors.New("telegram: no chat configured")
	}
	if opt == nil {
		opt = &transport.SendOptions{}
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	chat := &tele.Chat{ID: to.ChatID}
	for _, chunk := range splitText(text, textLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return err
		}
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		// telebot has no per-call context; run the call so ctx can still abandon it.
		done := make(chan error, 1)
		go func(chunk string) {
			a.mu.Lock()
			_, err := a.bot.Send(chat, chunk, sendOpt)
			a.mu.Unlock()
			done <- err
		}(chunk)

		select {
		case err := <-done:
			if err != nil {
				a.log.Debug("telegram send failed", logx.Err(err), logx.Int64("chat_id", to.ChatID))
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

const textLimit = 4000

// splitText splits long messages into Telegram-safe chunks. It prefers newline
// boundaries and, for HTML parse mode, avoids cutting inside a tag.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
