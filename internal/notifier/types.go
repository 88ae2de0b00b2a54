package notifier

import (
	"time"

	"marketwire/internal/transport"
)

// Config controls the async toast delivery queue.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	HistorySize   int
	// SendTimeout bounds a single sender call.
	SendTimeout time.Duration
}

type Kind string

const (
	KindAnnouncement Kind = "announcement"
	KindInfo         Kind = "info"
	KindError        Kind = "error"
)

// Toast is one message to deliver to every configured sink.
type Toast struct {
	// Key identifies the toast in events and history (announcement id for
	// announcement toasts).
	Key     string
	Kind    Kind
	Text    string
	Target  transport.Target
	Options *transport.SendOptions
}

type HistoryItem struct {
	At   time.Time `json:"at"`
	Key  string    `json:"key,omitempty"`
	Kind Kind      `json:"kind"`
	Text string    `json:"text"`
}

// Event is published on the bus as toast.queued, toast.sent, toast.failed
// and toast.dropped.
type Event struct {
	Key      string    `json:"key,omitempty"`
	Kind     Kind      `json:"kind"`
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error,omitempty"`
}

const (
	EventQueued  = "toast.queued"
	EventSent    = "toast.sent"
	EventFailed  = "toast.failed"
	EventDropped = "toast.dropped"
)
