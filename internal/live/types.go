package live

import (
	"errors"
	"time"
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// State is a point-in-time copy of the connection state.
type State struct {
	Status      Status   `json:"status"`
	ActiveRooms []string `json:"activeRooms"`
	LastError   string   `json:"lastError,omitempty"`
}

// Bus event types.
const (
	EventConnected    = "live.connected"
	EventDisconnected = "live.disconnected"
	EventError        = "live.error"
)

var (
	ErrNotConnected       = errors.New("live: not connected")
	ErrReconnectThrottled = errors.New("live: reconnect requested too soon")
	ErrNoURL              = errors.New("live: no server url configured")
)

type Config struct {
	URL   string
	Token string

	// ReconnectInterval is the minimum spacing between manual reconnects.
	ReconnectInterval time.Duration
	// DialAttempts bounds dials within one Connect or Reconnect.
	DialAttempts int
	// DialBackoff is the first wait between dial attempts; it doubles up to 5s.
	DialBackoff      time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 2 * time.Second
	}
	if c.DialAttempts <= 0 {
		c.DialAttempts = 3
	}
	if c.DialBackoff <= 0 {
		c.DialBackoff = 500 * time.Millisecond
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

const maxDialBackoff = 5 * time.Second

// Wire frames.
const (
	frameNewAnnouncement = "new_announcement"
	frameError           = "error"
	frameJoinRoom        = "join_room"
	frameLeaveRoom       = "leave_room"
)

type roomFrame struct {
	Type string `json:"type"`
	Room string `json:"room"`
}
