// Package live owns the websocket connection to the announcement server:
// status, room membership and the inbound frame loop.
package live

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"marketwire/internal/announcement"
	"marketwire/internal/eventbus"
	rtsup "marketwire/internal/runtime/supervisor"
	logx "marketwire/pkg/logx"
)

// Handler receives announcement payloads in arrival order.
type Handler func(ctx context.Context, raw announcement.Raw)

// Manager is the only mutator of the connection State.
type Manager struct {
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	dialer  *websocket.Dialer
	limiter *rate.Limiter

	// opMu serializes Connect, Reconnect and Disconnect.
	opMu sync.Mutex

	mu         sync.Mutex
	status     Status
	lastErr    string
	rooms      map[string]struct{}
	sess       *session
	dialCancel context.CancelFunc
	handler    Handler
	onSession  []func()
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Manager {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		cfg: cfg,
		log: log,
		bus: bus,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		limiter: rate.NewLimiter(rate.Every(cfg.ReconnectInterval), 1),
		status:  StatusConnecting,
		rooms:   map[string]struct{}{},
	}
}

// SetHandler installs the announcement handler. Set it before Connect.
func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// OnSessionStart registers fn to run on every successful connection and at
// the start of every manual reconnect, before any frame is read.
func (m *Manager) OnSessionStart(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.onSession = append(m.onSession, fn)
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	rooms := make([]string, 0, len(m.rooms))
	for r := range m.rooms {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	return State{Status: m.status, ActiveRooms: rooms, LastError: m.lastErr}
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connect dials the server. It is a no-op while already connected. A failed
// dial leaves the status at error; there is no automatic retry.
func (m *Manager) Connect(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	connected := m.sess != nil
	m.mu.Unlock()
	if connected {
		return nil
	}
	return m.connectLocked(ctx)
}

// Reconnect tears down the current connection and dials again. Calls closer
// together than ReconnectInterval return ErrReconnectThrottled and leave the
// connection untouched.
func (m *Manager) Reconnect(ctx context.Context) error {
	if !m.limiter.Allow() {
		return ErrReconnectThrottled
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.log.Info("manual reconnect requested")
	m.mu.Lock()
	old := m.sess
	m.sess = nil
	m.status = StatusConnecting
	m.mu.Unlock()
	m.runSessionHooks()

	if old != nil {
		closeCtx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
		old.close(closeCtx)
		cancel()
	}
	return m.connectLocked(ctx)
}

// Disconnect closes the connection and stops every goroutine it started.
// An in-flight dial is abandoned.
func (m *Manager) Disconnect(ctx context.Context) {
	m.mu.Lock()
	if m.dialCancel != nil {
		m.dialCancel()
	}
	m.mu.Unlock()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	s := m.sess
	m.sess = nil
	m.status = StatusDisconnected
	m.mu.Unlock()
	if s == nil {
		return
	}
	s.close(ctx)
	m.log.Info("live updates disconnected")
	m.publish(EventDisconnected, m.State())
}

// JoinRoom records room as active and, when connected, asks the server to
// join it. Rooms joined while offline are sent on the next connection.
func (m *Manager) JoinRoom(room string) {
	room = strings.TrimSpace(room)
	if room == "" {
		return
	}
	m.mu.Lock()
	m.rooms[room] = struct{}{}
	s := m.sess
	m.mu.Unlock()
	if s != nil {
		s.send(roomFrame{Type: frameJoinRoom, Room: room})
	}
}

// LeaveRoom removes room from the active set. Leaving a room that was never
// joined sends nothing.
func (m *Manager) LeaveRoom(room string) {
	room = strings.TrimSpace(room)
	if room == "" {
		return
	}
	m.mu.Lock()
	_, was := m.rooms[room]
	delete(m.rooms, room)
	s := m.sess
	m.mu.Unlock()
	if was && s != nil {
		s.send(roomFrame{Type: frameLeaveRoom, Room: room})
	}
}

func (m *Manager) connectLocked(ctx context.Context) error {
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	m.status = StatusConnecting
	m.dialCancel = cancel
	m.mu.Unlock()

	conn, err := m.dial(dctx)

	m.mu.Lock()
	m.dialCancel = nil
	if err != nil {
		m.status = StatusError
		m.lastErr = err.Error()
		m.mu.Unlock()
		m.log.Warn("live connection failed", logx.Err(err))
		m.publish(EventError, err.Error())
		return err
	}
	m.mu.Unlock()

	s := newSession(conn, m.cfg, m.log)

	m.mu.Lock()
	m.sess = s
	m.status = StatusConnected
	m.lastErr = ""
	rooms := make([]string, 0, len(m.rooms))
	for r := range m.rooms {
		rooms = append(rooms, r)
	}
	handler := m.handler
	m.mu.Unlock()

	m.runSessionHooks()
	sort.Strings(rooms)
	s.start(func(c context.Context, msg []byte) { m.handleFrame(c, handler, msg) }, func(err error) { m.lost(s, err) })
	for _, r := range rooms {
		s.send(roomFrame{Type: frameJoinRoom, Room: r})
	}

	m.log.Info("live updates connected", logx.Int("rooms", len(rooms)))
	m.publish(EventConnected, m.State())
	return nil
}

// lost handles a read failure we did not cause.
func (m *Manager) lost(s *session, err error) {
	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		return
	}
	m.sess = nil
	m.status = StatusDisconnected
	m.mu.Unlock()

	go s.close(context.Background())
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.log.Info("live connection closed by server")
	} else {
		m.log.Warn("live connection lost", logx.Err(err))
	}
	m.publish(EventDisconnected, m.State())
}

func (m *Manager) runSessionHooks() {
	m.mu.Lock()
	hooks := append([]func(){}, m.onSession...)
	m.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	if strings.TrimSpace(m.cfg.URL) == "" {
		return nil, ErrNoURL
	}
	header := http.Header{}
	if m.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+m.cfg.Token)
	}

	backoff := m.cfg.DialBackoff
	var lastErr error
	for attempt := 1; attempt <= m.cfg.DialAttempts; attempt++ {
		conn, resp, err := m.dialer.DialContext(ctx, m.cfg.URL, header)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if resp != nil {
			lastErr = fmt.Errorf("%w (http %d)", err, resp.StatusCode)
		}
		if attempt == m.cfg.DialAttempts || ctx.Err() != nil {
			break
		}
		wait := backoff + time.Duration(rand.Int63n(int64(backoff/2)+1))
		m.log.Debug("live dial failed; retrying", logx.Int("attempt", attempt), logx.Duration("backoff", wait), logx.Err(lastErr))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("dial %s: %w", redactURL(m.cfg.URL), ctx.Err())
		case <-t.C:
		}
		backoff = min(backoff*2, maxDialBackoff)
	}
	return nil, fmt.Errorf("dial %s: %w", redactURL(m.cfg.URL), lastErr)
}

func (m *Manager) handleFrame(ctx context.Context, h Handler, msg []byte) {
	var env map[string]any
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		m.log.Warn("live frame is not a JSON object", logx.Err(err))
		return
	}
	typ, _ := env["type"].(string)
	switch typ {
	case frameNewAnnouncement:
		data, ok := env["data"].(map[string]any)
		if !ok {
			m.log.Warn("new_announcement frame without data object")
			return
		}
		if h != nil {
			h(ctx, announcement.Raw(data))
		}
	case frameError:
		text, _ := env["message"].(string)
		m.log.Warn("live server error", logx.String("message", text))
	case "":
		if h != nil {
			h(ctx, announcement.Raw(env))
		}
	default:
		m.log.Debug("live frame ignored", logx.String("type", typ))
	}
}

func (m *Manager) publish(typ string, data any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}

// session is one live websocket connection and its goroutines.
type session struct {
	conn    *websocket.Conn
	cfg     Config
	log     logx.Logger
	out     chan any
	sup     *rtsup.Supervisor
	closing atomic.Bool
	once    sync.Once
}

func newSession(conn *websocket.Conn, cfg Config, log logx.Logger) *session {
	return &session{
		conn: conn,
		cfg:  cfg,
		log:  log,
		out:  make(chan any, 64),
		sup:  rtsup.New(context.Background(), rtsup.WithLogger(log)),
	}
}

func (s *session) start(onFrame func(context.Context, []byte), onLost func(error)) {
	readWait := 2 * s.cfg.PingInterval
	_ = s.conn.SetReadDeadline(time.Now().Add(readWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	s.sup.Go("live.write", s.writeLoop)
	s.sup.Go("live.read", func(ctx context.Context) error {
		for {
			_, msg, err := s.conn.ReadMessage()
			if err != nil {
				if !s.closing.Load() {
					onLost(err)
				}
				return nil
			}
			onFrame(ctx, msg)
		}
	})
}

// send queues a frame without waiting for the write.
func (s *session) send(v any) {
	select {
	case s.out <- v:
	case <-s.sup.Context().Done():
	}
}

func (s *session) writeLoop(ctx context.Context) error {
	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteJSON(v); err != nil {
				s.log.Warn("live write failed", logx.Err(err))
				// The read loop notices the broken connection.
				_ = s.conn.Close()
				return nil
			}
		case <-ping.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.log.Debug("live ping failed", logx.Err(err))
				_ = s.conn.Close()
				return nil
			}
		}
	}
}

func (s *session) close(ctx context.Context) {
	s.once.Do(func() {
		s.closing.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.sup.Cancel()
		_ = s.conn.Close()
	})
	if err := s.sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Debug("live session stop incomplete", logx.Err(err))
	}
}
