package channel

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const writeTimeout = 10 * time.Second

// ErrChannelNotReady is returned by Send while the channel is not connected.
var ErrChannelNotReady = errors.New("channel not ready")

// MessageHandler receives raw inbound text frames. There is a single consumer.
type MessageHandler func(data []byte)

// StateHandler observes lifecycle transitions. err is non-nil for Erroring.
type StateHandler func(s State, err error)

// Manager owns the duplex channel: one connect attempt per process lifetime,
// send while connected, deliver inbound frames to the registered consumer.
// There is no automatic reconnect; once the channel closes or errors, every
// further Send fails until the process is restarted.
type Manager struct {
	url string
	log zerolog.Logger

	mu      sync.Mutex
	writeMu sync.Mutex // serialises all conn writes
	conn    *websocket.Conn
	state   State
	dialed  bool

	onMessage MessageHandler
	onState   StateHandler
}

func NewManager(url string) *Manager {
	return &Manager{
		url:   url,
		state: Disconnected,
		log:   log.With().Str("component", "channel").Logger(),
	}
}

// OnMessage registers the single consumer for inbound frames. Must be called
// before Connect.
func (m *Manager) OnMessage(h MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = h
}

// OnStateChange registers the lifecycle observer. Must be called before
// Connect.
func (m *Manager) OnStateChange(h StateHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = h
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect dials the channel endpoint, once per process lifetime. A failed
// dial leaves the manager Disconnected; there is no retry.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.dialed {
		m.mu.Unlock()
		return errors.New("channel already dialed")
	}
	m.dialed = true
	m.mu.Unlock()

	m.transition(Connecting, nil)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.url, nil)
	if err != nil {
		m.transition(Disconnected, nil)
		return errors.Wrapf(err, "dialing %s", m.url)
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	m.transition(Connected, nil)
	m.log.Info().Str("url", m.url).Msg("channel connected")

	go m.readLoop(conn)
	return nil
}

// Send transmits v as a JSON text frame. It fails with ErrChannelNotReady
// unless the channel is currently connected.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	conn := m.conn
	ready := m.state == Connected
	m.mu.Unlock()

	if !ready || conn == nil {
		return ErrChannelNotReady
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(v); err != nil {
		m.transition(Erroring, err)
		return errors.Wrap(err, "writing frame")
	}
	return nil
}

// Close tears the channel down. Safe to call regardless of state; used by the
// composition root on shutdown.
func (m *Manager) Close() error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.state = Disconnected
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			closed := m.conn == nil // Close already ran
			if m.conn == conn {
				m.conn = nil
			}
			m.mu.Unlock()
			conn.Close()

			if closed {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.log.Info().Msg("channel closed by peer")
				m.transition(Disconnected, nil)
			} else {
				m.log.Warn().Err(err).Msg("channel error")
				m.transition(Erroring, err)
			}
			return
		}

		m.mu.Lock()
		handler := m.onMessage
		m.mu.Unlock()
		if handler != nil {
			handler(data)
		}
	}
}

func (m *Manager) transition(s State, err error) {
	m.mu.Lock()
	m.state = s
	handler := m.onState
	m.mu.Unlock()

	if handler != nil {
		handler(s, err)
	}
}
