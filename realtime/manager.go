// Package realtime maintains the chat WebSocket channels: one socket per
// channel, heartbeats, typed frame dispatch, and bounded reconnection
// with a manual-disconnect flag that always wins.
package realtime

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/marketbay/client-go/auth"
	"github.com/marketbay/client-go/core/tag"
	"github.com/marketbay/client-go/errors"
	"github.com/marketbay/client-go/log"
	"github.com/marketbay/client-go/metrics"
)

// Handlers receive channel lifecycle and frame callbacks. Nil fields are
// skipped. Handlers run on socket goroutines; heavy work belongs on the
// receiver's side.
type Handlers struct {
	OnConnected    func(channelID string)
	OnDisconnected func(channelID string, err error)
	OnError        func(channelID string, err error)

	OnChatMessage  func(channelID string, msg ChatMessage)
	OnUserStatus   func(channelID string, status UserStatus)
	OnTypingStatus func(channelID string, status TypingStatus)
	OnMessagesRead func(channelID string, read MessagesRead)
	OnPong         func(channelID string)
}

// Manager tracks every open channel.
type Manager struct {
	cfg     Config
	auth    *auth.Manager
	logger  *log.Logger
	metrics *metrics.Metrics
	dialer  *websocket.Dialer

	mu       sync.Mutex
	channels map[string]*channel
	closed   bool
}

// New builds a Manager that authenticates socket dials through authMgr.
func New(cfg Config, authMgr *auth.Manager, opts ...Option) (*Manager, error) {
	if err := tag.ApplyDefaults(&cfg); err != nil {
		return nil, err
	}
	if cfg.WSBaseURL == "" {
		return nil, errors.BadRequest("realtime: WebSocket base URL is required")
	}
	if authMgr == nil {
		return nil, errors.BadRequest("realtime: auth manager is required")
	}

	m := &Manager{
		cfg:      cfg,
		auth:     authMgr,
		channels: make(map[string]*channel),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = log.G
	}
	if m.dialer == nil {
		m.dialer = &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout}
	}
	return m, nil
}

// Connect opens the channel's socket. Connecting an already-tracked
// channel is a no-op: one socket per channel, always.
func (m *Manager) Connect(ctx context.Context, channelID string, handlers Handlers) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.Internal("realtime: manager closed")
	}
	if _, ok := m.channels[channelID]; ok {
		m.mu.Unlock()
		m.logger.Debug().Str("channel", channelID).Msg("channel already connected")
		return nil
	}
	ch := newChannel(m, channelID, handlers)
	m.channels[channelID] = ch
	m.mu.Unlock()

	if err := ch.dial(ctx); err != nil {
		m.remove(channelID, ch)
		return err
	}
	return nil
}

// Disconnect closes the channel and forgets it. The manual flag it sets
// overrides any reconnect already scheduled or in flight.
func (m *Manager) Disconnect(channelID string) {
	m.mu.Lock()
	ch := m.channels[channelID]
	delete(m.channels, channelID)
	m.mu.Unlock()

	if ch == nil {
		return
	}
	ch.shutdown()
}

// IsConnected reports whether the channel's socket is currently open.
func (m *Manager) IsConnected(channelID string) bool {
	m.mu.Lock()
	ch := m.channels[channelID]
	m.mu.Unlock()
	return ch != nil && ch.isOpen()
}

// Channels lists the tracked channel ids.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	return ids
}

// Send transmits a chat message on the channel.
func (m *Manager) Send(channelID, body string) error {
	return m.transmit(channelID, frameChatMessage, func(e *envelope) {
		e.Message = body
	})
}

// StartTyping signals the peer that this user started typing.
func (m *Manager) StartTyping(channelID string) error {
	return m.transmit(channelID, frameTypingStart, nil)
}

// StopTyping signals the peer that this user stopped typing.
func (m *Manager) StopTyping(channelID string) error {
	return m.transmit(channelID, frameTypingStop, nil)
}

// MarkRead acknowledges the given messages.
func (m *Manager) MarkRead(channelID string, messageIDs []string) error {
	return m.transmit(channelID, frameMarkRead, func(e *envelope) {
		e.MessageIDs = messageIDs
	})
}

// Ping sends an application-level ping outside the heartbeat cadence.
func (m *Manager) Ping(channelID string) error {
	return m.transmit(channelID, framePing, nil)
}

// transmit marshals a frame and queues it. Sending on a channel that is
// not open is a logged no-op, matching the fire-and-forget contract of
// the chat surface.
func (m *Manager) transmit(channelID, frameType string, mutate func(*envelope)) error {
	m.mu.Lock()
	ch := m.channels[channelID]
	m.mu.Unlock()

	if ch == nil || !ch.isOpen() {
		m.logger.Debug().Str("channel", channelID).Str("type", frameType).
			Msg("dropping frame for channel that is not open")
		return nil
	}

	frame, err := marshalFrame(frameType, mutate)
	if err != nil {
		return err
	}
	return ch.enqueue(frame)
}

// Close disconnects every tracked channel.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	channels := m.channels
	m.channels = make(map[string]*channel)
	m.mu.Unlock()

	for _, ch := range channels {
		ch.shutdown()
	}
	return nil
}

// remove forgets the channel if it is still the registered one.
func (m *Manager) remove(channelID string, ch *channel) {
	m.mu.Lock()
	if m.channels[channelID] == ch {
		delete(m.channels, channelID)
	}
	m.mu.Unlock()
}
