package realtime

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marketbay/client-go/errors"
)

// channel is one live chat channel: a socket, its read/write/heartbeat
// goroutines, and the reconnect state for this connection's lifetime.
type channel struct {
	id       string
	m        *Manager
	handlers Handlers

	// sendq outlives individual connections so frames queued during a
	// reconnect flush once the socket is back.
	sendq chan []byte

	mu       sync.Mutex
	conn     *websocket.Conn
	open     bool
	manual   bool
	attempts int
	retry    *time.Timer
}

func newChannel(m *Manager, id string, handlers Handlers) *channel {
	return &channel{
		id:       id,
		m:        m,
		handlers: handlers,
		sendq:    make(chan []byte, m.cfg.SendBuffer),
	}
}

// dial opens the socket and starts the per-connection goroutines. A fresh
// access token is fetched on every dial so reconnects after a token
// rotation still authenticate.
func (c *channel) dial(ctx context.Context) error {
	if err := c.m.auth.EnsureValidToken(ctx); err != nil {
		return err
	}
	accessToken, ok := c.m.auth.AccessToken()
	if !ok {
		return errors.ErrAuthenticationRequired
	}

	target := c.m.cfg.WSBaseURL + c.m.cfg.ChannelPathPrefix + url.PathEscape(c.id) +
		"/?token=" + url.QueryEscape(accessToken)

	conn, resp, err := c.m.dialer.DialContext(ctx, target, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return errors.ServiceUnavailable("realtime: dialing channel %s failed (status %d)", c.id, status).WithCause(err)
	}

	c.mu.Lock()
	if c.manual {
		// Disconnected while the handshake was underway.
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.open = true
	c.attempts = 0
	stop := make(chan struct{})
	c.mu.Unlock()

	conn.SetReadLimit(c.m.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(c.m.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.m.cfg.PongWait))
	})

	c.m.metrics.ChannelOpened()
	go c.writeLoop(conn, stop)
	go c.heartbeat(stop)
	go c.readLoop(conn, stop)

	c.m.logger.Debug().Str("channel", c.id).Msg("channel connected")
	if c.handlers.OnConnected != nil {
		c.handlers.OnConnected(c.id)
	}
	return nil
}

// readLoop consumes frames until the connection dies, then drives the
// teardown-or-reconnect decision.
func (c *channel) readLoop(conn *websocket.Conn, stop chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.connectionLost(conn, stop, err)
			return
		}
		// Any inbound frame proves the peer is alive.
		_ = conn.SetReadDeadline(time.Now().Add(c.m.cfg.PongWait))
		c.dispatch(data)
	}
}

// connectionLost tears this connection down and, unless the close was
// requested manually, schedules a reconnect.
func (c *channel) connectionLost(conn *websocket.Conn, stop chan struct{}, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.open = false
	manual := c.manual
	c.mu.Unlock()

	close(stop)
	conn.Close()
	c.m.metrics.ChannelClosed()

	c.m.logger.Debug().Str("channel", c.id).Bool("manual", manual).Err(err).
		Msg("channel connection closed")
	if c.handlers.OnDisconnected != nil {
		c.handlers.OnDisconnected(c.id, err)
	}

	if manual {
		return
	}
	c.scheduleReconnect()
}

// scheduleReconnect arms the next redial at ReconnectBase doubled per
// attempt. Exhausting the budget removes the channel from the registry;
// a later Connect starts over cleanly.
func (c *channel) scheduleReconnect() {
	c.mu.Lock()
	if c.manual {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.m.cfg.MaxReconnects {
		c.mu.Unlock()
		c.m.logger.Warn().Str("channel", c.id).Int("attempts", c.m.cfg.MaxReconnects).
			Msg("reconnect budget exhausted, channel stays closed")
		c.m.remove(c.id, c)
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := c.m.cfg.ReconnectBase << (attempt - 1)

	c.m.logger.Debug().Str("channel", c.id).Int("attempt", attempt).Dur("delay", delay).
		Msg("scheduling reconnect")
	c.retry = time.AfterFunc(delay, c.redial)
	c.mu.Unlock()
}

func (c *channel) redial() {
	c.mu.Lock()
	manual := c.manual
	c.mu.Unlock()
	if manual {
		// Disconnect won the race against the timer.
		return
	}

	c.m.metrics.ReconnectAttempt(c.id)

	ctx, cancel := context.WithTimeout(context.Background(), c.m.cfg.ConnectTimeout)
	defer cancel()

	if err := c.dial(ctx); err != nil {
		if c.handlers.OnError != nil {
			c.handlers.OnError(c.id, err)
		}
		c.scheduleReconnect()
	}
}

// shutdown is the manual close path: the flag it sets is authoritative
// over any scheduled reconnect.
func (c *channel) shutdown() {
	c.mu.Lock()
	c.manual = true
	if c.retry != nil {
		c.retry.Stop()
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

func (c *channel) isOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// enqueue hands a frame to the write loop, waiting up to WriteTimeout
// for room in the queue.
func (c *channel) enqueue(frame []byte) error {
	timer := time.NewTimer(c.m.cfg.WriteTimeout)
	defer timer.Stop()

	select {
	case c.sendq <- frame:
		return nil
	case <-timer.C:
		return errors.ServiceUnavailable("realtime: send queue full on channel %s", c.id)
	}
}

func (c *channel) writeLoop(conn *websocket.Conn, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case frame := <-c.sendq:
			_ = conn.SetWriteDeadline(time.Now().Add(c.m.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				if c.handlers.OnError != nil {
					c.handlers.OnError(c.id, err)
				}
				// The read loop notices the dead socket and owns recovery.
				conn.Close()
				return
			}
		}
	}
}

// heartbeat paces application-level pings. Staleness shows up as a read
// deadline miss in the read loop, not here.
func (c *channel) heartbeat(stop chan struct{}) {
	ticker := time.NewTicker(c.m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			frame, err := marshalFrame(framePing, nil)
			if err != nil {
				continue
			}
			if err := c.enqueue(frame); err != nil {
				c.m.logger.Debug().Str("channel", c.id).Err(err).Msg("heartbeat dropped")
			}
		}
	}
}

// dispatch decodes one inbound frame and routes it to the typed handler.
// Unknown types are logged and dropped.
func (c *channel) dispatch(data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		c.m.logger.Debug().Str("channel", c.id).Err(err).Msg("dropping undecodable frame")
		return
	}

	switch head.Type {
	case frameChatMessage:
		var msg ChatMessage
		if json.Unmarshal(data, &msg) == nil && c.handlers.OnChatMessage != nil {
			c.handlers.OnChatMessage(c.id, msg)
		}
	case frameUserStatus:
		var status UserStatus
		if json.Unmarshal(data, &status) == nil && c.handlers.OnUserStatus != nil {
			c.handlers.OnUserStatus(c.id, status)
		}
	case frameTypingStatus:
		var status TypingStatus
		if json.Unmarshal(data, &status) == nil && c.handlers.OnTypingStatus != nil {
			c.handlers.OnTypingStatus(c.id, status)
		}
	case frameMessagesRead:
		var read MessagesRead
		if json.Unmarshal(data, &read) == nil && c.handlers.OnMessagesRead != nil {
			c.handlers.OnMessagesRead(c.id, read)
		}
	case framePong:
		if c.handlers.OnPong != nil {
			c.handlers.OnPong(c.id)
		}
	default:
		c.m.logger.Debug().Str("channel", c.id).Str("type", head.Type).Msg("dropping unknown frame type")
	}
}
