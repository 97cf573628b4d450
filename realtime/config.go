package realtime

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/marketbay/client-go/log"
	"github.com/marketbay/client-go/metrics"
)

// Config tunes the realtime connection manager.
type Config struct {
	// WSBaseURL is the WebSocket backend root, e.g. "wss://api.marketbay.io".
	WSBaseURL string `json:"ws_base_url" validate:"required"`

	// ChannelPathPrefix is prepended to the channel id when building the
	// socket URL.
	ChannelPathPrefix string `json:"channel_path_prefix" default:"/ws/chat/"`

	// HeartbeatInterval spaces application-level pings.
	HeartbeatInterval time.Duration `json:"heartbeat_interval" default:"30s"`

	// PongWait is how long the socket may stay silent before the read
	// loop gives up on it.
	PongWait time.Duration `json:"pong_wait" default:"75s"`

	// ConnectTimeout bounds the dial handshake.
	ConnectTimeout time.Duration `json:"connect_timeout" default:"10s"`

	// WriteTimeout bounds a single frame write, and how long a sender
	// waits for room in the outbound queue.
	WriteTimeout time.Duration `json:"write_timeout" default:"10s"`

	// SendBuffer is the outbound queue depth per channel.
	SendBuffer int `json:"send_buffer" default:"64"`

	// ReconnectBase is the first reconnect delay; each further attempt
	// doubles it.
	ReconnectBase time.Duration `json:"reconnect_base" default:"1s"`

	// MaxReconnects is the attempt budget per connection drop.
	MaxReconnects int `json:"max_reconnects" default:"5"`

	// MaxMessageSize caps a single inbound frame.
	MaxMessageSize int64 `json:"max_message_size" default:"1048576"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(m *Manager) {
		m.dialer = dialer
	}
}

// WithMetrics wires prometheus collectors.
func WithMetrics(mets *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mets
	}
}
