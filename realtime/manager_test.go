package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketbay/client-go/auth"
	"github.com/marketbay/client-go/core/token"
	"github.com/marketbay/client-go/store"
)

func mintToken(t *testing.T, ttl time.Duration) string {
	t.Helper()

	claims := token.Claims{
		UserID: "u-1",
		Role:   token.RoleCustomer,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

// chatServer is an in-process WebSocket backend for one test.
type chatServer struct {
	upgrader   websocket.Upgrader
	handshakes atomic.Int32
	reject     atomic.Bool
	inbound    chan []byte

	mu     sync.Mutex
	conns  []*websocket.Conn
	tokens []string
}

func newChatServer() *chatServer {
	return &chatServer{
		inbound: make(chan []byte, 64),
	}
}

func (s *chatServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/chat/", func(w http.ResponseWriter, r *http.Request) {
		s.handshakes.Add(1)
		if s.reject.Load() {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.tokens = append(s.tokens, r.URL.Query().Get("token"))
		s.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.inbound <- data
		}
	})
	return mux
}

func (s *chatServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *chatServer) lastToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tokens) == 0 {
		return ""
	}
	return s.tokens[len(s.tokens)-1]
}

// push writes a frame on the most recent connection.
func (s *chatServer) push(t *testing.T, frame string) {
	t.Helper()
	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// drop closes the most recent connection from the server side.
func (s *chatServer) drop() {
	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	conn.Close()
}

func newTestRealtime(t *testing.T, srv *httptest.Server, mutate func(*Config)) (*Manager, *auth.Manager) {
	t.Helper()

	mgr, err := auth.New(auth.Config{
		BaseURL:            srv.URL,
		RefreshThreshold:   time.Minute,
		MinRefreshInterval: time.Millisecond,
		RefreshTimeout:     2 * time.Second,
		MaxRetries:         3,
	}, store.NewMemory())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	require.NoError(t, mgr.SetSession(context.Background(), token.Pair{
		AccessToken:  mintToken(t, time.Hour),
		RefreshToken: "refresh-seed",
	}, &auth.Profile{UserID: "u-1"}))

	cfg := Config{
		WSBaseURL:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		HeartbeatInterval: time.Minute,
		ReconnectBase:     50 * time.Millisecond,
		MaxReconnects:     3,
		ConnectTimeout:    2 * time.Second,
		WriteTimeout:      time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	rt, err := New(cfg, mgr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt, mgr
}

func TestConnectAttachesToken(t *testing.T) {
	cs := newChatServer()
	srv := httptest.NewServer(cs.handler())
	defer srv.Close()

	rt, mgr := newTestRealtime(t, srv, nil)

	require.NoError(t, rt.Connect(context.Background(), "room-1", Handlers{}))
	assert.True(t, rt.IsConnected("room-1"))

	access, ok := mgr.AccessToken()
	require.True(t, ok)
	assert.Equal(t, access, cs.lastToken())
}

func TestDoubleConnectKeepsOneSocket(t *testing.T) {
	cs := newChatServer()
	srv := httptest.NewServer(cs.handler())
	defer srv.Close()

	rt, _ := newTestRealtime(t, srv, nil)

	require.NoError(t, rt.Connect(context.Background(), "room-1", Handlers{}))
	require.NoError(t, rt.Connect(context.Background(), "room-1", Handlers{}))

	assert.Equal(t, 1, cs.connCount())
	assert.Equal(t, []string{"room-1"}, rt.Channels())
}

func TestTypedFrameDispatch(t *testing.T) {
	cs := newChatServer()
	srv := httptest.NewServer(cs.handler())
	defer srv.Close()

	rt, _ := newTestRealtime(t, srv, nil)

	messages := make(chan ChatMessage, 1)
	statuses := make(chan UserStatus, 1)
	typing := make(chan TypingStatus, 1)
	reads := make(chan MessagesRead, 1)
	pongs := make(chan struct{}, 1)

	require.NoError(t, rt.Connect(context.Background(), "room-1", Handlers{
		OnChatMessage:  func(_ string, m ChatMessage) { messages <- m },
		OnUserStatus:   func(_ string, s UserStatus) { statuses <- s },
		OnTypingStatus: func(_ string, s TypingStatus) { typing <- s },
		OnMessagesRead: func(_ string, r MessagesRead) { reads <- r },
		OnPong:         func(string) { pongs <- struct{}{} },
	}))

	cs.push(t, `{"type":"chat_message","id":"m-1","sender_id":"u-2","message":"hi there"}`)
	cs.push(t, `{"type":"user_status","user_id":"u-2","online":true}`)
	cs.push(t, `{"type":"typing_status","user_id":"u-2","typing":true}`)
	cs.push(t, `{"type":"messages_read","user_id":"u-2","message_ids":["m-1"]}`)
	cs.push(t, `{"type":"pong"}`)
	cs.push(t, `{"type":"mystery"}`) // unknown types are dropped, not fatal

	select {
	case m := <-messages:
		assert.Equal(t, "hi there", m.Body)
		assert.Equal(t, "u-2", m.SenderID)
	case <-time.After(time.Second):
		t.Fatal("chat message not dispatched")
	}

	select {
	case s := <-statuses:
		assert.True(t, s.Online)
	case <-time.After(time.Second):
		t.Fatal("user status not dispatched")
	}

	select {
	case s := <-typing:
		assert.True(t, s.Typing)
	case <-time.After(time.Second):
		t.Fatal("typing status not dispatched")
	}

	select {
	case r := <-reads:
		assert.Equal(t, []string{"m-1"}, r.MessageIDs)
	case <-time.After(time.Second):
		t.Fatal("read receipt not dispatched")
	}

	select {
	case <-pongs:
	case <-time.After(time.Second):
		t.Fatal("pong not dispatched")
	}

	assert.True(t, rt.IsConnected("room-1"), "unknown frame must not kill the connection")
}

func TestOutgoingFrames(t *testing.T) {
	cs := newChatServer()
	srv := httptest.NewServer(cs.handler())
	defer srv.Close()

	rt, _ := newTestRealtime(t, srv, nil)
	require.NoError(t, rt.Connect(context.Background(), "room-1", Handlers{}))

	require.NoError(t, rt.Send("room-1", "hello"))
	require.NoError(t, rt.StartTyping("room-1"))
	require.NoError(t, rt.MarkRead("room-1", []string{"m-1", "m-2"}))

	next := func() envelope {
		select {
		case data := <-cs.inbound:
			var e envelope
			require.NoError(t, json.Unmarshal(data, &e))
			return e
		case <-time.After(time.Second):
			t.Fatal("no frame received")
			return envelope{}
		}
	}

	msg := next()
	assert.Equal(t, "chat_message", msg.Type)
	assert.Equal(t, "hello", msg.Message)
	assert.NotEmpty(t, msg.ID)

	assert.Equal(t, "typing_start", next().Type)

	read := next()
	assert.Equal(t, "mark_read", read.Type)
	assert.Equal(t, []string{"m-1", "m-2"}, read.MessageIDs)
}

func TestSendOnUnopenedChannelIsNoop(t *testing.T) {
	cs := newChatServer()
	srv := httptest.NewServer(cs.handler())
	defer srv.Close()

	rt, _ := newTestRealtime(t, srv, nil)
	assert.NoError(t, rt.Send("room-unknown", "into the void"))
}

func TestHeartbeat(t *testing.T) {
	cs := newChatServer()
	srv := httptest.NewServer(cs.handler())
	defer srv.Close()

	rt, _ := newTestRealtime(t, srv, func(cfg *Config) {
		cfg.HeartbeatInterval = 50 * time.Millisecond
	})
	require.NoError(t, rt.Connect(context.Background(), "room-1", Handlers{}))

	select {
	case data := <-cs.inbound:
		var e envelope
		require.NoError(t, json.Unmarshal(data, &e))
		assert.Equal(t, "ping", e.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat ping")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	cs := newChatServer()
	srv := httptest.NewServer(cs.handler())
	defer srv.Close()

	rt, _ := newTestRealtime(t, srv, nil)

	connected := make(chan struct{}, 4)
	require.NoError(t, rt.Connect(context.Background(), "room-1", Handlers{
		OnConnected: func(string) { connected <- struct{}{} },
	}))
	<-connected

	cs.drop()

	select {
	case <-connected:
	case <-time.After(3 * time.Second):
		t.Fatal("channel did not reconnect")
	}
	assert.Equal(t, 2, cs.connCount())
	assert.True(t, rt.IsConnected("room-1"))
}

func TestManualDisconnectOverridesReconnect(t *testing.T) {
	cs := newChatServer()
	srv := httptest.NewServer(cs.handler())
	defer srv.Close()

	rt, _ := newTestRealtime(t, srv, func(cfg *Config) {
		cfg.ReconnectBase = 200 * time.Millisecond
	})

	disconnected := make(chan struct{}, 2)
	require.NoError(t, rt.Connect(context.Background(), "room-1", Handlers{
		OnDisconnected: func(string, error) { disconnected <- struct{}{} },
	}))

	// Server drop schedules a reconnect; Disconnect lands inside that
	// window and must win.
	cs.drop()
	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("drop not observed")
	}
	rt.Disconnect("room-1")

	time.Sleep(800 * time.Millisecond)
	assert.Equal(t, 1, cs.connCount(), "reconnect timer must not reopen a manually closed channel")
	assert.False(t, rt.IsConnected("room-1"))
	assert.Empty(t, rt.Channels())
}

func TestReconnectBudgetExhausted(t *testing.T) {
	cs := newChatServer()
	srv := httptest.NewServer(cs.handler())
	defer srv.Close()

	rt, _ := newTestRealtime(t, srv, func(cfg *Config) {
		cfg.ReconnectBase = 20 * time.Millisecond
		cfg.MaxReconnects = 2
	})

	require.NoError(t, rt.Connect(context.Background(), "room-1", Handlers{}))

	cs.reject.Store(true)
	cs.drop()

	assert.Eventually(t, func() bool {
		return len(rt.Channels()) == 0
	}, 5*time.Second, 20*time.Millisecond, "exhausted channel must leave the registry")
	// 1 initial handshake + exactly MaxReconnects redials
	assert.EqualValues(t, 3, cs.handshakes.Load())

	// A fresh Connect after exhaustion starts over.
	cs.reject.Store(false)
	require.NoError(t, rt.Connect(context.Background(), "room-1", Handlers{}))
	assert.True(t, rt.IsConnected("room-1"))
}

func TestCloseTearsDownEverything(t *testing.T) {
	cs := newChatServer()
	srv := httptest.NewServer(cs.handler())
	defer srv.Close()

	rt, _ := newTestRealtime(t, srv, nil)

	require.NoError(t, rt.Connect(context.Background(), "room-1", Handlers{}))
	require.NoError(t, rt.Connect(context.Background(), "room-2", Handlers{}))
	require.NoError(t, rt.Close())

	assert.Empty(t, rt.Channels())
	err := rt.Connect(context.Background(), "room-3", Handlers{})
	assert.Error(t, err)
}
