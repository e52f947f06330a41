package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeServer is a websocket endpoint serving every /ws/<stream>/ path. It
// records inbound frames and lets tests push frames to the latest connection.
type fakeServer struct {
	srv        *httptest.Server
	frames     chan Envelope
	closes     chan int
	accepts    atomic.Int32
	heartbeats atomic.Int32
	reject     atomic.Bool

	mu     sync.Mutex
	conn   *websocket.Conn
	tokens []string
	paths  []string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		frames: make(chan Envelope, 64),
		closes: make(chan int, 8),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		if fs.reject.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		fs.mu.Lock()
		fs.conn = conn
		fs.tokens = append(fs.tokens, token)
		fs.paths = append(fs.paths, r.URL.Path)
		fs.mu.Unlock()
		fs.accepts.Add(1)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					fs.closes <- ce.Code
				}
				return
			}
			var hb struct {
				Event string `json:"event"`
			}
			if json.Unmarshal(data, &hb) == nil && hb.Event == "heartbeat" {
				fs.heartbeats.Add(1)
				continue
			}
			var env Envelope
			if json.Unmarshal(data, &env) == nil {
				fs.frames <- env
			}
		}
	})
	fs.srv = httptest.NewServer(mux)
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) pushRaw(t *testing.T, data string) {
	t.Helper()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.NotNil(t, fs.conn, "no client connected")
	require.NoError(t, fs.conn.WriteMessage(websocket.TextMessage, []byte(data)))
}

func (fs *fakeServer) push(t *testing.T, typ string, payload any) {
	t.Helper()
	data, err := encode(typ, payload)
	require.NoError(t, err)
	fs.pushRaw(t, string(data))
}

// drop kills the latest connection without a close handshake.
func (fs *fakeServer) drop(t *testing.T) {
	t.Helper()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.NotNil(t, fs.conn)
	require.NoError(t, fs.conn.NetConn().Close())
}

func (fs *fakeServer) lastToken() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.tokens) == 0 {
		return ""
	}
	return fs.tokens[len(fs.tokens)-1]
}

func (fs *fakeServer) expect(t *testing.T, typ string) Envelope {
	t.Helper()
	select {
	case env := <-fs.frames:
		require.Equal(t, typ, env.Type, "payload: %s", env.Payload)
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s frame received", typ)
	}
	return Envelope{}
}

func (fs *fakeServer) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case env := <-fs.frames:
		t.Fatalf("unexpected %s frame: %s", env.Type, env.Payload)
	case <-time.After(wait):
	}
}

func payloadOf[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Payload, &v))
	return v
}

// session is a switchable token source.
type session struct {
	mu     sync.Mutex
	token  string
	authed bool
}

func newSession(token string) *session { return &session{token: token, authed: true} }

func (s *session) source() TokenSource {
	return func() (string, bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.token, s.authed
	}
}

func (s *session) set(token string, authed bool) {
	s.mu.Lock()
	s.token, s.authed = token, authed
	s.mu.Unlock()
}
