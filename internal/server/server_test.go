package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/a-essam23/go-relay/internal/router"
	"github.com/a-essam23/go-relay/pkg/config"
	"github.com/a-essam23/go-relay/pkg/logging"
	"github.com/a-essam23/go-relay/pkg/state"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Address:         "127.0.0.1:0",
			AllowedOrigins:  []string{"localhost:5173"},
			ConnectionLimit: config.ConnectionLimitConfig{Mode: "reject"},
		},
		Transport: config.TransportConfig{ReadTimeout: time.Minute, SendBuffer: 64, PingInterval: 30 * time.Second},
		Relay: config.RelayConfig{
			DefaultRoom:      "global",
			HistoryLimit:     5,
			QueueSize:        64,
			FanoutWorkers:    1,
			MaxMessageLength: 200,
		},
		Upload: config.UploadConfig{
			URLPrefix:         "/uploads/",
			MaxBytes:          64,
			AllowedExtensions: []string{".png", ".gif", ".jpg", ".jpeg"},
			InMemory:          true,
		},
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	app, err := NewApp(logging.Discard(), context.Background(), testConfig())
	require.NoError(t, err)
	return app
}

type nopPeer struct{ id uuid.UUID }

func (p nopPeer) ID() uuid.UUID { return p.id }
func (p nopPeer) Send([]byte)   {}

func TestHandleMessages(t *testing.T) {
	app := newTestApp(t)
	peer := nopPeer{id: uuid.New()}
	_, err := app.stateManager.RegisterConnection(peer, "127.0.0.1")
	require.NoError(t, err)
	_, err = app.stateManager.Identify(peer.id, "alice")
	require.NoError(t, err)
	_, err = app.stateManager.JoinRoom(peer.id, "global")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err = app.stateManager.SendMessage(peer.id, "global", "hi")
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/messages?limit=500", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var msgs []state.MessageView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	assert.Len(t, msgs, 5, "limit is capped at the history size")

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/messages?room=nowhere&page=3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandleUsers(t *testing.T) {
	app := newTestApp(t)
	anon := nopPeer{id: uuid.New()}
	named := nopPeer{id: uuid.New()}
	app.stateManager.RegisterConnection(anon, "127.0.0.1")
	app.stateManager.RegisterConnection(named, "127.0.0.1")
	app.stateManager.Identify(named.id, "bob")

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var users []state.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	assert.Equal(t, []state.User{{ID: named.id, Username: "bob"}}, users)
}

func uploadRequest(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandleUpload(t *testing.T) {
	app := newTestApp(t)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, uploadRequest(t, "cat.png", pngHeader))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	url := resp["fileUrl"]
	assert.True(t, strings.HasPrefix(url, "/uploads/"), url)
	assert.True(t, strings.HasSuffix(url, ".png"), url)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pngHeader, rec.Body.Bytes())
}

func TestHandleUploadRejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
		want     int
	}{
		{"missing file", "", nil, http.StatusBadRequest},
		{"not an image", "notes.txt", []byte("hello"), http.StatusBadRequest},
		{"too large", "big.png", append(append([]byte{}, pngHeader...), make([]byte, 100)...), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t)
			rec := httptest.NewRecorder()
			app.Handler().ServeHTTP(rec, uploadRequest(t, tt.filename, tt.data))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

// --- websocket round trip ---

func dial(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	return conn
}

func write(t *testing.T, ctx context.Context, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(router.ClientMessage{Event: event, Payload: raw})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, frame))
}

// readUntil reads frames until one carries event and returns its payload.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err, "waiting for %s", event)
		var msg router.ClientMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Event == event {
			return msg.Payload
		}
	}
}

func TestWebsocketRoundTrip(t *testing.T) {
	app := newTestApp(t)
	dispatchCtx, stop := context.WithCancel(context.Background())
	app.stopDispatch = stop
	go app.eventRouter.Run(dispatchCtx)

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dial(t, ctx, srv)
	defer alice.CloseNow()
	write(t, ctx, alice, router.EventUserJoin, "alice")
	readUntil(t, ctx, alice, router.EventUserJoined)
	write(t, ctx, alice, router.EventJoinRoom, "global")
	readUntil(t, ctx, alice, router.EventJoinRoom)

	bob := dial(t, ctx, srv)
	write(t, ctx, bob, router.EventUserJoin, map[string]string{"username": "bob"})
	readUntil(t, ctx, bob, router.EventUserJoined)
	write(t, ctx, bob, router.EventJoinRoom, map[string]string{"room": "global"})
	readUntil(t, ctx, bob, router.EventJoinRoom)

	write(t, ctx, alice, router.EventSendMessage, map[string]string{"room": "global", "message": "Hello"})
	var got state.MessageView
	require.NoError(t, json.Unmarshal(readUntil(t, ctx, bob, router.EventReceiveMessage), &got))
	assert.Equal(t, "alice", got.Sender)
	assert.Equal(t, "Hello", got.Message)
	readUntil(t, ctx, alice, router.EventMessageDelivered)

	bob.Close(websocket.StatusNormalClosure, "")
	var left map[string]any
	require.NoError(t, json.Unmarshal(readUntil(t, ctx, alice, router.EventUserLeft), &left))
	assert.Equal(t, "bob", left["username"])

	require.NoError(t, app.Shutdown())
}

func TestCycledConnectionIsDeregistered(t *testing.T) {
	cfg := testConfig()
	cfg.Server.ConnectionLimit = config.ConnectionLimitConfig{MaxPerIP: 1, Mode: "cycle"}
	app, err := NewApp(logging.Discard(), context.Background(), cfg)
	require.NoError(t, err)
	dispatchCtx, stop := context.WithCancel(context.Background())
	app.stopDispatch = stop
	go app.eventRouter.Run(dispatchCtx)

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dial(t, ctx, srv)
	defer alice.CloseNow()
	write(t, ctx, alice, router.EventUserJoin, "alice")
	readUntil(t, ctx, alice, router.EventUserJoined)

	// alice keeps reading so the close handshake can complete.
	aliceErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := alice.Read(ctx); err != nil {
				aliceErr <- err
				return
			}
		}
	}()

	// same IP, so alice's connection is closed to make room.
	bob := dial(t, ctx, srv)
	defer bob.CloseNow()

	select {
	case err := <-aliceErr:
		require.Error(t, err)
	case <-ctx.Done():
		t.Fatal("cycled connection was never closed")
	}

	assert.Eventually(t, func() bool {
		for _, u := range app.stateManager.Users() {
			if u.Username == "alice" {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "closing a connection removes its state")

	bob.CloseNow()
	require.NoError(t, app.Shutdown())
}

func TestRootBanner(t *testing.T) {
	app := newTestApp(t)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body), "running")
}
