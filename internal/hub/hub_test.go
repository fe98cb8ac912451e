package hub

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// wsServer upgrades every request and attaches it under the party named in
// the query string.
func wsServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		h.Attach(r.URL.Query().Get("party"), conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, party string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?party=" + party
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestSendToReachesEverySessionOfParty(t *testing.T) {
	h := newTestHub()
	srv := wsServer(t, h)

	phone := dial(t, srv, "alice")
	laptop := dial(t, srv, "alice")
	other := dial(t, srv, "bob")

	require.Eventually(t, func() bool { return h.SessionCount("alice") == 2 }, 2*time.Second, 10*time.Millisecond)

	h.SendTo("alice", Message{Kind: KindStatusUpdate, Data: map[string]any{"ride_id": "r1"}})

	for _, conn := range []*websocket.Conn{phone, laptop} {
		msg := readMessage(t, conn)
		require.Equal(t, KindStatusUpdate, msg.Kind)
	}

	require.NoError(t, other.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var msg Message
	require.Error(t, other.ReadJSON(&msg), "bob must not receive alice's update")
}

func TestSendToAll(t *testing.T) {
	h := newTestHub()
	srv := wsServer(t, h)

	a := dial(t, srv, "alice")
	b := dial(t, srv, "bob")
	require.Eventually(t, func() bool {
		return h.SessionCount("alice") == 1 && h.SessionCount("bob") == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.SendToAll(Message{Kind: KindLocationUpdate})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		require.Equal(t, KindLocationUpdate, msg.Kind)
	}
}

func TestDisconnectTearsDownSession(t *testing.T) {
	h := newTestHub()
	srv := wsServer(t, h)

	conn := dial(t, srv, "alice")
	require.Eventually(t, func() bool { return h.SessionCount("alice") == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return h.SessionCount("alice") == 0 }, 2*time.Second, 10*time.Millisecond)

	// a party with no sessions is a silent no-op
	h.SendTo("alice", Message{Kind: KindStatusUpdate})
}

func TestUnregisterIdempotent(t *testing.T) {
	h := newTestHub()
	s := h.Register("alice", nil)
	require.Equal(t, 1, h.SessionCount("alice"))

	h.Unregister("alice", s)
	require.Equal(t, 0, h.SessionCount("alice"))

	// second removal of the same session must not underflow the registry
	h.Unregister("alice", s)
	require.Equal(t, 0, h.SessionCount("alice"))
}
