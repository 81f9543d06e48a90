package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/scarlin90/signingroom/internal/protocol"
	"github.com/scarlin90/signingroom/internal/room"
	"github.com/scarlin90/signingroom/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*room.Hub, string) {
	t.Helper()
	store, err := storage.OpenMemory(uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	hub := room.NewHub(store, nil, nil)
	srv := NewServer(hub, nil)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.ServeRoom(w, r, strings.TrimPrefix(r.URL.Path, "/room/"))
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(hub.Shutdown)
	return hub, "ws" + strings.TrimPrefix(ts.URL, "http") + "/room/"
}

func dial(t *testing.T, base, roomID string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(base+roomID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMsg(t *testing.T, ws *websocket.Conn) protocol.ServerMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.DecodeServerMessage(data)
	require.NoError(t, err)
	return msg
}

func readUntil(t *testing.T, ws *websocket.Conn, want protocol.MessageType) protocol.ServerMessage {
	t.Helper()
	for {
		if msg := readMsg(t, ws); msg.Type() == want {
			return msg
		}
	}
}

func expectClose(t *testing.T, ws *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, code, ce.Code)
		return
	}
}

func writeMsg(t *testing.T, ws *websocket.Conn, msg protocol.ClientMessage) {
	t.Helper()
	b, err := protocol.EncodeClientMessage(msg)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, b))
}

func TestSessionRoundTrip(t *testing.T) {
	hub, base := newTestServer(t)
	c, err := hub.Create(context.Background(), room.CreateParams{EncryptedPsbt: "Y3Q="})
	require.NoError(t, err)

	ws := dial(t, base, c.RoomID)
	assert.Equal(t, &protocol.ConnectionsUpdateMsg{Count: 1}, readMsg(t, ws))
	view := readMsg(t, ws).(*protocol.StateSyncMsg)
	assert.Equal(t, "Y3Q=", view.EncryptedPsbt)

	writeMsg(t, ws, &protocol.AuthMsg{Token: c.AdminToken})
	assert.Equal(t, &protocol.RoleUpdateMsg{Role: protocol.RoleCoordinator}, readMsg(t, ws))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("garbage")))
	writeMsg(t, ws, &protocol.LogActionMsg{Action: "PDF Exported", Detail: "audit.pdf"})
	update := readMsg(t, ws).(*protocol.LogUpdateMsg)
	assert.Equal(t, "PDF Exported", update.AuditLog[len(update.AuditLog)-1].Event)
}

func TestUnknownRoom(t *testing.T) {
	_, base := newTestServer(t)
	ws := dial(t, base, "missing")
	assert.IsType(t, &protocol.ErrorNotFoundMsg{}, readMsg(t, ws))
	expectClose(t, ws, protocol.CloseNotFound)
}

func TestRoomFull(t *testing.T) {
	hub, base := newTestServer(t)
	c, err := hub.Create(context.Background(), room.CreateParams{EncryptedPsbt: "Y3Q="})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		ws := dial(t, base, c.RoomID)
		readUntil(t, ws, protocol.StateSync)
	}
	ws := dial(t, base, c.RoomID)
	expectClose(t, ws, protocol.CloseRoomFull)
}

func TestCloseRoomEndsSessions(t *testing.T) {
	hub, base := newTestServer(t)
	c, err := hub.Create(context.Background(), room.CreateParams{EncryptedPsbt: "Y3Q="})
	require.NoError(t, err)

	coord := dial(t, base, c.RoomID)
	readUntil(t, coord, protocol.StateSync)
	guest := dial(t, base, c.RoomID)
	readUntil(t, guest, protocol.StateSync)

	writeMsg(t, coord, &protocol.AuthMsg{Token: c.AdminToken})
	readUntil(t, coord, protocol.RoleUpdate)
	writeMsg(t, coord, &protocol.CloseRoomMsg{})

	for _, ws := range []*websocket.Conn{coord, guest} {
		readUntil(t, ws, protocol.RoomClosed)
		expectClose(t, ws, protocol.CloseNormal)
	}
	_, ok := hub.Lookup(c.RoomID)
	assert.False(t, ok)
}
