package relaywire

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/collabrelay/relay/internal/relayroom"
)

type fakeAttacher struct {
	snapshot []byte
	sock     relayroom.Socket
}

func (f *fakeAttacher) Attach(ctx context.Context, roomID string, sock relayroom.Socket) ([]byte, *relayroom.Room, error) {
	f.sock = sock
	room := relayroom.NewRoom(roomID, nil, nil, nil, nil)
	return f.snapshot, room, nil
}

func TestServeHTTPRequiresRoomParam(t *testing.T) {
	h := NewHandler(&fakeAttacher{}, "instance-test")
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close error, got %v", err)
	require.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestServeHTTPSendsInitialSnapshot(t *testing.T) {
	snapshot := []byte(`{"ops":[{"id":"op-1","seq":1,"text":"hi"}]}`)
	h := NewHandler(&fakeAttacher{snapshot: snapshot}, "instance-test")
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?room=room-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame OutboundSync
	require.NoError(t, json.Unmarshal(raw, &frame))
	require.Equal(t, "sync", frame.Type)
	require.Equal(t, "snapshot", frame.Action)

	decoded, err := base64.StdEncoding.DecodeString(frame.Update)
	require.NoError(t, err)
	require.Equal(t, snapshot, decoded)
}
