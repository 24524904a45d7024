package relaywire

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/collabrelay/relay/internal/logging"
	"github.com/collabrelay/relay/internal/metrics"
	"github.com/collabrelay/relay/internal/relayroom"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1MB, generous for a text-sync payload
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin is not a trust boundary here; the wider CORS policy for
	// the HTTP surface is handled at the gin router level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RoomAttacher is the subset of *relayroom.Manager the handler needs.
type RoomAttacher interface {
	Attach(ctx context.Context, roomID string, sock relayroom.Socket) ([]byte, *relayroom.Room, error)
}

// Handler upgrades incoming HTTP requests to websockets and bridges
// each connection to its room.
type Handler struct {
	manager    RoomAttacher
	instanceID string
}

// NewHandler builds a connection handler bound to a room manager.
// instanceID tags every locally-originated update's outbound
// sync/update frame so clients can tell which instance produced it.
func NewHandler(manager RoomAttacher, instanceID string) *Handler {
	return &Handler{manager: manager, instanceID: instanceID}
}

// socket adapts one websocket connection to relayroom.Socket, buffering
// outbound frames on a channel drained by writePump so a slow client
// never blocks the room's event loop.
type socket struct {
	id   string
	conn *websocket.Conn
	out  chan []byte
}

func (s *socket) ClientID() string { return s.id }

// Send wraps a raw CRDT update in a sync/update frame tagged with the
// originating instance and enqueues it non-blockingly; a full queue
// means a slow consumer and the frame is dropped for this socket only.
func (s *socket) Send(update []byte, originInstance string) bool {
	frame, err := newUpdateFrame(update, originInstance)
	if err != nil {
		return true
	}
	select {
	case s.out <- frame:
		return false
	default:
		return true
	}
}

// ServeHTTP upgrades the request to a websocket, attaches it to the
// requested room, and runs the read/write pumps until the connection
// closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn(r.Context(), "relaywire: upgrade failed")
		return
	}

	if roomID == "" {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "room parameter is required"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	ctx := logging.WithRoom(logging.WithClient(r.Context(), clientID), roomID)

	sock := &socket{id: clientID, conn: conn, out: make(chan []byte, sendBuffer)}

	snapshot, room, err := h.manager.Attach(ctx, roomID, sock)
	if err != nil {
		logging.Error(ctx, "relaywire: attach failed")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "internal error"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	if frame, err := newSnapshotFrame(snapshot); err == nil {
		sock.out <- frame
	}

	done := make(chan struct{})
	go h.writePump(conn, sock, done)
	h.readPump(ctx, conn, sock, room, roomID, done)
}

func (h *Handler) readPump(
	ctx context.Context,
	conn *websocket.Conn,
	sock *socket,
	room *relayroom.Room,
	roomID string,
	done chan struct{},
) {
	defer func() {
		room.Detach(sock.id)
		close(done)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn(ctx, "relaywire: unexpected close")
			}
			return
		}

		var msg InboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logging.Warn(ctx, "relaywire: malformed inbound frame")
			continue
		}
		if msg.Type != "update" || msg.Update == "" {
			continue
		}

		update, err := decodeUpdate(msg.Update)
		if err != nil {
			logging.Warn(ctx, "relaywire: malformed update encoding")
			continue
		}

		upd := relayroom.Update{Blob: update, OriginClient: sock.id, OriginInstance: h.instanceID}
		if err := room.Apply(ctx, upd); err != nil {
			logging.Warn(ctx, "relaywire: malformed update rejected by document")
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sock *socket, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case frame := <-sock.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
			metrics.IncMessagesSent()
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
