// Package relaywire implements the client-facing connection handler:
// websocket upgrade, the JSON wire protocol, and the read/write pumps
// that bridge a socket to its room.
package relaywire

import (
	"encoding/base64"
	"encoding/json"
)

func encodeUpdate(update []byte) string {
	return base64.StdEncoding.EncodeToString(update)
}

func decodeUpdate(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}

// InboundMessage is the single frame shape a client may send.
type InboundMessage struct {
	Type   string `json:"type"` // "update"
	Room   string `json:"room"`
	Update string `json:"update"` // base64-encoded opaque CRDT update blob
}

// OutboundSync is the server-to-client frame. With action "snapshot" it
// is sent once right after a client attaches, carrying the room's current
// state; with action "update" it carries one fanned-out update and the
// instance it originated on.
type OutboundSync struct {
	Type           string `json:"type"` // "sync"
	Action         string `json:"action"`
	Update         string `json:"update"`
	OriginInstance string `json:"originInstance,omitempty"`
}

func newSnapshotFrame(update []byte) ([]byte, error) {
	return json.Marshal(OutboundSync{
		Type:   "sync",
		Action: "snapshot",
		Update: encodeUpdate(update),
	})
}

func newUpdateFrame(update []byte, originInstance string) ([]byte, error) {
	return json.Marshal(OutboundSync{
		Type:           "sync",
		Action:         "update",
		Update:         encodeUpdate(update),
		OriginInstance: originInstance,
	})
}
