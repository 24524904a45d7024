// Command relaycli is a minimal demo client for exercising a running
// relayd instance: it joins a room, sends one update, and prints every
// frame it receives.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type inboundFrame struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Update string `json:"update"`
}

type outboundFrame struct {
	Type   string `json:"type"`
	Room   string `json:"room"`
	Update string `json:"update"`
}

func main() {
	addr := flag.String("addr", "localhost:1234", "relayd host:port")
	room := flag.String("room", "demo", "room to join")
	text := flag.String("text", "hello from relaycli", "text fragment to append")
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws", RawQuery: "room=" + url.QueryEscape(*room)}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame inboundFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				continue
			}
			fmt.Printf("<- %s/%s: %s\n", frame.Type, frame.Action, frame.Update)
		}
	}()

	op := struct {
		ID   string `json:"id"`
		Seq  uint64 `json:"seq"`
		Text string `json:"text"`
	}{ID: uuid.NewString(), Seq: uint64(time.Now().Unix()), Text: *text}

	opBytes, err := json.Marshal(op)
	if err != nil {
		log.Fatalf("marshal op: %v", err)
	}

	frame := outboundFrame{
		Type:   "update",
		Room:   *room,
		Update: base64.StdEncoding.EncodeToString(opBytes),
	}
	frameBytes, err := json.Marshal(frame)
	if err != nil {
		log.Fatalf("marshal frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frameBytes); err != nil {
		log.Fatalf("write: %v", err)
	}

	time.Sleep(2 * time.Second)
}
