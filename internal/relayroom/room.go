// Package relayroom implements room lifecycle and local fan-out: one
// Room holds a replicated document and the set of local websocket
// clients attached to it, processed through a single-consumer command
// channel so apply order and broadcast order always agree.
package relayroom

import (
	"context"
	"time"

	"github.com/collabrelay/relay/internal/crdtdoc"
	"github.com/collabrelay/relay/internal/metrics"
)

// Socket is the minimal fan-out target a Room needs: a non-blocking
// outbound queue and an identity to exclude from echo.
type Socket interface {
	ClientID() string
	// Send enqueues a frame for delivery; it must never block. A full
	// queue means a slow consumer, and the frame is dropped for that
	// socket rather than stalling the room. originInstance identifies
	// which instance the update originated on, for the outbound
	// sync/update frame.
	Send(update []byte, originInstance string) (dropped bool)
}

// Update describes one CRDT update destined for a room, tagged with
// where it came from so it can be excluded from its own fan-out and, if
// locally-originated, republished to the bus.
type Update struct {
	Blob           []byte
	OriginClient   string // set when the update came from a local socket
	OriginInstance string // instance id the update originated on
	FromBus        bool   // true when the update arrived over the bus
}

const (
	draining = 60 * time.Second
)

// Room owns one room's document and local client set and processes all
// mutations through a single command channel.
type Room struct {
	ID  string
	doc *crdtdoc.Document

	clients map[string]Socket

	commands chan func()
	done     chan struct{}

	evictTimer *time.Timer
	onEvict    func(roomID string)
	onPersist  func(ctx context.Context, roomID string, state []byte)
	onPublish  func(ctx context.Context, roomID string, blob []byte)
}

// NewRoom constructs a room seeded from an optional snapshot (nil if
// none existed). onEvict is invoked once the room has sat empty for the
// drain period; onPersist/onPublish hand off to the persistence and bus
// adapters respectively.
func NewRoom(
	id string,
	snapshot []byte,
	onEvict func(roomID string),
	onPersist func(ctx context.Context, roomID string, state []byte),
	onPublish func(ctx context.Context, roomID string, blob []byte),
) *Room {
	doc := crdtdoc.New()
	if len(snapshot) > 0 {
		_ = doc.Apply(snapshot)
	}

	r := &Room{
		ID:        id,
		doc:       doc,
		clients:   make(map[string]Socket),
		commands:  make(chan func(), 64),
		done:      make(chan struct{}),
		onEvict:   onEvict,
		onPersist: onPersist,
		onPublish: onPublish,
	}
	go r.run()
	return r
}

func (r *Room) run() {
	defer close(r.done)
	for cmd := range r.commands {
		cmd()
	}
}

// enqueue runs fn on the room's single consumer goroutine and waits for
// it to complete.
func (r *Room) enqueue(fn func()) {
	reply := make(chan struct{})
	r.commands <- func() {
		fn()
		close(reply)
	}
	<-reply
}

// Snapshot returns the room's current encoded document state.
func (r *Room) Snapshot() ([]byte, error) {
	var state []byte
	var err error
	r.enqueue(func() {
		state, err = r.doc.EncodeState()
	})
	return state, err
}

// Attach registers a socket as a local member of the room and cancels
// any pending eviction timer. It returns the snapshot encoded in the same
// command that registers the socket, for the caller to send to the newly
// joined client. Updates applied after that command are fanned out to the
// socket directly, so one of them can reach the socket's queue before the
// caller has queued the snapshot.
func (r *Room) Attach(sock Socket) []byte {
	var state []byte
	r.enqueue(func() {
		r.clients[sock.ClientID()] = sock
		r.cancelEvictLocked()
		state, _ = r.doc.EncodeState()
	})
	metrics.IncConnectedClients()
	return state
}

// Detach removes a socket from the room. If the room becomes empty, a
// 60 second eviction timer starts.
func (r *Room) Detach(clientID string) {
	r.enqueue(func() {
		delete(r.clients, clientID)
		if len(r.clients) == 0 {
			r.scheduleEvictLocked()
		}
	})
	metrics.DecConnectedClients()
}

// ClientCount reports the number of locally-attached sockets.
func (r *Room) ClientCount() int {
	var n int
	r.enqueue(func() { n = len(r.clients) })
	return n
}

// Apply merges an update into the document and fans it out to every
// locally-attached socket except the originator (if local). Once the
// mutation and local fan-out are durably queued, it republishes
// locally-originated updates to the bus and asks the persistence
// adapter to checkpoint the room, both off the room's single-consumer
// goroutine so a slow bus or store round trip never stalls the next
// command for this room.
func (r *Room) Apply(ctx context.Context, update Update) error {
	var applyErr error
	var state []byte
	shouldPublish := false
	r.enqueue(func() {
		if applyErr = r.doc.Apply(update.Blob); applyErr != nil {
			return
		}
		metrics.IncUpdates()

		for id, sock := range r.clients {
			if id == update.OriginClient {
				continue
			}
			sock.Send(update.Blob, update.OriginInstance)
		}

		shouldPublish = !update.FromBus
		state, _ = r.doc.EncodeState()
	})
	if applyErr != nil {
		return applyErr
	}

	// Both calls happen after enqueue has returned, so the room's
	// single-consumer channel is already free to process the next
	// command; a slow bus publish or store round trip here blocks only
	// this caller; it never serializes unrelated commands for this room.
	if shouldPublish && r.onPublish != nil {
		r.onPublish(ctx, r.ID, update.Blob)
	}
	if r.onPersist != nil && state != nil {
		r.onPersist(ctx, r.ID, state)
	}
	return nil
}

// Persist asks the persistence adapter to checkpoint the room's current
// state.
func (r *Room) Persist(ctx context.Context) {
	r.enqueue(func() {
		if r.onPersist == nil {
			return
		}
		state, err := r.doc.EncodeState()
		if err != nil {
			return
		}
		r.onPersist(ctx, r.ID, state)
	})
}

func (r *Room) scheduleEvictLocked() {
	r.cancelEvictLocked()
	r.evictTimer = time.AfterFunc(draining, func() {
		if r.onEvict != nil {
			r.onEvict(r.ID)
		}
	})
}

func (r *Room) cancelEvictLocked() {
	if r.evictTimer != nil {
		r.evictTimer.Stop()
		r.evictTimer = nil
	}
}

// Close stops the room's command loop. Callers must ensure no further
// Attach/Detach/Apply calls are made afterward.
func (r *Room) Close() {
	r.enqueue(func() {
		r.cancelEvictLocked()
	})
	close(r.commands)
	<-r.done
}
