package relayroom

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/collabrelay/relay/internal/logging"
	"github.com/collabrelay/relay/internal/metrics"
)

// Persister is the subset of the persistence adapter the manager needs.
type Persister interface {
	LoadSnapshot(ctx context.Context, roomID string) ([]byte, bool, error)
	SaveSnapshot(ctx context.Context, roomID string, state []byte) error
}

// Publisher is the subset of the bus adapter the manager needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	SubscribePattern(ctx context.Context, pattern string, handler func(channel string, payload []byte)) error
}

// busEnvelope is what crosses the bus between instances. InstanceID is
// used to suppress echo: an instance never re-applies its own publish.
type busEnvelope struct {
	InstanceID string          `json:"instanceId"`
	RoomID     string          `json:"roomId"`
	Update     json.RawMessage `json:"update"`
}

const roomChannelPattern = "room:*"

func roomChannel(roomID string) string {
	return fmt.Sprintf("room:%s", roomID)
}

// Manager is the single source of truth for which rooms exist on this
// instance. It owns room creation/eviction, bus ingress, and snapshot
// persistence.
type Manager struct {
	instanceID string
	store      Persister
	bus        Publisher

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewManager constructs a Manager and subscribes it to the shared bus
// channel pattern so it can route inbound updates for rooms it already
// holds (or create rooms on demand for rooms it does not yet hold).
func NewManager(ctx context.Context, instanceID string, store Persister, bus Publisher) (*Manager, error) {
	m := &Manager{
		instanceID: instanceID,
		store:      store,
		bus:        bus,
		rooms:      make(map[string]*Room),
	}

	err := bus.SubscribePattern(ctx, roomChannelPattern, func(channel string, payload []byte) {
		m.handleBusMessage(ctx, payload)
	})
	if err != nil {
		return nil, fmt.Errorf("relayroom: subscribe to bus: %w", err)
	}
	return m, nil
}

func (m *Manager) handleBusMessage(ctx context.Context, payload []byte) {
	var env busEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logging.Warn(ctx, "relayroom: malformed bus envelope")
		return
	}
	if env.InstanceID == m.instanceID {
		return // echo suppression (I2): never re-apply our own publish
	}

	room, _ := m.EnsureRoom(ctx, env.RoomID)
	_ = room.Apply(ctx, Update{Blob: env.Update, FromBus: true, OriginInstance: env.InstanceID})
}

// EnsureRoom returns the room for roomID, creating it (and loading any
// existing snapshot) if this instance does not already hold it.
func (m *Manager) EnsureRoom(ctx context.Context, roomID string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if room, ok := m.rooms[roomID]; ok {
		return room, nil
	}

	snapshot, _, err := m.store.LoadSnapshot(ctx, roomID)
	if err != nil {
		logging.Warn(ctx, "relayroom: load snapshot failed, starting empty")
		snapshot = nil
	}

	room := NewRoom(
		roomID,
		snapshot,
		m.evictRoom,
		m.persistRoom,
		m.publishUpdate,
	)
	m.rooms[roomID] = room
	metrics.IncActiveRooms()
	return room, nil
}

func (m *Manager) publishUpdate(ctx context.Context, roomID string, blob []byte) {
	env := busEnvelope{InstanceID: m.instanceID, RoomID: roomID, Update: blob}
	payload, err := json.Marshal(env)
	if err != nil {
		logging.Error(ctx, "relayroom: marshal bus envelope failed")
		return
	}
	if err := m.bus.Publish(ctx, roomChannel(roomID), payload); err != nil {
		logging.Warn(ctx, "relayroom: publish to bus failed")
	}
}

func (m *Manager) persistRoom(ctx context.Context, roomID string, state []byte) {
	if err := m.store.SaveSnapshot(ctx, roomID, state); err != nil {
		logging.Warn(ctx, "relayroom: save snapshot failed")
	}
}

// evictRoom drops a drained room from the map after a final persist.
// Invoked from a room's eviction timer, which time.AfterFunc runs on its
// own goroutine rather than the room's command loop, so calling back into
// the room synchronously from here is safe.
func (m *Manager) evictRoom(roomID string) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if room.ClientCount() > 0 {
		// a client reattached between the timer firing and the lock
		m.mu.Unlock()
		return
	}
	delete(m.rooms, roomID)
	m.mu.Unlock()

	ctx := context.Background()
	room.Persist(ctx)
	room.Close()
	metrics.DecActiveRooms()
}

// Attach joins a socket to a room, returning the room's current
// snapshot.
func (m *Manager) Attach(ctx context.Context, roomID string, sock Socket) ([]byte, *Room, error) {
	room, err := m.EnsureRoom(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	return room.Attach(sock), room, nil
}

// RoomCount reports how many rooms this instance currently holds.
func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// PersistAll checkpoints every room this instance holds. Used on
// graceful shutdown.
func (m *Manager) PersistAll(ctx context.Context) {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	for _, r := range rooms {
		r.Persist(ctx)
	}
}

// CloseAll stops every room's command loop. Call after PersistAll during
// shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.rooms = make(map[string]*Room)
	m.mu.Unlock()

	for _, r := range rooms {
		r.Close()
	}
}
