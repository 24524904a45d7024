package relayroom

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSocket struct {
	id       string
	received chan []byte
	onSend   func(originInstance string)
}

func newFakeSocket(id string) *fakeSocket {
	return &fakeSocket{id: id, received: make(chan []byte, 16)}
}

func (f *fakeSocket) ClientID() string { return f.id }

func (f *fakeSocket) Send(update []byte, originInstance string) bool {
	if f.onSend != nil {
		f.onSend(originInstance)
	}
	select {
	case f.received <- update:
		return false
	default:
		return true
	}
}

func opBlob(t *testing.T, id string, seq uint64, text string) []byte {
	t.Helper()
	b, err := json.Marshal(struct {
		ID   string `json:"id"`
		Seq  uint64 `json:"seq"`
		Text string `json:"text"`
	}{id, seq, text})
	require.NoError(t, err)
	return b
}

func TestApplyExcludesOriginatorFromFanout(t *testing.T) {
	room := NewRoom("room-1", nil, nil, nil, nil)
	defer room.Close()

	a := newFakeSocket("client-a")
	b := newFakeSocket("client-b")
	room.Attach(a)
	room.Attach(b)

	blob := opBlob(t, "op-1", 1, "hi")
	require.NoError(t, room.Apply(context.Background(), Update{Blob: blob, OriginClient: "client-a"}))

	select {
	case got := <-b.received:
		assert.Equal(t, blob, got)
	default:
		t.Fatal("expected client-b to receive the update")
	}

	select {
	case <-a.received:
		t.Fatal("originator should not receive its own update back")
	default:
	}
}

func TestDetachSchedulesEvictionWhenEmpty(t *testing.T) {
	evicted := make(chan string, 1)
	room := NewRoom("room-2", nil, func(roomID string) {
		evicted <- roomID
	}, nil, nil)
	defer room.Close()

	// the drain window is a package constant and cannot be shortened
	// here, so this only verifies that detaching the last client does not
	// evict the room immediately.
	sock := newFakeSocket("client-a")
	room.Attach(sock)
	room.Detach("client-a")

	select {
	case <-evicted:
		t.Fatal("eviction should not fire immediately")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestApplyPassesOriginInstanceToFanout(t *testing.T) {
	room := NewRoom("room-4", nil, nil, nil, nil)
	defer room.Close()

	a := newFakeSocket("client-a")
	b := newFakeSocket("client-b")
	room.Attach(a)
	room.Attach(b)

	var seen string
	b.onSend = func(originInstance string) { seen = originInstance }

	blob := opBlob(t, "op-1", 1, "hi")
	require.NoError(t, room.Apply(context.Background(), Update{
		Blob:           blob,
		OriginClient:   "client-a",
		OriginInstance: "instance-a",
	}))

	<-b.received
	assert.Equal(t, "instance-a", seen)
}

func TestAttachReturnsCurrentSnapshot(t *testing.T) {
	room := NewRoom("room-3", nil, nil, nil, nil)
	defer room.Close()

	blob := opBlob(t, "op-1", 1, "seed")
	require.NoError(t, room.Apply(context.Background(), Update{Blob: blob}))

	sock := newFakeSocket("late-joiner")
	snap := room.Attach(sock)
	assert.Contains(t, string(snap), "seed")
}
