package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveThenLoadSnapshotRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSnapshot(ctx, "room-1", []byte(`{"ops":[]}`)))

	got, ok, err := s.LoadSnapshot(ctx, "room-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"ops":[]}`, string(got))
}

func TestLoadSnapshotMissIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, ok, err := s.LoadSnapshot(ctx, "nonexistent")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, got)
}
