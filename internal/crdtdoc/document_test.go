package crdtdoc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestApplyIsIdempotent(t *testing.T) {
	d := New()
	op := Operation{ID: "a", Seq: 1, Text: "hello"}
	raw := mustJSON(t, op)

	require.NoError(t, d.Apply(raw))
	require.NoError(t, d.Apply(raw))
	require.NoError(t, d.Apply(raw))

	assert.Equal(t, 1, d.Len())
	assert.Equal(t, "hello", d.Text())
}

func TestApplyConvergesRegardlessOfOrder(t *testing.T) {
	ops := []Operation{
		{ID: "b", Seq: 2, Text: "world"},
		{ID: "a", Seq: 1, Text: "hello "},
		{ID: "c", Seq: 3, Text: "!"},
	}

	d1 := New()
	for _, op := range ops {
		require.NoError(t, d1.Apply(mustJSON(t, op)))
	}

	d2 := New()
	for i := len(ops) - 1; i >= 0; i-- {
		require.NoError(t, d2.Apply(mustJSON(t, ops[i])))
	}

	assert.Equal(t, d1.Text(), d2.Text())
	assert.Equal(t, "hello world!", d1.Text())
}

func TestEncodeStateRoundTrips(t *testing.T) {
	d := New()
	require.NoError(t, d.Apply(mustJSON(t, Operation{ID: "a", Seq: 1, Text: "x"})))
	require.NoError(t, d.Apply(mustJSON(t, Operation{ID: "b", Seq: 2, Text: "y"})))

	state, err := d.EncodeState()
	require.NoError(t, err)

	fresh := New()
	require.NoError(t, fresh.Apply(state))
	assert.Equal(t, d.Text(), fresh.Text())
	assert.Equal(t, d.Len(), fresh.Len())
}

func TestApplyRejectsMalformedUpdate(t *testing.T) {
	d := New()
	err := d.Apply([]byte("not json"))
	assert.ErrorIs(t, err, ErrMalformedUpdate)

	err = d.Apply([]byte(`{"unrelated":true}`))
	assert.ErrorIs(t, err, ErrMalformedUpdate)

	err = d.Apply(nil)
	assert.ErrorIs(t, err, ErrMalformedUpdate)
}
