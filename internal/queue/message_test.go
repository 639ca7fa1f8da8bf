package queue_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarkhas/cinema-booking-saga/internal/queue"
)

func TestNewEnvelope_CarriesActionAndUniqueID(t *testing.T) {
	a, err := queue.NewEnvelope(queue.ActionCreate, queue.SessionCheck{SessionID: 1})
	require.NoError(t, err)
	b, err := queue.NewEnvelope(queue.ActionCreate, queue.SessionCheck{SessionID: 1})
	require.NoError(t, err)

	assert.Equal(t, queue.ActionCreate, a.Action)
	assert.NotEmpty(t, a.MessageID)
	assert.NotEqual(t, a.MessageID, b.MessageID, "message ids identify deliveries, not content")

	var check queue.SessionCheck
	require.NoError(t, a.Decode(&check))
	assert.Equal(t, uint64(1), check.SessionID)
}

func TestEnvelope_SurvivesWireEncoding(t *testing.T) {
	env, err := queue.NewEnvelope(queue.ActionBookingCheckBeforeStart, queue.SessionTask{SessionID: 7, FireAtUnixMs: 1234})
	require.NoError(t, err)

	wire, err := json.Marshal(env)
	require.NoError(t, err)

	var got queue.Envelope
	require.NoError(t, json.Unmarshal(wire, &got))
	assert.Equal(t, env.MessageID, got.MessageID)
	assert.Equal(t, env.Action, got.Action)

	var task queue.SessionTask
	require.NoError(t, got.Decode(&task))
	assert.Equal(t, uint64(7), task.SessionID)
	assert.Equal(t, int64(1234), task.FireAtUnixMs)
}

func TestBindings_QueueNamesMirrorExchangeAndKey(t *testing.T) {
	seen := make(map[string]struct{})
	for _, b := range queue.Bindings() {
		assert.Equal(t, b.Exchange+"."+b.Key, b.Queue)
		_, dup := seen[b.Queue]
		assert.False(t, dup, "queue %s declared twice", b.Queue)
		seen[b.Queue] = struct{}{}
	}
}
