package pubsub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/collabtodo/collabd/internal/model"
)

func TestMutationEvent_RoundTrips(t *testing.T) {
	ev := MutationEvent{
		Type:   EventItemAdded,
		ListID: "L1",
		ItemID: "I1",
		Rev:    model.Revision(12345.6),
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var got MutationEvent
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, ev, got)
}

func TestDefaultConfig_RetriesForever(t *testing.T) {
	cfg := DefaultConfig("nats://localhost:4222", "todo.updates")
	require.Equal(t, -1, cfg.MaxReconnects)
	require.Equal(t, "todo.updates", cfg.Subject)
}
