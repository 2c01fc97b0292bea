package checkpoint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrirsim/internal/checkpoint"
	"fenrirsim/internal/config"
	"fenrirsim/internal/types"
)

func sampleDoc() checkpoint.Document {
	return checkpoint.Document{
		Config: config.Config{Start: 0, Duration: 100, Step: 10, ID: "run-1", Current: 40},
		Counters: map[types.BookId]checkpoint.BookCounters{
			0: {NextOrderId: 12, NextTradeId: 7},
		},
		ActiveOrders: []checkpoint.ActiveOrder{
			{BookId: 0, OrderId: 3, AgentId: -1, Direction: types.Buy, Price: "100", Volume: "1"},
		},
		NextEventId: map[types.BookId]uint64{0: 19},
	}
}

func TestMemoryStoreRoundTrips(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	doc := sampleDoc()

	require.NoError(t, store.Save("run-1", doc))
	loaded, err := store.Load("run-1")
	require.NoError(t, err)
	assert.Equal(t, doc.Config.ID, loaded.Config.ID)
	assert.Equal(t, doc.Counters[0].NextOrderId, loaded.Counters[0].NextOrderId)
}

func TestMemoryStoreLoadMissingErrors(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	_, err := store.Load("missing")
	require.Error(t, err)
}

func TestFileStoreRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.NewFileStore(dir)
	doc := sampleDoc()

	require.NoError(t, store.Save("run-1", doc))
	loaded, err := store.Load("run-1")
	require.NoError(t, err)
	assert.Equal(t, doc.Config.Current, loaded.Config.Current)
	assert.Equal(t, doc.ActiveOrders[0].OrderId, loaded.ActiveOrders[0].OrderId)
	assert.Equal(t, doc.NextEventId[0], loaded.NextEventId[0])
}
