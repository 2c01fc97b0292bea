package scheduler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrirsim/internal/scheduler"
	"fenrirsim/internal/types"
	"fenrirsim/internal/wire"
)

func msg(arrival types.Timestamp, source string) wire.Message {
	m, _ := wire.NewMessage(0, arrival, source, "EXCHANGE", "TEST", struct{}{})
	return m
}

func TestQueueOrdersByArrivalThenSecondaryThenFIFO(t *testing.T) {
	q := scheduler.NewQueue()
	q.Schedule(msg(10, "a"), 0)
	q.Schedule(msg(5, "b"), 0)
	q.Schedule(msg(5, "c"), -1) // higher priority (lower value) at same arrival
	q.Schedule(msg(5, "d"), 0) // same arrival+priority as b, later sequence

	due := q.PopBefore(11)
	require.Len(t, due, 4)
	assert.Equal(t, "c", due[0].Source)
	assert.Equal(t, "b", due[1].Source)
	assert.Equal(t, "d", due[2].Source)
	assert.Equal(t, "a", due[3].Source)
}

func TestPopBeforeOnlyReturnsDueMessages(t *testing.T) {
	q := scheduler.NewQueue()
	q.Schedule(msg(5, "a"), 0)
	q.Schedule(msg(15, "b"), 0)

	due := q.PopBefore(10)
	require.Len(t, due, 1)
	assert.Equal(t, "a", due[0].Source)
	assert.Equal(t, 1, q.Len())
}

func TestRemoveIfDropsMatchingMessages(t *testing.T) {
	q := scheduler.NewQueue()
	q.Schedule(msg(5, "alice"), 0)
	q.Schedule(msg(6, "bob"), 0)

	q.RemoveIf(func(m wire.Message) bool { return m.Source == "alice" })

	due := q.PopBefore(100)
	require.Len(t, due, 1)
	assert.Equal(t, "bob", due[0].Source)
}
