package records

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifierFanOut(t *testing.T) {
	var n Notifier
	a, cancelA := n.Subscribe()
	b, cancelB := n.Subscribe()
	defer cancelB()

	n.Publish(ChangeEvent{Op: OpInsert, ID: 1})

	assert.Equal(t, ChangeEvent{Op: OpInsert, ID: 1}, <-a)
	assert.Equal(t, ChangeEvent{Op: OpInsert, ID: 1}, <-b)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open, "cancelled subscription must be closed")

	n.Publish(ChangeEvent{Op: OpDelete, ID: 1})
	assert.Equal(t, OpDelete, (<-b).Op)
}

func TestNotifierNeverBlocksAndKeepsNewest(t *testing.T) {
	var n Notifier
	ch, cancel := n.Subscribe()
	defer cancel()

	for i := 1; i <= subscriberBuffer*3; i++ {
		n.Publish(ChangeEvent{Op: OpUpdate, ID: int64(i)})
	}

	var last ChangeEvent
	count := 0
	for len(ch) > 0 {
		last = <-ch
		count++
	}
	require.Equal(t, subscriberBuffer, count)
	assert.Equal(t, int64(subscriberBuffer*3), last.ID)
}

func TestNotifierClose(t *testing.T) {
	var n Notifier
	ch, cancel := n.Subscribe()
	n.Close()
	_, open := <-ch
	assert.False(t, open)
	cancel()
}
