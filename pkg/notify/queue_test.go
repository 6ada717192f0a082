package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDropsNewestWhenFull(t *testing.T) {
	q := NewQueue[int](2)

	assert.True(t, q.Send(1))
	assert.True(t, q.Send(2))
	assert.False(t, q.Send(3))
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, 2, q.Len())

	v, ok := q.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = q.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	_, ok = q.TryReceive()
	assert.False(t, ok)
}

func TestQueueDefaultCapacity(t *testing.T) {
	q := NewQueue[string](0)
	for range DefaultCapacity {
		require.True(t, q.Send("x"))
	}
	assert.False(t, q.Send("y"))
}

func TestQueueReceiveContext(t *testing.T) {
	q := NewQueue[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	q.Send(7)
	v, err := q.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestQueueReceiveTimeout(t *testing.T) {
	q := NewQueue[int](1)

	_, ok := q.ReceiveTimeout(10 * time.Millisecond)
	assert.False(t, ok)

	go func() {
		time.Sleep(5 * time.Millisecond)
		q.Send(9)
	}()
	v, ok := q.ReceiveTimeout(time.Second)
	require.True(t, ok)
	assert.Equal(t, 9, v)
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewQueue[int](1000)
	var wg sync.WaitGroup
	for p := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				q.Send(p*100 + i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 400, q.Len())
	assert.Zero(t, q.Dropped())
}
