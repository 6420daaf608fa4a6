package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runctl/internal/wire"
)

func TestSymbolQueue_FIFO(t *testing.T) {
	q := NewSymbolQueue()

	require.True(t, q.Enqueue(wire.DataSymbol(1), wire.DataSymbol(2)))
	require.True(t, q.Enqueue(wire.DataSymbol(3)))
	assert.Equal(t, 3, q.Len())

	for _, want := range []byte{1, 2, 3} {
		s, ok := q.Next()
		require.True(t, ok)
		assert.Equal(t, want, s.Data)
	}

	_, ok := q.Next()
	assert.False(t, ok, "empty queue yields no symbol")
}

func TestSymbolQueue_WaitSignals(t *testing.T) {
	q := NewSymbolQueue()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(wire.IdleSymbol())
	}()

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("Wait did not signal after Enqueue")
	}
	assert.Equal(t, 1, q.Len())
}

func TestSymbolQueue_Close(t *testing.T) {
	q := NewSymbolQueue()
	q.Enqueue(wire.DataSymbol(9))

	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(wire.DataSymbol(1)), "closed queue rejects symbols")
	_, open := <-q.Wait()
	assert.False(t, open)

	s, ok := q.Next()
	require.True(t, ok, "pending symbols survive Close")
	assert.Equal(t, byte(9), s.Data)
}

func TestSymbolQueue_ConcurrentProducers(t *testing.T) {
	q := NewSymbolQueue()
	const producers, each = 8, 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				q.Enqueue(wire.IdleSymbol())
			}
		}()
	}
	wg.Wait()

	n := 0
	for {
		if _, ok := q.Next(); !ok {
			break
		}
		n++
	}
	assert.Equal(t, producers*each, n)
}

func TestRuntimeError(t *testing.T) {
	err := &RuntimeError{Code: ErrCodeAlreadyRunning, Message: "busy"}

	assert.Equal(t, "ALREADY_RUNNING: busy", err.Error())
	assert.True(t, IsAlreadyRunning(err))
	assert.False(t, IsNoLink(err))
	assert.False(t, IsAlreadyRunning(nil))
}
