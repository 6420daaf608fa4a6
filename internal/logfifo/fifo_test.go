package logfifo

import (
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runctl/internal/wire"
)

func words(base uint32) [wire.RecordWords]uint32 {
	return [wire.RecordWords]uint32{base, base + 1, base + 2, base + 3}
}

func TestFIFO_NewDefaults(t *testing.T) {
	q := New(0)
	assert.Equal(t, DefaultDepth, q.Depth())
	assert.True(t, q.Empty())
	assert.False(t, q.Full())
}

func TestFIFO_WordOrder(t *testing.T) {
	q := New(4)
	require.True(t, q.Push(words(10)))
	require.True(t, q.Push(words(20)))

	var got []uint32
	for !q.Empty() {
		w, ok := q.Pop()
		require.True(t, ok)
		got = append(got, w)
	}

	assert.Equal(t, []uint32{10, 11, 12, 13, 20, 21, 22, 23}, got)
}

func TestFIFO_FrontDoesNotConsume(t *testing.T) {
	q := New(1)
	q.Push(words(7))

	w, ok := q.Front()
	require.True(t, ok)
	assert.Equal(t, uint32(7), w)

	w, ok = q.Front()
	require.True(t, ok)
	assert.Equal(t, uint32(7), w)

	w, _ = q.Pop()
	assert.Equal(t, uint32(7), w)
	w, _ = q.Front()
	assert.Equal(t, uint32(8), w)
}

func TestFIFO_PopEmpty(t *testing.T) {
	q := New(1)
	w, ok := q.Pop()
	assert.False(t, ok)
	assert.Zero(t, w)
}

func TestFIFO_FullDropsRecord(t *testing.T) {
	q := New(2)
	assert.True(t, q.Push(words(1)))
	assert.True(t, q.Push(words(2)))
	assert.True(t, q.Full())

	assert.False(t, q.Push(words(3)))
	assert.Equal(t, uint64(2), q.Pushed())
	assert.Equal(t, uint64(1), q.Dropped())

	// Only the first two records come back.
	assert.Equal(t, 8, q.Drain())
	assert.True(t, q.Empty())
}

func TestFIFO_Drain(t *testing.T) {
	q := New(4)
	q.Push(words(1))
	q.Push(words(5))
	q.Pop()

	assert.Equal(t, 7, q.Drain())
	assert.True(t, q.Empty())
	assert.Equal(t, 0, q.Drain())
}

func TestFIFO_ConcurrentProducerConsumer(t *testing.T) {
	const records = 500
	q := New(8)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint32(0); i < records; {
			if q.Push(words(i * 4)) {
				i++
			}
		}
	}()

	got := make([]uint32, 0, records*wire.RecordWords)
	for len(got) < records*wire.RecordWords {
		if w, ok := q.Pop(); ok {
			got = append(got, w)
		}
	}
	wg.Wait()

	for i, w := range got {
		require.Equal(t, uint32(i), w, "word %d out of order", i)
	}
}

func TestFIFO_OrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("interleaved push/pop preserves write order", prop.ForAll(
		func(ops []bool) bool {
			q := New(4)
			var next, expect uint32
			for _, push := range ops {
				if push {
					if q.Push(words(next)) {
						next += 4
					}
					continue
				}
				if w, ok := q.Pop(); ok {
					if w != expect {
						return false
					}
					expect++
				}
			}
			for !q.Empty() {
				w, _ := q.Pop()
				if w != expect {
					return false
				}
				expect++
			}
			return expect == next
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
