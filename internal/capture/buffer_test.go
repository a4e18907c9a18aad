package capture

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferFlushesExactlyAtCapacity(t *testing.T) {
	for _, capacity := range []int{1, 2, 7, 256} {
		t.Run(fmt.Sprintf("cap=%d", capacity), func(t *testing.T) {
			b := NewBuffer(capacity)
			flushes := 0
			var flushed []string

			for i := 0; i < capacity; i++ {
				batch, full := b.Append(fmt.Sprintf("line-%d", i))
				if full {
					flushes++
					flushed = batch
				} else {
					assert.Less(t, b.Len(), capacity, "buffer must stay below capacity after a non-flushing append")
				}
			}

			require.Equal(t, 1, flushes)
			assert.Len(t, flushed, capacity)
			assert.Equal(t, "line-0", flushed[0])
			assert.Equal(t, 0, b.Len(), "buffer must be empty right after a flush")
		})
	}
}

func TestBufferNeverExceedsCapacity(t *testing.T) {
	b := NewBuffer(5)
	for i := 0; i < 23; i++ {
		b.Append("x")
		assert.Less(t, b.Len(), 5)
	}
	assert.Equal(t, 3, b.Len())
}

func TestBufferBatchIsNotAliased(t *testing.T) {
	b := NewBuffer(2)
	b.Append("a")
	batch, full := b.Append("b")
	require.True(t, full)

	b.Append("c")
	assert.Equal(t, []string{"a", "b"}, batch)
}

func TestBufferClear(t *testing.T) {
	b := NewBuffer(4)
	b.Append("a")
	b.Append("b")

	assert.Equal(t, 2, b.Clear())
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Clear())
	assert.Nil(t, b.Drain())
}

func TestBufferDrain(t *testing.T) {
	b := NewBuffer(4)
	b.Append("a")
	b.Append("b")
	assert.False(t, b.IsFull())

	assert.Equal(t, []string{"a", "b"}, b.Drain())
	assert.Equal(t, 0, b.Len())
}

func TestBufferDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewBuffer(0).Capacity())
	assert.Equal(t, DefaultCapacity, NewBuffer(-3).Capacity())
}

func TestBufferConcurrentAppendAndClear(t *testing.T) {
	b := NewBuffer(64)
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0

	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if batch, full := b.Append("x"); full {
					mu.Lock()
					total += len(batch)
					mu.Unlock()
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			b.Clear()
		}
	}()
	wg.Wait()

	assert.Less(t, b.Len(), 64)
	assert.Zero(t, total%64, "every flushed batch holds exactly capacity lines")
}
