package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	_, err := New[int](0)
	assert.Equal(t, ErrInvalidCapacity, err)
	b, err := New[int](3)
	assert.Nil(t, err)
	assert.Equal(t, 3, b.Cap())
	assert.Equal(t, 0, b.Len())
}

func TestPushPop(t *testing.T) {
	b, _ := New[int](3)
	_, ok := b.Pop()
	assert.False(t, ok)
	for i := range 3 {
		assert.True(t, b.Push(i))
	}
	assert.False(t, b.Push(3))
	assert.EqualValues(t, 1, b.Dropped())
	assert.Equal(t, 3, b.Len())
	for i := range 3 {
		v, ok := b.Pop()
		assert.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok = b.Pop()
	assert.False(t, ok)
}

func TestWrapAround(t *testing.T) {
	b, _ := New[int](4)
	for i := range 100 {
		assert.True(t, b.Push(i))
		assert.True(t, b.Push(i+1000))
		v, _ := b.Pop()
		assert.Equal(t, i, v)
		v, _ = b.Pop()
		assert.Equal(t, i+1000, v)
	}
	assert.Zero(t, b.Dropped())
}

func TestPopN(t *testing.T) {
	b, _ := New[int](8)
	for i := range 5 {
		b.Push(i)
	}
	out := make([]int, 3)
	assert.Equal(t, 3, b.PopN(out))
	assert.Equal(t, []int{0, 1, 2}, out)
	assert.Equal(t, 2, b.PopN(out))
	assert.Equal(t, []int{3, 4}, out[:2])
	assert.Equal(t, 0, b.PopN(out))
}

func TestConcurrentProducersConsumers(t *testing.T) {
	b, _ := New[int](64)
	const producers = 4
	const perProducer = 1000
	var wg sync.WaitGroup
	var mu sync.Mutex
	popped := 0
	done := make(chan struct{})
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				for !b.Push(i) {
				}
			}
		}()
	}
	var consumers sync.WaitGroup
	for range 2 {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for {
				if _, ok := b.Pop(); ok {
					mu.Lock()
					popped++
					mu.Unlock()
					continue
				}
				select {
				case <-done:
					return
				default:
				}
			}
		}()
	}
	wg.Wait()
	for b.Len() > 0 {
	}
	close(done)
	consumers.Wait()
	assert.Equal(t, producers*perProducer, popped)
}
