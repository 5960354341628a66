package pool

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type item struct{ n int }

func TestPool_GetPutResets(t *testing.T) {
	p := New(func() *item { return &item{} }, func(i *item) { i.n = 0 })

	obj := p.Get()
	obj.n = 42
	p.Put(obj)

	allocated, inUse, hits, misses := p.Stats()
	assert.Equal(t, int64(1), allocated)
	assert.Equal(t, int64(0), inUse)
	assert.Equal(t, int64(0), hits)
	assert.Equal(t, int64(1), misses)

	// sync.Pool may drop objects, but whatever comes back is reset
	assert.Equal(t, 0, p.Get().n)
}

func TestPool_Concurrent(t *testing.T) {
	p := New(func() *item { return &item{} }, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.Put(p.Get())
			}
		}()
	}
	wg.Wait()

	_, inUse, hits, misses := p.Stats()
	assert.Equal(t, int64(0), inUse)
	assert.Equal(t, int64(800), hits+misses)
}

func TestBuffers(t *testing.T) {
	buf := GetBuffer()
	assert.Equal(t, 0, buf.Len())
	buf.WriteString("payload")
	PutBuffer(buf)

	again := GetBuffer()
	assert.Equal(t, 0, again.Len())
	PutBuffer(again)

	big := bytes.NewBuffer(make([]byte, 0, MaxPooledBufferSize+1))
	_, before, _, _ := BufferStats()
	buffers.Get()
	PutBuffer(big)
	_, after, _, _ := BufferStats()
	assert.Equal(t, before, after)

	PutBuffer(nil)
}
