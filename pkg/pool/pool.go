// Package pool provides typed object pooling for the connector's hot paths:
// serializing events and building sink payloads.
//
// Example usage:
//
//	buf := pool.GetBuffer()
//	defer pool.PutBuffer(buf)
//
//	buf.WriteString(line)
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// MaxPooledBufferSize caps the capacity of buffers kept by the buffer pool.
// Larger buffers are left to the GC so one huge batch does not pin memory.
const MaxPooledBufferSize = 4 << 20

// Pool represents a generic object pool with type safety.
// It wraps sync.Pool with statistics tracking and a reset hook.
// The pool is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		gets      int64
	}
}

// New creates a new typed pool with custom allocation and reset functions.
// The reset function, when not nil, is called before an object goes back
// into the pool.
func New[T any](new func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return new()
	}
	return p
}

// Get retrieves an object from the pool, allocating one when it is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	atomic.AddInt64(&p.stats.gets, 1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool for reuse.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns current pool statistics.
//
// Returns:
//   - allocated: Total number of objects created by the pool
//   - inUse: Number of objects currently checked out from the pool
//   - hits: Get calls served by a recycled object
//   - misses: Get calls that had to allocate
func (p *Pool[T]) Stats() (allocated, inUse, hits, misses int64) {
	allocated = atomic.LoadInt64(&p.stats.allocated)
	gets := atomic.LoadInt64(&p.stats.gets)
	misses = min(allocated, gets)
	return allocated, atomic.LoadInt64(&p.stats.inUse), gets - misses, misses
}

var buffers = New(
	func() *bytes.Buffer { return new(bytes.Buffer) },
	func(b *bytes.Buffer) { b.Reset() },
)

// GetBuffer returns an empty buffer from the global buffer pool.
func GetBuffer() *bytes.Buffer {
	return buffers.Get()
}

// PutBuffer returns buf to the global buffer pool. The buffer must not be
// used afterwards.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() > MaxPooledBufferSize {
		atomic.AddInt64(&buffers.stats.inUse, -1)
		return
	}
	buffers.Put(buf)
}

// BufferStats returns the global buffer pool statistics.
func BufferStats() (allocated, inUse, hits, misses int64) {
	return buffers.Stats()
}
