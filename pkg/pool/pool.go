// Package pool provides unified object pooling for vcz. It offers
// zero-allocation memory management with automatic object recycling,
// reducing garbage collection pressure on the chunk encode/decode paths.
//
// The package provides:
//   - Generic type-safe object pooling with Pool[T]
//   - Buffer pooling with size-based buckets
//   - Allocation statistics for monitoring
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Pool represents a generic object pool with type safety.
// It wraps sync.Pool with additional features like statistics tracking
// and automatic reset functionality. The pool is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	new   func() T
	reset func(T)
	stats struct {
		allocated int64
		hits      int64
		misses    int64
	}
}

// New creates a new typed pool with custom allocation and reset functions.
// The new function is called when the pool is empty and a new object is
// needed. The reset function is called before returning an object to the
// pool, allowing for efficient cleanup and reuse.
func New[T any](newFunc func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{
		new:   newFunc,
		reset: reset,
	}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		atomic.AddInt64(&p.stats.misses, 1)
		return newFunc()
	}
	return p
}

// Get retrieves an object from the pool, creating a new one if necessary.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.hits, 1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool after resetting it.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	p.pool.Put(obj)
}

// Stats reports cumulative pool counters.
func (p *Pool[T]) Stats() (allocated, hits, misses int64) {
	return atomic.LoadInt64(&p.stats.allocated),
		atomic.LoadInt64(&p.stats.hits),
		atomic.LoadInt64(&p.stats.misses)
}

// BufferSize selects a pre-sized buffer bucket.
type BufferSize int

const (
	// Small buffers for metadata documents and summaries (4KB initial)
	Small BufferSize = iota
	// Medium buffers for typical column chunks (64KB initial)
	Medium
	// Large buffers for full encode chunks (1MB initial)
	Large
)

var bufferPools = map[BufferSize]*Pool[*bytes.Buffer]{
	Small:  newBufferPool(4 * 1024),
	Medium: newBufferPool(64 * 1024),
	Large:  newBufferPool(1024 * 1024),
}

func newBufferPool(capacity int) *Pool[*bytes.Buffer] {
	return New(
		func() *bytes.Buffer {
			b := new(bytes.Buffer)
			b.Grow(capacity)
			return b
		},
		func(b *bytes.Buffer) { b.Reset() },
	)
}

// GetBuffer retrieves a pooled buffer of the given size class.
func GetBuffer(size BufferSize) *bytes.Buffer {
	return bufferPools[size].Get()
}

// PutBuffer returns a buffer to its size-class pool.
func PutBuffer(b *bytes.Buffer, size BufferSize) {
	bufferPools[size].Put(b)
}
