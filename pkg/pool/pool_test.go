package pool

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolResetOnPut(t *testing.T) {
	p := New(
		func() *bytes.Buffer { return new(bytes.Buffer) },
		func(b *bytes.Buffer) { b.Reset() },
	)

	b := p.Get()
	b.WriteString("chunk data")
	p.Put(b)

	b2 := p.Get()
	assert.Equal(t, 0, b2.Len())
}

func TestBufferBuckets(t *testing.T) {
	for _, size := range []BufferSize{Small, Medium, Large} {
		b := GetBuffer(size)
		require.NotNil(t, b)
		assert.Equal(t, 0, b.Len())
		b.WriteString("x")
		PutBuffer(b, size)
	}
}

func TestPoolStats(t *testing.T) {
	p := New(func() int { return 42 }, nil)
	v := p.Get()
	assert.Equal(t, 42, v)
	allocated, hits, _ := p.Stats()
	assert.GreaterOrEqual(t, allocated, int64(1))
	assert.GreaterOrEqual(t, hits, int64(1))
}
