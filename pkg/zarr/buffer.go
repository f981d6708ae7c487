package zarr

import (
	"encoding/binary"
	"math"

	"github.com/ajitpratap0/vcz/pkg/vczerrors"
)

// Buffer is an in-memory N-dimensional array in C order. Values are
// held wide (int64, float64) and narrowed to the dtype on encode.
type Buffer struct {
	dt    Dtype
	shape []int64

	ints   []int64
	floats []float64
	bools  []bool
	strs   []string
}

// NewBuffer allocates a zero-filled buffer of the given shape.
func NewBuffer(dt Dtype, shape []int64) *Buffer {
	n := int64(1)
	for _, s := range shape {
		n *= s
	}
	b := &Buffer{dt: dt, shape: append([]int64(nil), shape...)}
	switch dt.Kind {
	case KindInt:
		b.ints = make([]int64, n)
	case KindFloat:
		b.floats = make([]float64, n)
	case KindBool:
		b.bools = make([]bool, n)
	case KindString:
		b.strs = make([]string, n)
	}
	return b
}

// Shape returns the buffer's dimensions.
func (b *Buffer) Shape() []int64 { return b.shape }

// Len returns the element count.
func (b *Buffer) Len() int {
	n := 1
	for _, s := range b.shape {
		n *= int(s)
	}
	return n
}

// Index flattens grid coordinates into a C-order element offset.
func (b *Buffer) Index(coords ...int64) int {
	var flat int64
	for d, c := range coords {
		flat = flat*b.shape[d] + c
	}
	return int(flat)
}

func (b *Buffer) SetInt(i int, v int64) { b.ints[i] = v }
func (b *Buffer) Int(i int) int64 { return b.ints[i] }
func (b *Buffer) SetFloat(i int, v float64) { b.floats[i] = v }
func (b *Buffer) Float(i int) float64 { return b.floats[i] }
func (b *Buffer) SetBool(i int, v bool) { b.bools[i] = v }
func (b *Buffer) Bool(i int) bool { return b.bools[i] }
func (b *Buffer) SetString(i int, v string) { b.strs[i] = v }
func (b *Buffer) String(i int) string { return b.strs[i] }

// FillInt sets every element of an integer buffer.
func (b *Buffer) FillInt(v int64) {
	for i := range b.ints {
		b.ints[i] = v
	}
}

// FillFloat sets every element of a float buffer.
func (b *Buffer) FillFloat(v float64) {
	for i := range b.floats {
		b.floats[i] = v
	}
}

// Encode serializes the buffer in the dtype's little-endian C-order
// layout. Integer values outside the dtype's range are an error.
func (b *Buffer) Encode() ([]byte, error) {
	out := make([]byte, int64(b.Len())*int64(b.dt.Size))
	switch b.dt.Kind {
	case KindInt:
		lo := int64(-1) << (b.dt.Size*8 - 1)
		hi := -lo - 1
		for i, v := range b.ints {
			if v < lo || v > hi {
				return nil, vczerrors.Newf(vczerrors.ErrorTypeData,
					"value %d overflows dtype %s", v, b.dt.Spec)
			}
			putInt(out[i*b.dt.Size:], v, b.dt.Size)
		}
	case KindFloat:
		for i, v := range b.floats {
			if b.dt.Size == 4 {
				binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(v)))
			} else {
				binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
			}
		}
	case KindBool:
		for i, v := range b.bools {
			if v {
				out[i] = 1
			}
		}
	case KindString:
		// Strings longer than the dtype width truncate, as numpy does.
		for i, v := range b.strs {
			off := i * b.dt.Size
			n := 0
			for _, r := range v {
				if n == b.dt.Len {
					break
				}
				binary.LittleEndian.PutUint32(out[off:], uint32(r))
				off += 4
				n++
			}
		}
	}
	return out, nil
}

// DecodeBuffer reverses Encode for a chunk of the given shape.
func DecodeBuffer(dt Dtype, shape []int64, data []byte) (*Buffer, error) {
	b := NewBuffer(dt, shape)
	if len(data) != b.Len()*dt.Size {
		return nil, vczerrors.Newf(vczerrors.ErrorTypeData,
			"chunk holds %d bytes, dtype %s with shape %v needs %d",
			len(data), dt.Spec, shape, b.Len()*dt.Size)
	}
	switch dt.Kind {
	case KindInt:
		for i := range b.ints {
			b.ints[i] = getInt(data[i*dt.Size:], dt.Size)
		}
	case KindFloat:
		for i := range b.floats {
			if dt.Size == 4 {
				b.floats[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
			} else {
				b.floats[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
			}
		}
	case KindBool:
		for i := range b.bools {
			b.bools[i] = data[i] != 0
		}
	case KindString:
		runes := make([]rune, 0, dt.Len)
		for i := range b.strs {
			runes = runes[:0]
			off := i * dt.Size
			for j := 0; j < dt.Len; j++ {
				r := rune(binary.LittleEndian.Uint32(data[off+j*4:]))
				if r == 0 {
					break
				}
				runes = append(runes, r)
			}
			b.strs[i] = string(runes)
		}
	}
	return b, nil
}

func putInt(dst []byte, v int64, size int) {
	switch size {
	case 1:
		dst[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(dst, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(dst, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(dst, uint64(v))
	}
}

func getInt(src []byte, size int) int64 {
	switch size {
	case 1:
		return int64(int8(src[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(src)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(src)))
	default:
		return int64(binary.LittleEndian.Uint64(src))
	}
}
