package zarr

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDtype(t *testing.T) {
	cases := []struct {
		spec string
		kind Kind
		size int
	}{
		{"|b1", KindBool, 1},
		{"<i1", KindInt, 1},
		{"<i2", KindInt, 2},
		{"<i4", KindInt, 4},
		{"<i8", KindInt, 8},
		{"<f4", KindFloat, 4},
		{"<f8", KindFloat, 8},
		{"<U7", KindString, 28},
	}
	for _, c := range cases {
		dt, err := ParseDtype(c.spec)
		require.NoError(t, err, c.spec)
		assert.Equal(t, c.kind, dt.Kind, c.spec)
		assert.Equal(t, c.size, dt.Size, c.spec)
	}

	for _, bad := range []string{"", "i4", ">i4", "<i3", "<U0", "<x4"} {
		_, err := ParseDtype(bad)
		assert.Error(t, err, bad)
	}
}

func TestIntDtype(t *testing.T) {
	assert.Equal(t, "<i1", IntDtype(0, 127))
	assert.Equal(t, "<i2", IntDtype(0, 128))
	assert.Equal(t, "<i2", IntDtype(-1000, 1000))
	assert.Equal(t, "<i4", IntDtype(0, 1<<20))
	assert.Equal(t, "<i8", IntDtype(0, 1<<40))
}

func TestBufferEncodeDecodeRoundTrip(t *testing.T) {
	t.Run("int", func(t *testing.T) {
		dt, _ := ParseDtype("<i2")
		b := NewBuffer(dt, []int64{2, 3})
		for i := 0; i < 6; i++ {
			b.SetInt(i, int64(i*100-200))
		}
		raw, err := b.Encode()
		require.NoError(t, err)
		assert.Len(t, raw, 12)

		got, err := DecodeBuffer(dt, []int64{2, 3}, raw)
		require.NoError(t, err)
		for i := 0; i < 6; i++ {
			assert.Equal(t, int64(i*100-200), got.Int(i))
		}
	})

	t.Run("int overflow", func(t *testing.T) {
		dt, _ := ParseDtype("<i1")
		b := NewBuffer(dt, []int64{1})
		b.SetInt(0, 200)
		_, err := b.Encode()
		assert.Error(t, err)
	})

	t.Run("float", func(t *testing.T) {
		dt, _ := ParseDtype("<f4")
		b := NewBuffer(dt, []int64{3})
		b.SetFloat(0, 1.5)
		b.SetFloat(1, math.NaN())
		b.SetFloat(2, -2.25)
		raw, err := b.Encode()
		require.NoError(t, err)

		got, err := DecodeBuffer(dt, []int64{3}, raw)
		require.NoError(t, err)
		assert.Equal(t, 1.5, got.Float(0))
		assert.True(t, math.IsNaN(got.Float(1)))
		assert.Equal(t, -2.25, got.Float(2))
	})

	t.Run("bool", func(t *testing.T) {
		dt, _ := ParseDtype("|b1")
		b := NewBuffer(dt, []int64{4})
		b.SetBool(1, true)
		b.SetBool(3, true)
		raw, err := b.Encode()
		require.NoError(t, err)

		got, err := DecodeBuffer(dt, []int64{4}, raw)
		require.NoError(t, err)
		assert.False(t, got.Bool(0))
		assert.True(t, got.Bool(1))
		assert.True(t, got.Bool(3))
	})

	t.Run("string", func(t *testing.T) {
		dt, _ := ParseDtype("<U5")
		b := NewBuffer(dt, []int64{3})
		b.SetString(0, "chr1")
		b.SetString(1, "")
		b.SetString(2, "αβγ") // non-ASCII survives UTF-32
		raw, err := b.Encode()
		require.NoError(t, err)
		assert.Len(t, raw, 3*20)

		got, err := DecodeBuffer(dt, []int64{3}, raw)
		require.NoError(t, err)
		assert.Equal(t, "chr1", got.String(0))
		assert.Equal(t, "", got.String(1))
		assert.Equal(t, "αβγ", got.String(2))
	})

	t.Run("string truncated to dtype width", func(t *testing.T) {
		dt, _ := ParseDtype("<U2")
		b := NewBuffer(dt, []int64{2})
		b.SetString(0, "chr22")
		b.SetString(1, "X")
		raw, err := b.Encode()
		require.NoError(t, err)
		assert.Len(t, raw, 2*8)

		got, err := DecodeBuffer(dt, []int64{2}, raw)
		require.NoError(t, err)
		assert.Equal(t, "ch", got.String(0))
		assert.Equal(t, "X", got.String(1))
	})

	t.Run("size mismatch", func(t *testing.T) {
		dt, _ := ParseDtype("<i4")
		_, err := DecodeBuffer(dt, []int64{2}, []byte{0})
		assert.Error(t, err)
	})
}

func TestBufferIndex(t *testing.T) {
	dt, _ := ParseDtype("<i4")
	b := NewBuffer(dt, []int64{4, 3, 2})
	assert.Equal(t, 0, b.Index(0, 0, 0))
	assert.Equal(t, 1, b.Index(0, 0, 1))
	assert.Equal(t, 2, b.Index(0, 1, 0))
	assert.Equal(t, 6, b.Index(1, 0, 0))
	assert.Equal(t, 23, b.Index(3, 2, 1))
}

func TestArrayWriteRead(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, CreateGroup(dir))
	assert.True(t, IsGroup(dir))

	arr, err := CreateArray(dir, "variant_position", ArrayMeta{
		Shape:      []int64{10},
		Chunks:     []int64{4},
		Dtype:      "<i4",
		Compressor: &Compressor{ID: "zstd", Level: 7},
		FillValue:  -1,
	})
	require.NoError(t, err)

	// Three chunks: 4 + 4 + 2.
	next := int64(0)
	for ci := int64(0); ci < 3; ci++ {
		buf := arr.NewChunkBuffer([]int64{ci})
		for i := 0; i < buf.Len(); i++ {
			buf.SetInt(i, next*7)
			next++
		}
		require.NoError(t, arr.WriteChunk([]int64{ci}, buf))
	}

	reopened, err := OpenArray(filepath.Join(dir, "variant_position"))
	require.NoError(t, err)
	assert.Equal(t, "<i4", reopened.Meta().Dtype)
	assert.Equal(t, []int64{2}, reopened.ChunkShape([]int64{2}))

	next = 0
	for ci := int64(0); ci < 3; ci++ {
		buf, err := reopened.ReadChunk([]int64{ci})
		require.NoError(t, err)
		for i := 0; i < buf.Len(); i++ {
			assert.Equal(t, next*7, buf.Int(i))
			next++
		}
	}

	stored, chunks, err := reopened.StoredBytes()
	require.NoError(t, err)
	assert.Equal(t, 3, chunks)
	assert.Greater(t, stored, int64(0))
}

func TestArrayMetadataDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, CreateGroup(dir))

	_, err := CreateArray(dir, "x", ArrayMeta{
		Shape:      []int64{5, 2},
		Chunks:     []int64{3, 2},
		Dtype:      "|b1",
		Compressor: &Compressor{ID: "zstd", Level: 7},
		FillValue:  false,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "x", ".zarray"))
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, float64(2), doc["zarr_format"])
	assert.Equal(t, "C", doc["order"])
	assert.Equal(t, "|b1", doc["dtype"])
	assert.Nil(t, doc["filters"])
}

func TestChunkKeyAndListArrays(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, CreateGroup(dir))

	arr, err := CreateArray(dir, "call_dp", ArrayMeta{
		Shape:      []int64{6, 4},
		Chunks:     []int64{3, 2},
		Dtype:      "<i2",
		Compressor: &Compressor{ID: "zstd", Level: 1},
		FillValue:  -1,
	})
	require.NoError(t, err)
	buf := arr.NewChunkBuffer([]int64{1, 1})
	require.NoError(t, arr.WriteChunk([]int64{1, 1}, buf))

	_, err = os.Stat(filepath.Join(dir, "call_dp", "1.1"))
	assert.NoError(t, err)

	arrays, err := ListArrays(dir)
	require.NoError(t, err)
	require.Len(t, arrays, 1)
	assert.Equal(t, "call_dp", arrays[0].Name())
}

func TestUncompressedArray(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, CreateGroup(dir))

	arr, err := CreateArray(dir, "raw", ArrayMeta{
		Shape:     []int64{4},
		Chunks:    []int64{4},
		Dtype:     "<i8",
		FillValue: -1,
	})
	require.NoError(t, err)

	buf := arr.NewChunkBuffer([]int64{0})
	buf.SetInt(2, 42)
	require.NoError(t, arr.WriteChunk([]int64{0}, buf))

	got, err := arr.ReadChunk([]int64{0})
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Int(2))
}
