package zarr

import (
	"os"
	"path/filepath"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/ajitpratap0/vcz/pkg/compression"
	"github.com/ajitpratap0/vcz/pkg/vczerrors"
)

const (
	groupFile = ".zgroup"
	arrayFile = ".zarray"

	zarrFormat = 2
)

// Compressor is the numcodecs-style codec description stored in array
// metadata.
type Compressor struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
}

// ArrayMeta is the .zarray document of one array.
type ArrayMeta struct {
	Shape      []int64     `json:"shape"`
	Chunks     []int64     `json:"chunks"`
	Dtype      string      `json:"dtype"`
	Compressor *Compressor `json:"compressor"`
	FillValue  interface{} `json:"fill_value"`
	Order      string      `json:"order"`
	Filters    interface{} `json:"filters"`
	ZarrFormat int         `json:"zarr_format"`
}

// CreateGroup initializes a group at dir, creating the directory if
// needed.
func CreateGroup(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to create group")
	}
	doc, _ := json.Marshal(map[string]int{"zarr_format": zarrFormat})
	if err := os.WriteFile(filepath.Join(dir, groupFile), doc, 0o644); err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to write group metadata")
	}
	return nil
}

// IsGroup reports whether dir holds a group.
func IsGroup(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, groupFile))
	return err == nil
}

// Array is one chunked array within a group.
type Array struct {
	dir  string
	name string
	meta ArrayMeta
	dt   Dtype
	comp compression.Compressor
}

// CreateArray creates a named array under groupDir and writes its
// metadata. Chunks are then written through WriteChunk.
func CreateArray(groupDir, name string, meta ArrayMeta) (*Array, error) {
	if len(meta.Shape) != len(meta.Chunks) {
		return nil, vczerrors.Newf(vczerrors.ErrorTypeInternal,
			"array %s: shape rank %d does not match chunk rank %d",
			name, len(meta.Shape), len(meta.Chunks))
	}
	meta.Order = "C"
	meta.ZarrFormat = zarrFormat

	a := &Array{dir: filepath.Join(groupDir, name), name: name, meta: meta}
	var err error
	if a.dt, err = ParseDtype(meta.Dtype); err != nil {
		return nil, err
	}
	if a.comp, err = newCodec(meta.Compressor); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to create array directory")
	}
	doc, err := json.MarshalIndent(meta, "", "    ")
	if err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeInternal, "failed to encode array metadata")
	}
	if err := os.WriteFile(filepath.Join(a.dir, arrayFile), doc, 0o644); err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to write array metadata")
	}
	return a, nil
}

// OpenArray opens an existing array directory.
func OpenArray(dir string) (*Array, error) {
	data, err := os.ReadFile(filepath.Join(dir, arrayFile))
	if err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "not an array directory")
	}
	var meta ArrayMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeData, "corrupt array metadata")
	}

	a := &Array{dir: dir, name: filepath.Base(dir), meta: meta}
	if a.dt, err = ParseDtype(meta.Dtype); err != nil {
		return nil, err
	}
	if a.comp, err = newCodec(meta.Compressor); err != nil {
		return nil, err
	}
	return a, nil
}

// Name returns the array's name within its group.
func (a *Array) Name() string { return a.name }

// Meta returns the array's metadata document.
func (a *Array) Meta() ArrayMeta { return a.meta }

// Dtype returns the parsed element dtype.
func (a *Array) Dtype() Dtype { return a.dt }

// ChunkShape returns the shape of the chunk at the given grid
// coordinates: interior chunks have the full chunk shape, edge chunks
// are clipped to the array bounds.
func (a *Array) ChunkShape(indices []int64) []int64 {
	shape := make([]int64, len(indices))
	for d, ix := range indices {
		shape[d] = a.meta.Chunks[d]
		if rem := a.meta.Shape[d] - ix*a.meta.Chunks[d]; rem < shape[d] {
			shape[d] = rem
		}
	}
	return shape
}

// NewChunkBuffer allocates a buffer shaped for the chunk at the given
// grid coordinates.
func (a *Array) NewChunkBuffer(indices []int64) *Buffer {
	return NewBuffer(a.dt, a.ChunkShape(indices))
}

// WriteChunk compresses and stores one chunk. The buffer shape must
// match ChunkShape for the coordinates.
func (a *Array) WriteChunk(indices []int64, buf *Buffer) error {
	raw, err := buf.Encode()
	if err != nil {
		return err
	}
	compressed, err := a.comp.Compress(raw)
	if err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeInternal, "failed to compress chunk")
	}
	path := filepath.Join(a.dir, chunkKey(indices))
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to write chunk")
	}
	return nil
}

// ReadChunk loads and decodes one chunk.
func (a *Array) ReadChunk(indices []int64) (*Buffer, error) {
	compressed, err := os.ReadFile(filepath.Join(a.dir, chunkKey(indices)))
	if err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to read chunk")
	}
	raw, err := a.comp.Decompress(compressed)
	if err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to decompress chunk")
	}
	return DecodeBuffer(a.dt, a.ChunkShape(indices), raw)
}

// StoredBytes sums the on-disk size of the array's chunk files.
func (a *Array) StoredBytes() (int64, int, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return 0, 0, vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to list array directory")
	}
	var total int64
	var chunks int
	for _, e := range entries {
		if e.IsDir() || e.Name() == arrayFile {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return 0, 0, vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to stat chunk")
		}
		total += fi.Size()
		chunks++
	}
	return total, chunks, nil
}

// ListArrays returns the arrays of a group in name order.
func ListArrays(groupDir string) ([]*Array, error) {
	entries, err := os.ReadDir(groupDir)
	if err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to list group")
	}
	var arrays []*Array
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(groupDir, e.Name())
		if _, err := os.Stat(filepath.Join(dir, arrayFile)); err != nil {
			continue
		}
		a, err := OpenArray(dir)
		if err != nil {
			return nil, err
		}
		arrays = append(arrays, a)
	}
	sort.Slice(arrays, func(i, j int) bool { return arrays[i].name < arrays[j].name })
	return arrays, nil
}

// newCodec maps the metadata codec description onto a compressor. A
// nil description means chunks are stored raw.
func newCodec(c *Compressor) (compression.Compressor, error) {
	cfg := compression.DefaultConfig()
	if c == nil {
		cfg.Algorithm = compression.None
		return compression.NewCompressor(cfg)
	}
	alg, err := compression.ParseAlgorithm(c.ID)
	if err != nil {
		return nil, err
	}
	cfg.Algorithm = alg
	cfg.Level = levelFor(c.Level)
	return compression.NewCompressor(cfg)
}

func levelFor(n int) compression.Level {
	switch {
	case n <= 1:
		return compression.Fastest
	case n <= 3:
		return compression.Default
	case n <= 7:
		return compression.Better
	default:
		return compression.Best
	}
}
