package icf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ajitpratap0/vcz/pkg/vczerrors"
	"github.com/ajitpratap0/vcz/pkg/zarr"
)

// InspectRow is one line of the inspection report: a column of an
// intermediate store or an array of an encoded store.
type InspectRow struct {
	Name   string
	Type   string
	Chunks int
	Size   int64 // uncompressed bytes
	Stored int64 // compressed bytes on disk
	Shape  string
	Extra  string // per-format detail: value range, record counts
}

// Ratio is the compression ratio achieved for the row, or 0 when the
// stored size is unknown.
func (r InspectRow) Ratio() float64 {
	if r.Stored == 0 {
		return 0
	}
	return float64(r.Size) / float64(r.Stored)
}

// Inspect reports per-column statistics for the store at path,
// dispatching on the store format found there.
func Inspect(path string) ([]InspectRow, error) {
	if _, err := os.Stat(filepath.Join(path, MetadataFile)); err == nil {
		return inspectStore(path)
	}
	if zarr.IsGroup(path) {
		return inspectGroup(path)
	}
	return nil, vczerrors.New(vczerrors.ErrorTypeIO,
		"path holds neither an intermediate store nor an encoded store").
		WithDetail("path", path)
}

func inspectStore(path string) ([]InspectRow, error) {
	store, err := OpenStore(path)
	if err != nil {
		return nil, err
	}

	rows := make([]InspectRow, 0, len(store.Fields()))
	for _, fs := range store.Fields() {
		row := InspectRow{Name: fs.Name, Type: string(fs.Type)}
		for _, ps := range store.Summaries() {
			if fsum, ok := ps.Fields[fs.Name]; ok {
				row.Chunks += fsum.NumChunks
				row.Size += fsum.UncompressedBytes
				row.Stored += fsum.CompressedBytes
			}
		}
		switch fs.Type {
		case TypeInt:
			row.Extra = fmt.Sprintf("min=%d max=%d", fs.MinValue, fs.MaxValue)
		case TypeString:
			row.Extra = fmt.Sprintf("max_len=%d", fs.MaxLen)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func inspectGroup(path string) ([]InspectRow, error) {
	arrays, err := zarr.ListArrays(path)
	if err != nil {
		return nil, err
	}

	rows := make([]InspectRow, 0, len(arrays))
	for _, a := range arrays {
		meta := a.Meta()
		var elems int64 = 1
		for _, s := range meta.Shape {
			elems *= s
		}
		stored, chunks, err := a.StoredBytes()
		if err != nil {
			return nil, err
		}
		rows = append(rows, InspectRow{
			Name:   a.Name(),
			Type:   meta.Dtype,
			Chunks: chunks,
			Size:   elems * int64(a.Dtype().Size),
			Stored: stored,
			Shape:  fmt.Sprintf("%v", meta.Shape),
		})
	}
	return rows, nil
}
