package vcf

import (
	"bytes"
	"io"
	"os"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/vcz/pkg/vczerrors"
)

// IndexSuffix is appended to a source path to locate its companion index.
const IndexSuffix = ".vczi"

// indexVersion is bumped on incompatible index layout changes.
const indexVersion = "1"

// DefaultCheckpointInterval is the record spacing between index
// checkpoints. Finer spacing permits more partitions at the cost of a
// larger index document.
const DefaultCheckpointInterval = 1000

// Checkpoint marks a record boundary in the data section: record number
// Record starts at byte Offset.
type Checkpoint struct {
	Record int64 `json:"record"`
	Offset int64 `json:"offset"`
}

// Index is the companion index of one VCF file. It is a plain JSON
// document holding enough record/byte checkpoints to cut the file into
// byte-balanced partitions at record boundaries.
type Index struct {
	Version     string       `json:"version"`
	Records     int64        `json:"records"`
	Bytes       int64        `json:"bytes"`        // total file size when built
	HeaderBytes int64        `json:"header_bytes"` // data section starts here
	Checkpoints []Checkpoint `json:"checkpoints"`
}

// BuildIndex scans a plain-text VCF and produces its companion index
// with a checkpoint every interval records. interval <= 0 selects
// DefaultCheckpointInterval.
func BuildIndex(path string, interval int64) (*Index, error) {
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}

	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if !r.Seekable() {
		return nil, vczerrors.New(vczerrors.ErrorTypeInvalidIndex,
			"cannot index compressed input")
	}

	idx := &Index{
		Version:     indexVersion,
		HeaderBytes: r.HeaderEnd(),
		Checkpoints: []Checkpoint{{Record: 0, Offset: r.HeaderEnd()}},
	}

	var n int64
	for {
		start := r.Offset()
		_, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if n > 0 && n%interval == 0 {
			idx.Checkpoints = append(idx.Checkpoints, Checkpoint{Record: n, Offset: start})
		}
		n++
	}
	idx.Records = n

	fi, err := os.Stat(path)
	if err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to stat source")
	}
	idx.Bytes = fi.Size()

	return idx, nil
}

// Save writes the index next to its source.
func (idx *Index) Save(sourcePath string) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeInternal, "failed to marshal index")
	}
	if err := os.WriteFile(sourcePath+IndexSuffix, data, 0o644); err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to write index")
	}
	return nil
}

// LoadIndex locates, loads and validates the companion index of the
// given source. A missing, unreadable, or inconsistent index is an
// invalid-index error.
func LoadIndex(sourcePath string) (*Index, error) {
	indexPath := sourcePath + IndexSuffix
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeInvalidIndex,
			"companion index not found").WithDetail("index_path", indexPath)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var idx Index
	if err := dec.Decode(&idx); err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeInvalidIndex,
			"corrupt companion index").WithDetail("index_path", indexPath)
	}

	if err := idx.validate(sourcePath); err != nil {
		return nil, err
	}
	return &idx, nil
}

func (idx *Index) validate(sourcePath string) error {
	if idx.Version != indexVersion {
		return vczerrors.Newf(vczerrors.ErrorTypeInvalidIndex,
			"unsupported index version %q", idx.Version)
	}
	if len(idx.Checkpoints) == 0 || idx.Checkpoints[0].Record != 0 {
		return vczerrors.New(vczerrors.ErrorTypeInvalidIndex,
			"index has no leading checkpoint")
	}
	for i := 1; i < len(idx.Checkpoints); i++ {
		prev, cur := idx.Checkpoints[i-1], idx.Checkpoints[i]
		if cur.Record <= prev.Record || cur.Offset <= prev.Offset {
			return vczerrors.Newf(vczerrors.ErrorTypeInvalidIndex,
				"index checkpoints out of order at %d", i)
		}
	}

	// The index is only valid against the file it was built from.
	fi, err := os.Stat(sourcePath)
	if err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to stat source")
	}
	if fi.Size() != idx.Bytes {
		return vczerrors.Newf(vczerrors.ErrorTypeInvalidIndex,
			"source size %d does not match indexed size %d", fi.Size(), idx.Bytes)
	}
	return nil
}
