package vcf

import (
	"fmt"

	"github.com/ajitpratap0/vcz/pkg/vczerrors"
)

// Partition is one disjoint, ordered slice of a source's record range,
// expressed as a byte range over the uncompressed data section. Record
// bounds come from index checkpoints, so Records is exact.
type Partition struct {
	Index       int    `json:"index"`
	Path        string `json:"path"`
	StartOffset int64  `json:"start_offset"`
	EndOffset   int64  `json:"end_offset"` // 0 means read to end of file
	StartRecord int64  `json:"start_record"`
	Records     int64  `json:"records"`
}

// String renders a partition for diagnostics and the partition command.
func (p Partition) String() string {
	return fmt.Sprintf("%s[%d:%d] records=%d", p.Path, p.StartOffset, p.EndOffset, p.Records)
}

// PartitionInto cuts an indexed source into at most numParts partitions,
// balanced by byte size. Cuts happen only at index checkpoints, so the
// achieved count may be lower than requested when the index is too
// coarse. The returned partitions are disjoint, ordered, and exhaustive
// over the source's record range.
func PartitionInto(idx *Index, path string, numParts int) ([]Partition, error) {
	if numParts < 1 {
		return nil, vczerrors.Newf(vczerrors.ErrorTypePlanning,
			"num_partitions must be >= 1, got %d", numParts)
	}
	if idx.Records == 0 {
		return []Partition{{
			Index:       0,
			Path:        path,
			StartOffset: idx.HeaderBytes,
			EndOffset:   0,
		}}, nil
	}

	dataBytes := idx.Bytes - idx.HeaderBytes
	target := dataBytes / int64(numParts)
	if target < 1 {
		target = 1
	}

	// Greedy walk over checkpoints: close a partition once it holds at
	// least the per-partition byte share. The remainder always folds into
	// the final partition.
	var parts []Partition
	start := idx.Checkpoints[0]
	for _, cp := range idx.Checkpoints[1:] {
		if len(parts) == numParts-1 {
			break
		}
		if cp.Offset-start.Offset >= target {
			parts = append(parts, Partition{
				Index:       len(parts),
				Path:        path,
				StartOffset: start.Offset,
				EndOffset:   cp.Offset,
				StartRecord: start.Record,
				Records:     cp.Record - start.Record,
			})
			start = cp
		}
	}
	parts = append(parts, Partition{
		Index:       len(parts),
		Path:        path,
		StartOffset: start.Offset,
		EndOffset:   0,
		StartRecord: start.Record,
		Records:     idx.Records - start.Record,
	})

	return parts, nil
}

// WholeFilePartition describes an unindexed source as a single
// partition covering every record.
func WholeFilePartition(path string) Partition {
	return Partition{Index: 0, Path: path, EndOffset: 0}
}
