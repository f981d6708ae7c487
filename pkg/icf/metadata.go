package icf

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/ajitpratap0/vcz/pkg/vcf"
	"github.com/ajitpratap0/vcz/pkg/vczerrors"
)

// MetadataFile is the name of the global metadata document.
const MetadataFile = "metadata.json"

// SummaryFile is the per-partition summary document name.
const SummaryFile = "summary.json"

// FormatVersion is bumped on incompatible store layout changes.
const FormatVersion = "1"

// Provenance records who wrote the store.
type Provenance struct {
	Version   string    `json:"version"`
	UUID      string    `json:"uuid"`
	CreatedAt time.Time `json:"created_at"`
}

// Metadata is the global store metadata. It is written unsealed by
// explode-init (the partition plan plus placeholder field schemas) and
// rewritten sealed by finalise with merged stats and exact record
// counts.
type Metadata struct {
	FormatVersion   string          `json:"format_version"`
	Provenance      Provenance      `json:"provenance"`
	Sealed          bool            `json:"sealed"`
	ColumnChunkSize int64           `json:"column_chunk_size"` // bytes, approximate uncompressed bound
	Samples         []string        `json:"samples"`
	Contigs         []vcf.Contig    `json:"contigs"`
	Filters         []string        `json:"filters"`
	Partitions      []vcf.Partition `json:"partitions"`
	Fields          []FieldSchema   `json:"fields"`
	NumRecords      int64           `json:"num_records"`
}

// Field returns the schema of the named field, or nil.
func (m *Metadata) Field(name string) *FieldSchema {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return &m.Fields[i]
		}
	}
	return nil
}

// ContigIndex returns the store-wide index of the named contig, or -1.
func (m *Metadata) ContigIndex(id string) int {
	for i, c := range m.Contigs {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// FilterIndex returns the store-wide index of the named filter, or -1.
func (m *Metadata) FilterIndex(id string) int {
	for i, f := range m.Filters {
		if f == id {
			return i
		}
	}
	return -1
}

// Save writes the metadata document atomically (write-temp + rename),
// so a crash mid-write cannot leave a truncated document behind.
func (m *Metadata) Save(storePath string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeInternal, "failed to marshal metadata")
	}
	tmp := filepath.Join(storePath, MetadataFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to write metadata")
	}
	if err := os.Rename(tmp, filepath.Join(storePath, MetadataFile)); err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to commit metadata")
	}
	return nil
}

// LoadMetadata reads and strictly validates the metadata document of a
// store directory.
func LoadMetadata(storePath string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(storePath, MetadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeInitialization,
				"destination is not an initialized store").WithDetail("path", storePath)
		}
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to read metadata")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var m Metadata
	if err := dec.Decode(&m); err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeInitialization,
			"corrupt store metadata").WithDetail("path", storePath)
	}
	if m.FormatVersion != FormatVersion {
		return nil, vczerrors.Newf(vczerrors.ErrorTypeInitialization,
			"unsupported store format version %q", m.FormatVersion)
	}
	return &m, nil
}

// newProvenance stamps a fresh store identity.
func newProvenance() Provenance {
	return Provenance{
		Version:   "vcz-0.1.0",
		UUID:      uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
}

// FieldSummary is one field's observed output within a single partition.
type FieldSummary struct {
	Schema            FieldSchema `json:"schema"`
	NumChunks         int         `json:"num_chunks"`
	ChunkRecords      []int64     `json:"chunk_records"` // rows per chunk, in order
	UncompressedBytes int64       `json:"uncompressed_bytes"`
	CompressedBytes   int64       `json:"compressed_bytes"`
}

// PartitionSummary is the local result of exploding one partition.
type PartitionSummary struct {
	Index   int                     `json:"index"`
	Records int64                   `json:"records"`
	Fields  map[string]FieldSummary `json:"fields"`
}

// save writes the summary into the partition directory.
func (ps *PartitionSummary) save(partitionDir string) error {
	data, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeInternal, "failed to marshal summary")
	}
	if err := os.WriteFile(filepath.Join(partitionDir, SummaryFile), data, 0o644); err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to write summary")
	}
	return nil
}

// loadSummary reads one partition's summary document.
func loadSummary(partitionDir string) (*PartitionSummary, error) {
	data, err := os.ReadFile(filepath.Join(partitionDir, SummaryFile))
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var ps PartitionSummary
	if err := dec.Decode(&ps); err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeData, "corrupt partition summary")
	}
	return &ps, nil
}

// partitionDirName returns the directory name of partition index.
func partitionDirName(index int) string {
	return "p" + strconv.Itoa(index)
}
