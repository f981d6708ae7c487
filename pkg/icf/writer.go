package icf

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/vcz/pkg/compression"
	"github.com/ajitpratap0/vcz/pkg/vcf"
	"github.com/ajitpratap0/vcz/pkg/vczerrors"
)

// chunkCompression is the fixed codec for column chunks. The staged
// store is written once and read back a handful of times, so the
// better-ratio zstd default is kept rather than made configurable; the
// encode schema is where codecs get tuned.
var chunkCompression = compression.NewCompressorPool(compression.DefaultConfig())

// columnBuffer accumulates one field's values for a partition and
// flushes a compressed column chunk whenever the approximate
// uncompressed size bound is reached.
type columnBuffer struct {
	schema  FieldSchema // local copy; observed stats accumulate here
	dir     string
	bound   int64
	rows    []interface{}
	pending int64

	summary FieldSummary
}

func newColumnBuffer(schema FieldSchema, partitionDir string, bound int64) (*columnBuffer, error) {
	dir := filepath.Join(append([]string{partitionDir}, schema.DirParts()...)...)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to create column directory")
	}
	return &columnBuffer{schema: schema, dir: dir, bound: bound}, nil
}

func (cb *columnBuffer) append(v interface{}) error {
	cb.schema.observe(v)
	cb.rows = append(cb.rows, v)
	cb.pending += estimateSize(v)
	if cb.pending >= cb.bound {
		return cb.flush()
	}
	return nil
}

// flush writes the buffered rows as one column chunk.
func (cb *columnBuffer) flush() error {
	if len(cb.rows) == 0 {
		return nil
	}

	payload, err := json.Marshal(cb.rows)
	if err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeInternal, "failed to encode chunk").
			WithField(cb.schema.Name)
	}
	compressed, err := chunkCompression.Compress(payload)
	if err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeInternal, "failed to compress chunk").
			WithField(cb.schema.Name)
	}

	path := filepath.Join(cb.dir, strconv.Itoa(cb.summary.NumChunks))
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to write chunk").
			WithField(cb.schema.Name)
	}

	cb.summary.NumChunks++
	cb.summary.ChunkRecords = append(cb.summary.ChunkRecords, int64(len(cb.rows)))
	cb.summary.UncompressedBytes += int64(len(payload))
	cb.summary.CompressedBytes += int64(len(compressed))

	cb.rows = cb.rows[:0]
	cb.pending = 0
	return nil
}

func (cb *columnBuffer) finish() (FieldSummary, error) {
	if err := cb.flush(); err != nil {
		return FieldSummary{}, err
	}
	cb.summary.Schema = cb.schema
	return cb.summary, nil
}

// partitionWriter converts one partition's record stream into column
// chunks inside a working directory.
type partitionWriter struct {
	meta    *Metadata
	header  *vcf.Header
	columns []*columnBuffer
	byName  map[string]*columnBuffer
	records int64

	// formatPos caches the FORMAT key positions of the current record.
	formatPos map[string]int
}

func newPartitionWriter(meta *Metadata, header *vcf.Header, dir string) (*partitionWriter, error) {
	localFields, err := fieldsFromHeader(header)
	if err != nil {
		return nil, err
	}
	local := make(map[string]FieldSchema, len(localFields))
	for _, fs := range localFields {
		local[fs.Name] = fs
	}

	pw := &partitionWriter{
		meta:   meta,
		header: header,
		byName: make(map[string]*columnBuffer, len(meta.Fields)),
	}

	// Columns follow the planned field set. Where this partition's
	// header declares the field, the local definition wins: schema
	// agreement is verified at finalise, not silently coerced here.
	for _, planned := range meta.Fields {
		fs := planned
		if lfs, ok := local[planned.Name]; ok {
			fs = lfs
		}
		cb, err := newColumnBuffer(fs, dir, meta.ColumnChunkSize)
		if err != nil {
			return nil, err
		}
		pw.columns = append(pw.columns, cb)
		pw.byName[fs.Name] = cb
	}
	return pw, nil
}

// writeRecord appends one record's value to every column.
func (pw *partitionWriter) writeRecord(rec *vcf.Record) error {
	pw.records++

	pw.formatPos = nil
	for _, cb := range pw.columns {
		v, err := pw.fieldValue(rec, &cb.schema)
		if err != nil {
			return err
		}
		if err := cb.append(v); err != nil {
			return err
		}
	}
	return nil
}

// fieldValue extracts the column value of one record for one field.
func (pw *partitionWriter) fieldValue(rec *vcf.Record, fs *FieldSchema) (interface{}, error) {
	switch fs.Category {
	case CategoryFixed:
		return fixedValue(rec, fs.Name)
	case CategoryInfo:
		key := strings.TrimPrefix(fs.Name, "INFO/")
		raw, ok := rec.Info[key]
		if fs.Type == TypeBool {
			return ok, nil
		}
		if !ok {
			return nil, nil
		}
		return parseTypedList(raw, fs)
	case CategoryFormat:
		key := strings.TrimPrefix(fs.Name, "FORMAT/")
		pos := pw.formatKeyPos(rec, key)
		if pos < 0 {
			return nil, nil
		}
		row := make([]interface{}, len(rec.Calls))
		for i, call := range rec.Calls {
			if fs.Name == FieldGenotype {
				// Genotype strings stay raw; encode parses them into
				// allele/phase arrays. Validate here so a malformed
				// call fails the explode, not a later encode.
				if call[pos] == "." {
					row[i] = nil
					continue
				}
				if _, err := vcf.ParseGenotype(call[pos]); err != nil {
					return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeData,
						"invalid genotype in column").WithField(FieldGenotype)
				}
				row[i] = call[pos]
				continue
			}
			v, err := parseTypedList(call[pos], fs)
			if err != nil {
				return nil, err
			}
			row[i] = v
		}
		return row, nil
	default:
		return nil, vczerrors.Newf(vczerrors.ErrorTypeInternal, "unknown category %q", fs.Category)
	}
}

func (pw *partitionWriter) formatKeyPos(rec *vcf.Record, key string) int {
	if pw.formatPos == nil {
		pw.formatPos = make(map[string]int, len(rec.FormatKeys))
		for i, k := range rec.FormatKeys {
			pw.formatPos[k] = i
		}
	}
	if pos, ok := pw.formatPos[key]; ok {
		return pos
	}
	return -1
}

func fixedValue(rec *vcf.Record, name string) (interface{}, error) {
	switch name {
	case FieldChrom:
		return rec.Chrom, nil
	case FieldPos:
		return rec.Pos, nil
	case FieldID:
		if rec.ID == "" {
			return nil, nil
		}
		return rec.ID, nil
	case FieldRef:
		return rec.Ref, nil
	case FieldAlt:
		if len(rec.Alt) == 0 {
			return nil, nil
		}
		return stringList(rec.Alt), nil
	case FieldQual:
		return qualValue(rec.Qual), nil
	case FieldFilter:
		if len(rec.Filter) == 0 {
			return nil, nil
		}
		return stringList(rec.Filter), nil
	default:
		return nil, vczerrors.Newf(vczerrors.ErrorTypeInternal, "unknown fixed field %q", name)
	}
}

func stringList(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// finish flushes every column and produces the partition summary.
func (pw *partitionWriter) finish(index int) (*PartitionSummary, error) {
	ps := &PartitionSummary{
		Index:   index,
		Records: pw.records,
		Fields:  make(map[string]FieldSummary, len(pw.columns)),
	}
	for _, cb := range pw.columns {
		fsum, err := cb.finish()
		if err != nil {
			return nil, err
		}
		ps.Fields[cb.schema.Name] = fsum
	}
	return ps, nil
}
