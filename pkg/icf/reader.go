package icf

import (
	"os"
	"path/filepath"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/ajitpratap0/vcz/pkg/vczerrors"
)

// Store is a sealed intermediate store opened for reading.
type Store struct {
	path      string
	meta      *Metadata
	summaries []*PartitionSummary

	// recordStart[i] is the global record number of partition i's first
	// record; recordStart[len] is the total record count.
	recordStart []int64
}

// OpenStore opens a sealed store. An unsealed destination (init
// without finalise, or an aborted single-process run) is rejected.
func OpenStore(path string) (*Store, error) {
	meta, err := LoadMetadata(path)
	if err != nil {
		return nil, err
	}
	if !meta.Sealed {
		return nil, vczerrors.New(vczerrors.ErrorTypeInitialization,
			"store is not finalised").WithDetail("path", path)
	}

	s := &Store{
		path:        path,
		meta:        meta,
		summaries:   make([]*PartitionSummary, len(meta.Partitions)),
		recordStart: make([]int64, len(meta.Partitions)+1),
	}
	var off int64
	for i := range meta.Partitions {
		ps, err := loadSummary(filepath.Join(path, partitionDirName(i)))
		if err != nil {
			return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeIO,
				"failed to load partition summary").WithPartition(i)
		}
		s.summaries[i] = ps
		s.recordStart[i] = off
		off += ps.Records
	}
	s.recordStart[len(meta.Partitions)] = off
	return s, nil
}

// Metadata returns the store's sealed global metadata.
func (s *Store) Metadata() *Metadata { return s.meta }

// Path returns the store's root directory.
func (s *Store) Path() string { return s.path }

// NumRecords returns the total record count across all partitions.
func (s *Store) NumRecords() int64 { return s.meta.NumRecords }

// Fields returns the merged field schemas in column order.
func (s *Store) Fields() []FieldSchema { return s.meta.Fields }

// Field returns the schema of the named field, or nil.
func (s *Store) Field(name string) *FieldSchema { return s.meta.Field(name) }

// Summaries returns the per-partition summaries in partition order.
func (s *Store) Summaries() []*PartitionSummary { return s.summaries }

// ReadField reads every value of the named field in record order.
func (s *Store) ReadField(name string) ([]interface{}, error) {
	return s.ReadFieldRange(name, 0, s.meta.NumRecords)
}

// ReadFieldRange reads the half-open record range [start, stop) of the
// named field. Only chunks overlapping the range are decompressed.
func (s *Store) ReadFieldRange(name string, start, stop int64) ([]interface{}, error) {
	fs := s.meta.Field(name)
	if fs == nil {
		return nil, vczerrors.Newf(vczerrors.ErrorTypeSchemaMismatch,
			"store has no field %s", name).WithField(name)
	}
	if start < 0 || stop > s.meta.NumRecords || start > stop {
		return nil, vczerrors.Newf(vczerrors.ErrorTypePlanning,
			"record range [%d, %d) out of bounds [0, %d)", start, stop, s.meta.NumRecords)
	}
	if start == stop {
		return nil, nil
	}

	out := make([]interface{}, 0, stop-start)
	for pi := range s.summaries {
		pStart, pStop := s.recordStart[pi], s.recordStart[pi+1]
		if pStop <= start || pStart >= stop {
			continue
		}
		fsum, ok := s.summaries[pi].Fields[name]
		if !ok {
			return nil, vczerrors.Newf(vczerrors.ErrorTypeIO,
				"partition %d has no column for %s", pi, name).WithPartition(pi).WithField(name)
		}

		// Walk this partition's chunks, decompressing only those that
		// overlap the requested range.
		rec := pStart
		for ci := 0; ci < fsum.NumChunks; ci++ {
			n := fsum.ChunkRecords[ci]
			cStart, cStop := rec, rec+n
			rec = cStop
			if cStop <= start || cStart >= stop {
				continue
			}
			rows, err := s.readChunk(pi, fs, ci)
			if err != nil {
				return nil, err
			}
			if int64(len(rows)) != n {
				return nil, vczerrors.Newf(vczerrors.ErrorTypeIO,
					"chunk %d of %s in partition %d holds %d rows, summary says %d",
					ci, name, pi, len(rows), n).WithPartition(pi).WithField(name)
			}
			lo, hi := int64(0), n
			if start > cStart {
				lo = start - cStart
			}
			if stop < cStop {
				hi = stop - cStart
			}
			out = append(out, rows[lo:hi]...)
		}
	}
	return out, nil
}

// readChunk loads, decompresses and decodes one column chunk, coercing
// values to the field's declared type.
func (s *Store) readChunk(partition int, fs *FieldSchema, chunk int) ([]interface{}, error) {
	parts := append([]string{s.path, partitionDirName(partition)}, fs.DirParts()...)
	path := filepath.Join(append(parts, strconv.Itoa(chunk))...)

	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to read chunk").
			WithPartition(partition).WithField(fs.Name)
	}
	payload, err := chunkCompression.Decompress(compressed)
	if err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to decompress chunk").
			WithPartition(partition).WithField(fs.Name)
	}

	var rows []interface{}
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "corrupt chunk").
			WithPartition(partition).WithField(fs.Name)
	}
	for i, v := range rows {
		rows[i] = coerceRow(fs, v)
	}
	return rows, nil
}

// coerceRow maps a decoded JSON value back onto the field's shape:
// per-sample fields are a slice of per-sample values, each of which is
// a scalar or a list.
func coerceRow(fs *FieldSchema, v interface{}) interface{} {
	if fs.PerSample {
		samples, ok := v.([]interface{})
		if !ok {
			return v
		}
		for i, sv := range samples {
			samples[i] = coerceValue(fs.Type, sv)
		}
		return samples
	}
	return coerceValue(fs.Type, v)
}

func coerceValue(t ValueType, v interface{}) interface{} {
	switch vv := v.(type) {
	case []interface{}:
		for i, e := range vv {
			vv[i] = coerceScalar(t, e)
		}
		return vv
	default:
		return coerceScalar(t, v)
	}
}

// coerceScalar undoes JSON's number erasure: integer fields come back
// as float64 and must be restored to int64.
func coerceScalar(t ValueType, v interface{}) interface{} {
	if v == nil {
		return nil
	}
	switch t {
	case TypeInt:
		switch n := v.(type) {
		case float64:
			return int64(n)
		case int64:
			return n
		}
	case TypeFloat:
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		}
	}
	return v
}
