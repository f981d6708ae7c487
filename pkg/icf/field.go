// Package icf implements the intermediate columnar format: the staged,
// partitioned, per-field chunked representation between raw variant
// records and the final array store.
//
// An ICF store is a directory tree:
//
//	dest/
//	  metadata.json        global metadata; sealed=true once finalised
//	  p0/
//	    summary.json       per-partition record count and field summaries
//	    CHROM/0,1,...      one compressed column chunk per file
//	    INFO/DP/0,...
//	    FORMAT/GT/0,...
//	  p1/...
//
// Partitions are written independently (possibly on different machines)
// and communicate only through this layout. The store becomes readable
// once finalise has verified completeness and cross-partition field
// schema agreement and sealed the metadata.
package icf

import (
	"math"
	"strconv"
	"strings"

	"github.com/ajitpratap0/vcz/pkg/vcf"
	"github.com/ajitpratap0/vcz/pkg/vczerrors"
)

// Category identifies where a column's values come from in the source
// records.
type Category string

const (
	// CategoryFixed covers the fixed VCF columns (CHROM..FILTER)
	CategoryFixed Category = "fixed"
	// CategoryInfo covers INFO fields
	CategoryInfo Category = "info"
	// CategoryFormat covers per-sample FORMAT fields
	CategoryFormat Category = "format"
)

// ValueType is the logical type of a column's values.
type ValueType string

const (
	// TypeInt holds integers
	TypeInt ValueType = "int"
	// TypeFloat holds floating point values
	TypeFloat ValueType = "float"
	// TypeString holds strings
	TypeString ValueType = "string"
	// TypeBool holds flags
	TypeBool ValueType = "bool"
)

// Fixed column names.
const (
	FieldChrom  = "CHROM"
	FieldPos    = "POS"
	FieldID     = "ID"
	FieldRef    = "REF"
	FieldAlt    = "ALT"
	FieldQual   = "QUAL"
	FieldFilter = "FILTER"
	// FieldGenotype is the FORMAT/GT column, which gets dedicated
	// genotype handling during encode.
	FieldGenotype = "FORMAT/GT"
)

// FieldSchema is the per-column metadata. The identity part (Name,
// Category, ValueType, PerSample, VariableLength) must agree across all
// partitions of one store; the observed stats merge via min/max at
// finalise.
type FieldSchema struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Type     ValueType `json:"type"`
	// PerSample marks FORMAT columns carrying one value set per sample.
	PerSample bool `json:"per_sample"`
	// VariableLength marks columns whose per-record (or per-sample)
	// value count is not fixed at 1.
	VariableLength bool `json:"variable_length"`

	// Observed stats, merged across partitions at finalise.
	MaxNumber int   `json:"max_number"` // max values per record (per sample for FORMAT)
	MaxLen    int   `json:"max_len"`    // max string length
	MinValue  int64 `json:"min_value"`  // over int columns
	MaxValue  int64 `json:"max_value"`  // over int columns
	Nullable  bool  `json:"nullable"`
}

// identityEquals reports whether two schemas agree on the partition
// invariant part.
func (fs *FieldSchema) identityEquals(other *FieldSchema) bool {
	return fs.Name == other.Name &&
		fs.Category == other.Category &&
		fs.Type == other.Type &&
		fs.PerSample == other.PerSample &&
		fs.VariableLength == other.VariableLength
}

// mergeStats folds another partition's observed stats into fs.
func (fs *FieldSchema) mergeStats(other *FieldSchema) {
	if other.MaxNumber > fs.MaxNumber {
		fs.MaxNumber = other.MaxNumber
	}
	if other.MaxLen > fs.MaxLen {
		fs.MaxLen = other.MaxLen
	}
	if other.MinValue < fs.MinValue {
		fs.MinValue = other.MinValue
	}
	if other.MaxValue > fs.MaxValue {
		fs.MaxValue = other.MaxValue
	}
	fs.Nullable = fs.Nullable || other.Nullable
}

// DirParts returns the path elements of the field's directory below a
// partition directory. Category fields nest naturally (INFO/DP).
func (fs *FieldSchema) DirParts() []string {
	return strings.Split(fs.Name, "/")
}

// valueTypeOf maps a VCF header type onto the column value type.
func valueTypeOf(t vcf.FieldType) (ValueType, error) {
	switch t {
	case vcf.TypeInteger:
		return TypeInt, nil
	case vcf.TypeFloat:
		return TypeFloat, nil
	case vcf.TypeString, vcf.TypeCharacter:
		return TypeString, nil
	case vcf.TypeFlag:
		return TypeBool, nil
	default:
		return "", vczerrors.Newf(vczerrors.ErrorTypeData, "unknown VCF type %q", t)
	}
}

// fieldsFromHeader derives the full column set for a header: the seven
// fixed columns, one INFO column per declared INFO field, and one
// FORMAT column per declared FORMAT field.
func fieldsFromHeader(h *vcf.Header) ([]FieldSchema, error) {
	fields := []FieldSchema{
		{Name: FieldChrom, Category: CategoryFixed, Type: TypeString, MaxNumber: 1},
		{Name: FieldPos, Category: CategoryFixed, Type: TypeInt, MaxNumber: 1},
		{Name: FieldID, Category: CategoryFixed, Type: TypeString, MaxNumber: 1, Nullable: true},
		{Name: FieldRef, Category: CategoryFixed, Type: TypeString, MaxNumber: 1},
		{Name: FieldAlt, Category: CategoryFixed, Type: TypeString, VariableLength: true, Nullable: true},
		{Name: FieldQual, Category: CategoryFixed, Type: TypeFloat, MaxNumber: 1, Nullable: true},
		{Name: FieldFilter, Category: CategoryFixed, Type: TypeString, VariableLength: true, Nullable: true},
	}

	for _, id := range h.InfoOrder {
		def := h.Info[id]
		vt, err := valueTypeOf(def.Type)
		if err != nil {
			return nil, err
		}
		fields = append(fields, FieldSchema{
			Name:           "INFO/" + id,
			Category:       CategoryInfo,
			Type:           vt,
			VariableLength: def.Number != "0" && def.Number != "1",
			Nullable:       def.Type != vcf.TypeFlag,
		})
	}

	for _, id := range h.FormatOrder {
		def := h.Format[id]
		vt, err := valueTypeOf(def.Type)
		if err != nil {
			return nil, err
		}
		fields = append(fields, FieldSchema{
			Name:           "FORMAT/" + id,
			Category:       CategoryFormat,
			Type:           vt,
			PerSample:      true,
			VariableLength: def.Number != "0" && def.Number != "1",
			Nullable:       true,
		})
	}

	return fields, nil
}

// parseTyped converts one raw VCF value string to the column's logical
// type. "." parses to nil.
func parseTyped(raw string, vt ValueType) (interface{}, error) {
	if raw == "." || raw == "" {
		return nil, nil
	}
	switch vt {
	case TypeInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, vczerrors.Newf(vczerrors.ErrorTypeData, "invalid integer value %q", raw)
		}
		return n, nil
	case TypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, vczerrors.Newf(vczerrors.ErrorTypeData, "invalid float value %q", raw)
		}
		return f, nil
	case TypeString:
		return raw, nil
	case TypeBool:
		return true, nil
	default:
		return nil, vczerrors.Newf(vczerrors.ErrorTypeInternal, "unhandled value type %q", vt)
	}
}

// parseTypedList converts a comma-separated raw value into a slice of
// typed values, or a scalar when the column is not variable length.
func parseTypedList(raw string, fs *FieldSchema) (interface{}, error) {
	if raw == "." || raw == "" {
		return nil, nil
	}
	if !fs.VariableLength {
		return parseTyped(raw, fs.Type)
	}
	parts := strings.Split(raw, ",")
	out := make([]interface{}, len(parts))
	for i, p := range parts {
		v, err := parseTyped(p, fs.Type)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// estimateSize approximates the uncompressed in-memory footprint of one
// appended value, driving the column chunk size bound.
func estimateSize(v interface{}) int64 {
	switch t := v.(type) {
	case nil:
		return 1
	case bool:
		return 1
	case int64:
		return 8
	case float64:
		return 8
	case string:
		return int64(len(t)) + 2
	case []interface{}:
		var n int64 = 2
		for _, e := range t {
			n += estimateSize(e)
		}
		return n
	default:
		return 8
	}
}

// observe updates the schema's observed stats with one appended row.
// For per-sample columns the row is the slice of per-sample values.
func (fs *FieldSchema) observe(v interface{}) {
	if fs.PerSample {
		if samples, ok := v.([]interface{}); ok {
			for _, e := range samples {
				fs.observeValue(e)
			}
			return
		}
	}
	fs.observeValue(v)
}

// observeValue records stats for a single record's (or sample's) value.
func (fs *FieldSchema) observeValue(v interface{}) {
	switch t := v.(type) {
	case nil:
		fs.Nullable = true
	case string:
		if fs.Name == FieldGenotype {
			// Ploidy bound for the genotype column comes from the call
			// string, already validated when the column value was built.
			if g, err := vcf.ParseGenotype(t); err == nil && len(g.Alleles) > fs.MaxNumber {
				fs.MaxNumber = len(g.Alleles)
			}
		}
		if len(t) > fs.MaxLen {
			fs.MaxLen = len(t)
		}
		if fs.MaxNumber < 1 {
			fs.MaxNumber = 1
		}
	case int64:
		if t < fs.MinValue {
			fs.MinValue = t
		}
		if t > fs.MaxValue {
			fs.MaxValue = t
		}
		if fs.MaxNumber < 1 {
			fs.MaxNumber = 1
		}
	case float64:
		if fs.MaxNumber < 1 {
			fs.MaxNumber = 1
		}
	case bool:
		if fs.MaxNumber < 1 {
			fs.MaxNumber = 1
		}
	case []interface{}:
		if len(t) > fs.MaxNumber {
			fs.MaxNumber = len(t)
		}
		for _, e := range t {
			fs.observeElement(e)
		}
	}
}

// observeElement records stats for a list element without affecting
// MaxNumber.
func (fs *FieldSchema) observeElement(v interface{}) {
	switch t := v.(type) {
	case nil:
		fs.Nullable = true
	case string:
		if len(t) > fs.MaxLen {
			fs.MaxLen = len(t)
		}
	case int64:
		if t < fs.MinValue {
			fs.MinValue = t
		}
		if t > fs.MaxValue {
			fs.MaxValue = t
		}
	}
}

// qualValue converts a parsed QUAL into its column value.
func qualValue(q float64) interface{} {
	if math.IsNaN(q) {
		return nil
	}
	return q
}
