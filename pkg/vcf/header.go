// Package vcf provides the record source collaborator for the conversion
// pipeline: streaming VCF parsing, a byte-offset companion index for
// random access, and region partitioning over indexed inputs.
//
// The parser handles plain and gzip-compressed (including bgzip) text.
// Random access, and therefore multi-partition conversion, requires a
// plain file with a companion index; compressed inputs are processed as
// a single whole-file partition.
package vcf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ajitpratap0/vcz/pkg/vczerrors"
)

// FieldType is a VCF header value type.
type FieldType string

const (
	// TypeInteger is the VCF Integer type
	TypeInteger FieldType = "Integer"
	// TypeFloat is the VCF Float type
	TypeFloat FieldType = "Float"
	// TypeString is the VCF String type
	TypeString FieldType = "String"
	// TypeCharacter is the VCF Character type
	TypeCharacter FieldType = "Character"
	// TypeFlag is the VCF Flag type (INFO only)
	TypeFlag FieldType = "Flag"
)

// FieldDef describes one INFO or FORMAT field declared in the header.
type FieldDef struct {
	ID          string
	Number      string // "0", "1", "2", ..., "A", "R", "G" or "."
	Type        FieldType
	Description string
}

// Contig is one declared reference sequence.
type Contig struct {
	ID     string
	Length int64 // 0 when not declared
}

// Header holds the parsed VCF header.
type Header struct {
	FileFormat  string
	Contigs     []Contig
	Filters     []FieldDef
	Info        map[string]FieldDef
	InfoOrder   []string
	Format      map[string]FieldDef
	FormatOrder []string
	Samples     []string
}

// ContigIndex returns the position of the named contig, or -1.
func (h *Header) ContigIndex(id string) int {
	for i, c := range h.Contigs {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// FilterIndex returns the position of the named filter, or -1.
func (h *Header) FilterIndex(id string) int {
	for i, f := range h.Filters {
		if f.ID == id {
			return i
		}
	}
	return -1
}

// parseHeaderLine consumes one "##key=value" meta line into the header.
func (h *Header) parseHeaderLine(line string) error {
	body := strings.TrimPrefix(line, "##")
	eq := strings.IndexByte(body, '=')
	if eq < 0 {
		return vczerrors.Newf(vczerrors.ErrorTypeData, "malformed header line: %q", line)
	}
	key, value := body[:eq], body[eq+1:]

	switch key {
	case "fileformat":
		h.FileFormat = value
	case "contig":
		attrs, err := parseStructured(value)
		if err != nil {
			return err
		}
		c := Contig{ID: attrs["ID"]}
		if l, ok := attrs["length"]; ok {
			n, err := strconv.ParseInt(l, 10, 64)
			if err != nil {
				return vczerrors.Newf(vczerrors.ErrorTypeData, "invalid contig length %q", l)
			}
			c.Length = n
		}
		h.Contigs = append(h.Contigs, c)
	case "FILTER":
		attrs, err := parseStructured(value)
		if err != nil {
			return err
		}
		h.Filters = append(h.Filters, FieldDef{ID: attrs["ID"], Description: attrs["Description"]})
	case "INFO":
		def, err := parseFieldDef(value)
		if err != nil {
			return err
		}
		h.Info[def.ID] = def
		h.InfoOrder = append(h.InfoOrder, def.ID)
	case "FORMAT":
		def, err := parseFieldDef(value)
		if err != nil {
			return err
		}
		h.Format[def.ID] = def
		h.FormatOrder = append(h.FormatOrder, def.ID)
	default:
		// Unrecognized meta lines (source, commands, etc.) are carried
		// by the input but have no bearing on conversion.
	}
	return nil
}

// parseColumnLine parses the "#CHROM POS ..." column header line,
// extracting sample names.
func (h *Header) parseColumnLine(line string) error {
	cols := strings.Split(strings.TrimPrefix(line, "#"), "\t")
	if len(cols) < 8 {
		return vczerrors.Newf(vczerrors.ErrorTypeData,
			"column header has %d columns, expected at least 8", len(cols))
	}
	expected := []string{"CHROM", "POS", "ID", "REF", "ALT", "QUAL", "FILTER", "INFO"}
	for i, want := range expected {
		if cols[i] != want {
			return vczerrors.Newf(vczerrors.ErrorTypeData,
				"unexpected column %d: got %q, want %q", i, cols[i], want)
		}
	}
	if len(cols) > 9 {
		h.Samples = cols[9:]
	}
	return nil
}

func parseFieldDef(value string) (FieldDef, error) {
	attrs, err := parseStructured(value)
	if err != nil {
		return FieldDef{}, err
	}
	def := FieldDef{
		ID:          attrs["ID"],
		Number:      attrs["Number"],
		Type:        FieldType(attrs["Type"]),
		Description: attrs["Description"],
	}
	if def.ID == "" {
		return FieldDef{}, vczerrors.Newf(vczerrors.ErrorTypeData, "field definition missing ID: %q", value)
	}
	switch def.Type {
	case TypeInteger, TypeFloat, TypeString, TypeCharacter, TypeFlag:
	default:
		return FieldDef{}, vczerrors.Newf(vczerrors.ErrorTypeData,
			"field %s has unknown type %q", def.ID, def.Type)
	}
	return def, nil
}

// parseStructured parses "<ID=DP,Number=1,...,Description="Total depth">"
// into a key-value map, honoring quoted values.
func parseStructured(value string) (map[string]string, error) {
	if !strings.HasPrefix(value, "<") || !strings.HasSuffix(value, ">") {
		return nil, vczerrors.Newf(vczerrors.ErrorTypeData, "malformed structured value: %q", value)
	}
	body := value[1 : len(value)-1]

	attrs := make(map[string]string)
	for len(body) > 0 {
		eq := strings.IndexByte(body, '=')
		if eq < 0 {
			return nil, vczerrors.Newf(vczerrors.ErrorTypeData, "malformed attribute in %q", value)
		}
		key := body[:eq]
		body = body[eq+1:]

		var val string
		if strings.HasPrefix(body, `"`) {
			end := strings.IndexByte(body[1:], '"')
			if end < 0 {
				return nil, vczerrors.Newf(vczerrors.ErrorTypeData, "unterminated quote in %q", value)
			}
			val = body[1 : 1+end]
			body = body[1+end+1:]
			body = strings.TrimPrefix(body, ",")
		} else {
			comma := strings.IndexByte(body, ',')
			if comma < 0 {
				val = body
				body = ""
			} else {
				val = body[:comma]
				body = body[comma+1:]
			}
		}
		attrs[key] = val
	}
	return attrs, nil
}

// String renders the header field definition in VCF syntax, used by
// diagnostics.
func (d FieldDef) String() string {
	return fmt.Sprintf("<ID=%s,Number=%s,Type=%s>", d.ID, d.Number, d.Type)
}

func newHeader() *Header {
	return &Header{
		Info:   make(map[string]FieldDef),
		Format: make(map[string]FieldDef),
	}
}
