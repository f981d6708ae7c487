package vcf

import (
	"math"
	"strconv"
	"strings"

	"github.com/ajitpratap0/vcz/pkg/vczerrors"
)

// Record is one parsed variant line. Field values are kept in their raw
// string form; typing is applied downstream against the header
// definitions so that a record stream stays cheap to produce.
type Record struct {
	Chrom  string
	Pos    int64
	ID     string   // empty when missing (".")
	Ref    string
	Alt    []string // nil when missing
	Qual   float64  // NaN when missing
	Filter []string // nil when missing; ["PASS"] when passed

	// Info maps INFO key to its raw value. Flags map to "".
	Info map[string]string

	// FormatKeys lists the FORMAT keys of this record in declaration
	// order; Calls holds, per sample, the raw values parallel to
	// FormatKeys ("." entries are preserved).
	FormatKeys []string
	Calls      [][]string
}

const missing = "."

// parseRecord parses one data line against the header. numSamples guards
// column count.
func parseRecord(line string, numSamples int) (*Record, error) {
	cols := strings.Split(line, "\t")
	if len(cols) < 8 {
		return nil, vczerrors.Newf(vczerrors.ErrorTypeData,
			"record has %d columns, expected at least 8", len(cols))
	}
	if numSamples > 0 && len(cols) != 9+numSamples {
		return nil, vczerrors.Newf(vczerrors.ErrorTypeData,
			"record has %d columns, expected %d", len(cols), 9+numSamples)
	}

	pos, err := strconv.ParseInt(cols[1], 10, 64)
	if err != nil {
		return nil, vczerrors.Newf(vczerrors.ErrorTypeData, "invalid POS %q", cols[1])
	}

	r := &Record{
		Chrom: cols[0],
		Pos:   pos,
		Ref:   cols[3],
		Qual:  math.NaN(),
	}

	if cols[2] != missing {
		r.ID = cols[2]
	}
	if cols[4] != missing {
		r.Alt = strings.Split(cols[4], ",")
	}
	if cols[5] != missing {
		q, err := strconv.ParseFloat(cols[5], 64)
		if err != nil {
			return nil, vczerrors.Newf(vczerrors.ErrorTypeData, "invalid QUAL %q", cols[5])
		}
		r.Qual = q
	}
	if cols[6] != missing {
		r.Filter = strings.Split(cols[6], ";")
	}

	if cols[7] != missing {
		r.Info = make(map[string]string)
		for _, item := range strings.Split(cols[7], ";") {
			if item == "" {
				continue
			}
			if eq := strings.IndexByte(item, '='); eq >= 0 {
				r.Info[item[:eq]] = item[eq+1:]
			} else {
				r.Info[item] = "" // Flag
			}
		}
	}

	if len(cols) > 9 {
		r.FormatKeys = strings.Split(cols[8], ":")
		r.Calls = make([][]string, len(cols)-9)
		for i, raw := range cols[9:] {
			vals := strings.Split(raw, ":")
			// VCF allows a call to drop trailing FORMAT fields; pad
			// with missing markers so Calls stays parallel to FormatKeys.
			for len(vals) < len(r.FormatKeys) {
				vals = append(vals, missing)
			}
			r.Calls[i] = vals
		}
	}

	return r, nil
}

// Alleles returns REF plus ALT in order.
func (r *Record) Alleles() []string {
	out := make([]string, 0, 1+len(r.Alt))
	out = append(out, r.Ref)
	out = append(out, r.Alt...)
	return out
}

// Genotype holds a parsed GT value for one sample.
type Genotype struct {
	Alleles []int // -1 for missing calls
	Phased  bool
}

// ParseGenotype parses a raw GT string like "0/1", "1|0" or "./.".
// Missing alleles parse to -1.
func ParseGenotype(raw string) (Genotype, error) {
	if raw == "" || raw == missing {
		return Genotype{Alleles: []int{-1}}, nil
	}
	phased := strings.ContainsRune(raw, '|')
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == '/' || r == '|' })
	g := Genotype{Alleles: make([]int, 0, len(parts)), Phased: phased}
	for _, p := range parts {
		if p == missing {
			g.Alleles = append(g.Alleles, -1)
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return Genotype{}, vczerrors.Newf(vczerrors.ErrorTypeData, "invalid genotype %q", raw)
		}
		g.Alleles = append(g.Alleles, n)
	}
	return g, nil
}
