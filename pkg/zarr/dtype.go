// Package zarr implements the subset of the Zarr v2 storage format
// needed to write and read local array stores: a flat group of
// chunked, compressed, C-order arrays with JSON metadata.
//
// Supported dtypes are little-endian numerics (<i1 <i2 <i4 <i8 <f4
// <f8), booleans (|b1) and fixed-width UTF-32 strings (<U{n}).
package zarr

import (
	"strconv"
	"strings"

	"github.com/ajitpratap0/vcz/pkg/vczerrors"
)

// Kind is the element class of a dtype.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindBool
	KindString
)

// Dtype is a parsed NumPy-style dtype string.
type Dtype struct {
	Spec string // the original string, e.g. "<i4"
	Kind Kind
	// Size is the encoded element size in bytes. For strings this is
	// 4*Len (UTF-32 code units).
	Size int
	// Len is the string length in code points; zero for non-strings.
	Len int
}

// ParseDtype parses a dtype string into its element description.
func ParseDtype(spec string) (Dtype, error) {
	bad := func() (Dtype, error) {
		return Dtype{}, vczerrors.Newf(vczerrors.ErrorTypeData, "unsupported dtype %q", spec)
	}
	if spec == "|b1" {
		return Dtype{Spec: spec, Kind: KindBool, Size: 1}, nil
	}
	if len(spec) < 3 || spec[0] != '<' {
		return bad()
	}
	switch spec[1] {
	case 'i':
		n, err := strconv.Atoi(spec[2:])
		if err != nil || (n != 1 && n != 2 && n != 4 && n != 8) {
			return bad()
		}
		return Dtype{Spec: spec, Kind: KindInt, Size: n}, nil
	case 'f':
		n, err := strconv.Atoi(spec[2:])
		if err != nil || (n != 4 && n != 8) {
			return bad()
		}
		return Dtype{Spec: spec, Kind: KindFloat, Size: n}, nil
	case 'U':
		n, err := strconv.Atoi(spec[2:])
		if err != nil || n < 1 {
			return bad()
		}
		return Dtype{Spec: spec, Kind: KindString, Size: 4 * n, Len: n}, nil
	}
	return bad()
}

// StringDtype builds the dtype spec of a fixed-width string column.
func StringDtype(maxLen int) string {
	if maxLen < 1 {
		maxLen = 1
	}
	return "<U" + strconv.Itoa(maxLen)
}

// IntDtype picks the narrowest signed integer dtype covering the range
// [min, max] together with the fill value -1.
func IntDtype(min, max int64) string {
	if min > -1 {
		min = -1
	}
	switch {
	case min >= -1<<7 && max < 1<<7:
		return "<i1"
	case min >= -1<<15 && max < 1<<15:
		return "<i2"
	case min >= -1<<31 && max < 1<<31:
		return "<i4"
	default:
		return "<i8"
	}
}

// chunkKey renders chunk grid coordinates as the chunk's object key.
func chunkKey(indices []int64) string {
	parts := make([]string, len(indices))
	for i, ix := range indices {
		parts[i] = strconv.FormatInt(ix, 10)
	}
	return strings.Join(parts, ".")
}
