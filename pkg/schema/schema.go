// Package schema describes the array layout of an encoded store: one
// spec per output array with dtype, dimensions, chunking and fill
// value. A schema is generated from a sealed intermediate store and
// may be edited before encoding.
package schema

import (
	"bytes"
	"io"
	"os"

	json "github.com/goccy/go-json"

	"github.com/ajitpratap0/vcz/pkg/icf"
	"github.com/ajitpratap0/vcz/pkg/vczerrors"
	"github.com/ajitpratap0/vcz/pkg/zarr"
)

const (
	// FormatVersion identifies the schema document layout.
	FormatVersion = "1"

	// DefaultVariantsChunkSize is the default chunk extent on the
	// variants dimension.
	DefaultVariantsChunkSize = 1000
	// DefaultSamplesChunkSize is the default chunk extent on the
	// samples dimension.
	DefaultSamplesChunkSize = 10000
)

// Dimension names used across array specs.
const (
	DimVariants = "variants"
	DimSamples  = "samples"
	DimPloidy   = "ploidy"
	DimAlleles  = "alleles"
	DimContigs  = "contigs"
	DimFilters  = "filters"
)

// ArraySpec describes one output array.
type ArraySpec struct {
	Name        string           `json:"name"`
	Dtype       string           `json:"dtype"`
	Dimensions  []string         `json:"dimensions"`
	Shape       []int64          `json:"shape"`
	Chunks      []int64          `json:"chunks"`
	Compressor  *zarr.Compressor `json:"compressor"`
	FillValue   interface{}      `json:"fill_value"`
	Description string           `json:"description,omitempty"`
	// Source names the intermediate column backing this array. Empty
	// for arrays derived during encoding (masks, genotypes, lookups).
	Source string `json:"source,omitempty"`
}

// Schema is the full encode schema document.
type Schema struct {
	FormatVersion     string      `json:"format_version"`
	VariantsChunkSize int64       `json:"variants_chunk_size"`
	SamplesChunkSize  int64       `json:"samples_chunk_size"`
	Fields            []ArraySpec `json:"fields"`
}

// Field returns the spec with the given array name, or nil.
func (s *Schema) Field(name string) *ArraySpec {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// Write renders the schema as indented JSON.
func (s *Schema) Write(w io.Writer) error {
	doc, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeInternal, "failed to encode schema")
	}
	doc = append(doc, '\n')
	if _, err := w.Write(doc); err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to write schema")
	}
	return nil
}

// Read parses a schema document, rejecting unknown keys so typos in
// hand-edited schemas fail loudly.
func Read(r io.Reader) (*Schema, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to read schema")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var s Schema
	if err := dec.Decode(&s); err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeData, "invalid schema document")
	}
	if s.FormatVersion != FormatVersion {
		return nil, vczerrors.Newf(vczerrors.ErrorTypeData,
			"unsupported schema format version %q", s.FormatVersion)
	}
	if s.VariantsChunkSize <= 0 {
		return nil, vczerrors.New(vczerrors.ErrorTypeData,
			"schema document must set variants_chunk_size to a positive value")
	}
	if s.SamplesChunkSize <= 0 {
		return nil, vczerrors.New(vczerrors.ErrorTypeData,
			"schema document must set samples_chunk_size to a positive value")
	}
	if len(s.Fields) == 0 {
		return nil, vczerrors.New(vczerrors.ErrorTypeData,
			"schema document declares no fields")
	}
	return &s, nil
}

// Load reads a schema from a file.
func Load(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to open schema")
	}
	defer f.Close()
	return Read(f)
}

// Options tunes schema generation.
type Options struct {
	VariantsChunkSize int64
	SamplesChunkSize  int64
}

func (o *Options) defaults() {
	if o.VariantsChunkSize <= 0 {
		o.VariantsChunkSize = DefaultVariantsChunkSize
	}
	if o.SamplesChunkSize <= 0 {
		o.SamplesChunkSize = DefaultSamplesChunkSize
	}
}

// Generate derives the default schema for a sealed store: the fixed
// variant arrays, one array per INFO and FORMAT column, the genotype
// arrays, and the identifier lookup arrays.
func Generate(store *icf.Store, opts Options) (*Schema, error) {
	opts.defaults()
	meta := store.Metadata()

	numVariants := meta.NumRecords
	numSamples := int64(len(meta.Samples))
	numContigs := int64(len(meta.Contigs))
	numFilters := int64(len(meta.Filters))

	s := &Schema{
		FormatVersion:     FormatVersion,
		VariantsChunkSize: opts.VariantsChunkSize,
		SamplesChunkSize:  opts.SamplesChunkSize,
	}

	g := generator{schema: s, numVariants: numVariants, numSamples: numSamples}

	// Identifier lookups. These are written whole, so the chunk extent
	// is the full dimension.
	g.add(ArraySpec{
		Name:       "sample_id",
		Dtype:      zarr.StringDtype(maxStringLen(meta.Samples)),
		Dimensions: []string{DimSamples},
		Shape:      []int64{numSamples},
		Chunks:     []int64{max64(numSamples, 1)},
		FillValue:  "",
	})
	contigIDs := make([]string, len(meta.Contigs))
	for i, c := range meta.Contigs {
		contigIDs[i] = c.ID
	}
	g.add(ArraySpec{
		Name:       "contig_id",
		Dtype:      zarr.StringDtype(maxStringLen(contigIDs)),
		Dimensions: []string{DimContigs},
		Shape:      []int64{numContigs},
		Chunks:     []int64{max64(numContigs, 1)},
		FillValue:  "",
	})
	g.add(ArraySpec{
		Name:       "contig_length",
		Dtype:      "<i8",
		Dimensions: []string{DimContigs},
		Shape:      []int64{numContigs},
		Chunks:     []int64{max64(numContigs, 1)},
		FillValue:  -1,
	})
	g.add(ArraySpec{
		Name:       "filter_id",
		Dtype:      zarr.StringDtype(maxStringLen(meta.Filters)),
		Dimensions: []string{DimFilters},
		Shape:      []int64{numFilters},
		Chunks:     []int64{max64(numFilters, 1)},
		FillValue:  "",
	})

	// Fixed variant arrays.
	pos := meta.Field(icf.FieldPos)
	id := meta.Field(icf.FieldID)
	ref := meta.Field(icf.FieldRef)
	alt := meta.Field(icf.FieldAlt)

	g.variants(ArraySpec{
		Name:       "variant_contig",
		Dtype:      zarr.IntDtype(0, max64(numContigs-1, 0)),
		Dimensions: []string{DimVariants},
		FillValue:  -1,
		Source:     icf.FieldChrom,
	})
	g.variants(ArraySpec{
		Name:       "variant_position",
		Dtype:      zarr.IntDtype(pos.MinValue, pos.MaxValue),
		Dimensions: []string{DimVariants},
		FillValue:  -1,
		Source:     icf.FieldPos,
	})
	g.variants(ArraySpec{
		Name:       "variant_id",
		Dtype:      zarr.StringDtype(id.MaxLen),
		Dimensions: []string{DimVariants},
		FillValue:  "",
		Source:     icf.FieldID,
	})
	g.variants(ArraySpec{
		Name:       "variant_id_mask",
		Dtype:      "|b1",
		Dimensions: []string{DimVariants},
		FillValue:  false,
		Source:     icf.FieldID,
	})

	numAlleles := int64(1 + alt.MaxNumber)
	alleleLen := ref.MaxLen
	if alt.MaxLen > alleleLen {
		alleleLen = alt.MaxLen
	}
	g.variants(ArraySpec{
		Name:       "variant_allele",
		Dtype:      zarr.StringDtype(alleleLen),
		Dimensions: []string{DimVariants, DimAlleles},
		Shape:      []int64{numVariants, numAlleles},
		Chunks:     []int64{opts.VariantsChunkSize, numAlleles},
		FillValue:  "",
		Source:     icf.FieldRef,
	})
	g.variants(ArraySpec{
		Name:       "variant_quality",
		Dtype:      "<f4",
		Dimensions: []string{DimVariants},
		FillValue:  "NaN",
		Source:     icf.FieldQual,
	})
	g.variants(ArraySpec{
		Name:       "variant_filter",
		Dtype:      "|b1",
		Dimensions: []string{DimVariants, DimFilters},
		Shape:      []int64{numVariants, numFilters},
		Chunks:     []int64{opts.VariantsChunkSize, max64(numFilters, 1)},
		FillValue:  false,
		Source:     icf.FieldFilter,
	})

	// INFO and FORMAT columns in store order.
	for _, fs := range store.Fields() {
		switch fs.Category {
		case icf.CategoryInfo:
			g.infoField(fs)
		case icf.CategoryFormat:
			if fs.Name == icf.FieldGenotype {
				g.genotype(fs, opts)
				continue
			}
			g.formatField(fs, opts)
		}
	}

	return s, nil
}

type generator struct {
	schema      *Schema
	numVariants int64
	numSamples  int64
}

func (g *generator) add(spec ArraySpec) {
	if spec.Compressor == nil {
		spec.Compressor = DefaultCompressor()
	}
	g.schema.Fields = append(g.schema.Fields, spec)
}

// variants completes shape and chunks for arrays whose leading
// dimension is variants, then adds the spec.
func (g *generator) variants(spec ArraySpec) {
	if spec.Shape == nil {
		spec.Shape = []int64{g.numVariants}
		spec.Chunks = []int64{g.schema.VariantsChunkSize}
	}
	g.add(spec)
}

func (g *generator) infoField(fs icf.FieldSchema) {
	name := "variant_" + fs.DirParts()[1]
	spec := ArraySpec{
		Name:       name,
		Dimensions: []string{DimVariants},
		Shape:      []int64{g.numVariants},
		Chunks:     []int64{g.schema.VariantsChunkSize},
		Source:     fs.Name,
	}
	g.fill(&spec, fs)
	if n := valuesDim(fs); n > 1 {
		spec.Dimensions = append(spec.Dimensions, name+"_dim")
		spec.Shape = append(spec.Shape, n)
		spec.Chunks = append(spec.Chunks, n)
	}
	g.variants(spec)
}

func (g *generator) formatField(fs icf.FieldSchema, opts Options) {
	name := "call_" + fs.DirParts()[1]
	spec := ArraySpec{
		Name:       name,
		Dimensions: []string{DimVariants, DimSamples},
		Shape:      []int64{g.numVariants, g.numSamples},
		Chunks:     []int64{g.schema.VariantsChunkSize, opts.SamplesChunkSize},
		Source:     fs.Name,
	}
	g.fill(&spec, fs)
	if n := valuesDim(fs); n > 1 {
		spec.Dimensions = append(spec.Dimensions, name+"_dim")
		spec.Shape = append(spec.Shape, n)
		spec.Chunks = append(spec.Chunks, n)
	}
	g.add(spec)
}

// genotype expands FORMAT/GT into the genotype triple: alleles,
// phasing, and the missingness mask.
func (g *generator) genotype(fs icf.FieldSchema, opts Options) {
	ploidy := int64(fs.MaxNumber)
	if ploidy < 1 {
		ploidy = 1
	}
	// The allele index range drives the dtype; -2 pads mixed-ploidy
	// calls, -1 marks missing alleles.
	alt := g.schema.Field("variant_allele")
	maxAllele := int64(0)
	if alt != nil {
		maxAllele = alt.Shape[1] - 1
	}
	g.add(ArraySpec{
		Name:       "call_genotype",
		Dtype:      zarr.IntDtype(-2, maxAllele),
		Dimensions: []string{DimVariants, DimSamples, DimPloidy},
		Shape:      []int64{g.numVariants, g.numSamples, ploidy},
		Chunks:     []int64{g.schema.VariantsChunkSize, opts.SamplesChunkSize, ploidy},
		FillValue:  -1,
		Source:     fs.Name,
	})
	g.add(ArraySpec{
		Name:       "call_genotype_phased",
		Dtype:      "|b1",
		Dimensions: []string{DimVariants, DimSamples},
		Shape:      []int64{g.numVariants, g.numSamples},
		Chunks:     []int64{g.schema.VariantsChunkSize, opts.SamplesChunkSize},
		FillValue:  false,
		Source:     fs.Name,
	})
	g.add(ArraySpec{
		Name:       "call_genotype_mask",
		Dtype:      "|b1",
		Dimensions: []string{DimVariants, DimSamples, DimPloidy},
		Shape:      []int64{g.numVariants, g.numSamples, ploidy},
		Chunks:     []int64{g.schema.VariantsChunkSize, opts.SamplesChunkSize, ploidy},
		FillValue:  false,
		Source:     fs.Name,
	})
}

// fill sets dtype and fill value from the column's observed stats.
func (g *generator) fill(spec *ArraySpec, fs icf.FieldSchema) {
	switch fs.Type {
	case icf.TypeInt:
		spec.Dtype = zarr.IntDtype(fs.MinValue, fs.MaxValue)
		spec.FillValue = -1
	case icf.TypeFloat:
		spec.Dtype = "<f4"
		spec.FillValue = "NaN"
	case icf.TypeString:
		spec.Dtype = zarr.StringDtype(fs.MaxLen)
		spec.FillValue = ""
	case icf.TypeBool:
		spec.Dtype = "|b1"
		spec.FillValue = false
	}
}

// valuesDim returns the trailing dimension extent of a multi-valued
// column, or 1 for scalars. Flags never get a values dimension.
func valuesDim(fs icf.FieldSchema) int64 {
	if fs.Type == icf.TypeBool {
		return 1
	}
	if !fs.VariableLength && fs.MaxNumber <= 1 {
		return 1
	}
	n := int64(fs.MaxNumber)
	if n < 1 {
		n = 1
	}
	return n
}

// DefaultCompressor is the codec applied to arrays that do not name
// their own.
func DefaultCompressor() *zarr.Compressor {
	return &zarr.Compressor{ID: "zstd", Level: 7}
}

func maxStringLen(ss []string) int {
	n := 1
	for _, s := range ss {
		if len(s) > n {
			n = len(s)
		}
	}
	return n
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
