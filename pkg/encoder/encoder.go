// Package encoder turns a sealed intermediate store into a chunked,
// compressed array store following an encode schema. Work is split
// into independent (array, variant chunk) tasks run on a bounded
// worker pool under an optional memory budget.
package encoder

import (
	"context"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/vcz/pkg/icf"
	"github.com/ajitpratap0/vcz/pkg/logger"
	"github.com/ajitpratap0/vcz/pkg/progress"
	"github.com/ajitpratap0/vcz/pkg/schema"
	"github.com/ajitpratap0/vcz/pkg/vcf"
	"github.com/ajitpratap0/vcz/pkg/vczerrors"
	"github.com/ajitpratap0/vcz/pkg/zarr"
)

// Options configures an encode run.
type Options struct {
	// Schema overrides the generated default schema.
	Schema *schema.Schema
	// VariantsChunkSize and SamplesChunkSize feed schema generation
	// when no schema is given. Zero selects the defaults.
	VariantsChunkSize int64
	SamplesChunkSize  int64
	// MaxVariantChunks truncates the output to the first N variant
	// chunks. Zero encodes everything.
	MaxVariantChunks int
	// MaxMemory bounds the summed buffer size of concurrently running
	// tasks, in bytes. Zero means unbounded.
	MaxMemory int64
	// Workers bounds task concurrency.
	Workers int
	// Progress receives per-task progress. Nil disables reporting.
	Progress progress.Observer
}

func (o *Options) defaults() {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.Progress == nil {
		o.Progress = progress.Nop()
	}
}

// encoder carries the shared state of one encode run.
type encoder struct {
	store  *icf.Store
	schema *schema.Schema

	numVariants int64 // after MaxVariantChunks truncation
	vcs         int64
	numVChunks  int64
}

// Encode writes the encoded store at destination. The destination
// must not already exist as a group; partial output from a failed run
// must be discarded by the caller.
func Encode(ctx context.Context, store *icf.Store, destination string, opts Options) error {
	opts.defaults()

	sch := opts.Schema
	if sch == nil {
		var err error
		sch, err = schema.Generate(store, schema.Options{
			VariantsChunkSize: opts.VariantsChunkSize,
			SamplesChunkSize:  opts.SamplesChunkSize,
		})
		if err != nil {
			return err
		}
	}
	if err := validateSchema(store, sch); err != nil {
		return err
	}

	enc := &encoder{store: store, schema: sch, vcs: sch.VariantsChunkSize}
	enc.numVariants = store.NumRecords()
	enc.numVChunks = ceilDiv(enc.numVariants, enc.vcs)
	if opts.MaxVariantChunks > 0 && int64(opts.MaxVariantChunks) < enc.numVChunks {
		enc.numVChunks = int64(opts.MaxVariantChunks)
		enc.numVariants = enc.numVChunks * enc.vcs
		if enc.numVariants > store.NumRecords() {
			enc.numVariants = store.NumRecords()
		}
	}

	if err := zarr.CreateGroup(destination); err != nil {
		return err
	}

	// Create every array up front, then run the task grid.
	arrays := make(map[string]*zarr.Array, len(sch.Fields))
	var tasks []task
	for i := range sch.Fields {
		spec := &sch.Fields[i]
		meta, hasVariants := enc.arrayMeta(spec)
		arr, err := zarr.CreateArray(destination, spec.Name, meta)
		if err != nil {
			return err
		}
		arrays[spec.Name] = arr
		if !hasVariants {
			continue
		}
		weight := chunkBytes(arr.Dtype(), meta.Chunks)
		for vi := int64(0); vi < enc.numVChunks; vi++ {
			tasks = append(tasks, task{spec: spec, arr: arr, vi: vi, weight: weight})
		}
	}

	if err := enc.writeLookups(arrays); err != nil {
		return err
	}

	budget, err := newBudget(opts.MaxMemory, tasks)
	if err != nil {
		return err
	}

	opts.Progress.Begin("encode", int64(len(tasks)))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			tctx := context.WithValue(gctx, logger.FieldKey, t.spec.Name)
			if err := budget.acquire(tctx, t.weight); err != nil {
				return err
			}
			defer budget.release(t.weight)
			if err := enc.encodeTask(t); err != nil {
				return err
			}
			logger.WithContext(tctx).Debug("encoded variant chunk", zap.Int64("chunk", t.vi))
			opts.Progress.Advance(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	opts.Progress.End("encode")

	logger.Get().Info("encoded store",
		zap.String("path", destination),
		zap.Int64("variants", enc.numVariants),
		zap.Int("arrays", len(sch.Fields)))
	return nil
}

// validateSchema rejects schemas that name columns the store does not
// hold, and arrays whose variants-dimension chunking disagrees with
// the document's variants_chunk_size. The task grid is cut by the
// document-level size, so a per-array override cannot be honored.
func validateSchema(store *icf.Store, sch *schema.Schema) error {
	for i := range sch.Fields {
		spec := &sch.Fields[i]
		if len(spec.Dimensions) > 0 && spec.Dimensions[0] == schema.DimVariants &&
			len(spec.Chunks) > 0 && spec.Chunks[0] != sch.VariantsChunkSize {
			return vczerrors.Newf(vczerrors.ErrorTypeSchemaMismatch,
				"schema array %s chunks the variants dimension by %d, but variants_chunk_size is %d",
				spec.Name, spec.Chunks[0], sch.VariantsChunkSize).WithField(spec.Name)
		}
		if spec.Source == "" {
			continue
		}
		if store.Field(spec.Source) == nil {
			return vczerrors.Newf(vczerrors.ErrorTypeSchemaMismatch,
				"schema array %s names source column %s, which the store does not hold",
				spec.Name, spec.Source).WithField(spec.Source)
		}
	}
	return nil
}

// arrayMeta builds the array metadata for a spec, truncating the
// variants dimension when the run is clipped, and reports whether the
// array is chunked over variants.
func (e *encoder) arrayMeta(spec *schema.ArraySpec) (zarr.ArrayMeta, bool) {
	shape := append([]int64(nil), spec.Shape...)
	hasVariants := len(spec.Dimensions) > 0 && spec.Dimensions[0] == schema.DimVariants
	if hasVariants {
		shape[0] = e.numVariants
	}
	comp := spec.Compressor
	if comp == nil {
		comp = schema.DefaultCompressor()
	}
	return zarr.ArrayMeta{
		Shape:      shape,
		Chunks:     append([]int64(nil), spec.Chunks...),
		Dtype:      spec.Dtype,
		Compressor: comp,
		FillValue:  spec.FillValue,
	}, hasVariants
}

// writeLookups writes the identifier arrays, which have no variants
// dimension and are small enough to write in one chunk each.
func (e *encoder) writeLookups(arrays map[string]*zarr.Array) error {
	meta := e.store.Metadata()

	if err := writeStringLookup(arrays["sample_id"], meta.Samples); err != nil {
		return err
	}
	if err := writeStringLookup(arrays["filter_id"], meta.Filters); err != nil {
		return err
	}
	contigIDs := make([]string, len(meta.Contigs))
	lengths := make([]int64, len(meta.Contigs))
	for i, c := range meta.Contigs {
		contigIDs[i] = c.ID
		lengths[i] = c.Length
	}
	if err := writeStringLookup(arrays["contig_id"], contigIDs); err != nil {
		return err
	}
	if arr := arrays["contig_length"]; arr != nil && len(lengths) > 0 {
		buf := arr.NewChunkBuffer([]int64{0})
		for i, l := range lengths {
			if l == 0 {
				l = -1
			}
			buf.SetInt(i, l)
		}
		return arr.WriteChunk([]int64{0}, buf)
	}
	return nil
}

func writeStringLookup(arr *zarr.Array, values []string) error {
	if arr == nil || len(values) == 0 {
		return nil
	}
	buf := arr.NewChunkBuffer([]int64{0})
	for i, v := range values {
		buf.SetString(i, v)
	}
	return arr.WriteChunk([]int64{0}, buf)
}

type task struct {
	spec   *schema.ArraySpec
	arr    *zarr.Array
	vi     int64
	weight int64
}

// encodeTask writes every chunk of one array within one variant chunk.
func (e *encoder) encodeTask(t task) error {
	vStart := t.vi * e.vcs
	vStop := vStart + e.vcs
	if vStop > e.numVariants {
		vStop = e.numVariants
	}

	switch t.spec.Name {
	case "variant_contig":
		return e.encodeContig(t, vStart, vStop)
	case "variant_id_mask":
		return e.encodeIDMask(t, vStart, vStop)
	case "variant_allele":
		return e.encodeAllele(t, vStart, vStop)
	case "variant_filter":
		return e.encodeFilter(t, vStart, vStop)
	case "call_genotype", "call_genotype_phased", "call_genotype_mask":
		return e.encodeGenotype(t, vStart, vStop)
	}

	values, err := e.store.ReadFieldRange(t.spec.Source, vStart, vStop)
	if err != nil {
		return err
	}
	if len(t.spec.Dimensions) > 1 && t.spec.Dimensions[1] == schema.DimSamples {
		return e.encodePerSample(t, values)
	}
	return e.encodePerVariant(t, values)
}

// encodePerVariant handles 1-D and values-dimension variant arrays.
func (e *encoder) encodePerVariant(t task, values []interface{}) error {
	buf := e.newFilledBuffer(t, []int64{t.vi})
	width := trailingWidth(buf.Shape(), 1)
	for r, v := range values {
		setValue(buf, r*width, width, v)
	}
	return t.arr.WriteChunk(gridCoords(t, t.vi, 0), buf)
}

// encodePerSample handles call-level arrays, slicing the per-sample
// rows into one chunk per samples-dimension chunk.
func (e *encoder) encodePerSample(t task, values []interface{}) error {
	numSamples := int64(len(e.store.Metadata().Samples))
	scs := t.arr.Meta().Chunks[1]
	for si := int64(0); si*scs < numSamples; si++ {
		sStart := si * scs
		sStop := sStart + scs
		if sStop > numSamples {
			sStop = numSamples
		}
		buf := e.newFilledBuffer(t, []int64{t.vi, si})
		shape := buf.Shape()
		width := trailingWidth(shape, 2)
		cols := int(shape[1])
		for r, v := range values {
			row, _ := v.([]interface{})
			for s := sStart; s < sStop; s++ {
				var sv interface{}
				if int64(len(row)) > s {
					sv = row[s]
				}
				setValue(buf, (r*cols+int(s-sStart))*width, width, sv)
			}
		}
		if err := t.arr.WriteChunk(gridCoords(t, t.vi, si), buf); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) encodeContig(t task, vStart, vStop int64) error {
	values, err := e.store.ReadFieldRange(icf.FieldChrom, vStart, vStop)
	if err != nil {
		return err
	}
	meta := e.store.Metadata()
	buf := e.newFilledBuffer(t, []int64{t.vi})
	for r, v := range values {
		name, _ := v.(string)
		ix := meta.ContigIndex(name)
		if ix < 0 {
			return vczerrors.Newf(vczerrors.ErrorTypeData,
				"record names contig %q, which no header declares", name)
		}
		buf.SetInt(r, int64(ix))
	}
	return t.arr.WriteChunk([]int64{t.vi}, buf)
}

func (e *encoder) encodeIDMask(t task, vStart, vStop int64) error {
	values, err := e.store.ReadFieldRange(icf.FieldID, vStart, vStop)
	if err != nil {
		return err
	}
	buf := e.newFilledBuffer(t, []int64{t.vi})
	for r, v := range values {
		buf.SetBool(r, v == nil)
	}
	return t.arr.WriteChunk([]int64{t.vi}, buf)
}

func (e *encoder) encodeAllele(t task, vStart, vStop int64) error {
	refs, err := e.store.ReadFieldRange(icf.FieldRef, vStart, vStop)
	if err != nil {
		return err
	}
	alts, err := e.store.ReadFieldRange(icf.FieldAlt, vStart, vStop)
	if err != nil {
		return err
	}
	buf := e.newFilledBuffer(t, []int64{t.vi, 0})
	width := int(buf.Shape()[1])
	for r, v := range refs {
		ref, _ := v.(string)
		buf.SetString(r*width, ref)
		if alt, ok := alts[r].([]interface{}); ok {
			for j, av := range alt {
				if s, ok := av.(string); ok && j+1 < width {
					buf.SetString(r*width+j+1, s)
				}
			}
		}
	}
	return t.arr.WriteChunk([]int64{t.vi, 0}, buf)
}

func (e *encoder) encodeFilter(t task, vStart, vStop int64) error {
	values, err := e.store.ReadFieldRange(icf.FieldFilter, vStart, vStop)
	if err != nil {
		return err
	}
	meta := e.store.Metadata()
	buf := e.newFilledBuffer(t, []int64{t.vi, 0})
	width := int(buf.Shape()[1])
	for r, v := range values {
		names, ok := v.([]interface{})
		if !ok {
			continue
		}
		for _, nv := range names {
			name, _ := nv.(string)
			ix := meta.FilterIndex(name)
			if ix < 0 {
				return vczerrors.Newf(vczerrors.ErrorTypeData,
					"record names filter %q, which no header declares", name)
			}
			buf.SetBool(r*width+ix, true)
		}
	}
	return t.arr.WriteChunk([]int64{t.vi, 0}, buf)
}

// encodeGenotype writes one of the genotype triple arrays from the raw
// GT column. Missing alleles are -1 and short calls are padded with
// -2; the mask marks both.
func (e *encoder) encodeGenotype(t task, vStart, vStop int64) error {
	values, err := e.store.ReadFieldRange(icf.FieldGenotype, vStart, vStop)
	if err != nil {
		return err
	}
	numSamples := int64(len(e.store.Metadata().Samples))
	scs := t.arr.Meta().Chunks[1]
	shape := t.arr.Meta().Shape
	ploidy := 1
	if len(shape) > 2 {
		ploidy = int(shape[2])
	}

	for si := int64(0); si*scs < numSamples; si++ {
		sStart := si * scs
		sStop := sStart + scs
		if sStop > numSamples {
			sStop = numSamples
		}
		buf := e.newFilledBuffer(t, gridCoords(t, t.vi, si)[:2])
		cols := int(buf.Shape()[1])
		for r, v := range values {
			row, _ := v.([]interface{})
			for s := sStart; s < sStop; s++ {
				var gtRaw string
				if int64(len(row)) > s {
					gtRaw, _ = row[s].(string)
				}
				if err := e.setGenotype(t.spec.Name, buf, (r*cols+int(s-sStart))*ploidy, r*cols+int(s-sStart), ploidy, gtRaw); err != nil {
					return err
				}
			}
		}
		if err := t.arr.WriteChunk(gridCoords(t, t.vi, si), buf); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) setGenotype(name string, buf *zarr.Buffer, base, flat, ploidy int, raw string) error {
	var alleles []int
	var phased bool
	if raw != "" {
		g, err := vcf.ParseGenotype(raw)
		if err != nil {
			return vczerrors.Wrap(err, vczerrors.ErrorTypeData,
				"invalid genotype in column").WithField(icf.FieldGenotype)
		}
		alleles = g.Alleles
		phased = g.Phased
	}

	switch name {
	case "call_genotype":
		for p := 0; p < ploidy; p++ {
			v := int64(-1)
			if p < len(alleles) {
				v = int64(alleles[p])
			} else if len(alleles) > 0 {
				v = -2
			}
			buf.SetInt(base+p, v)
		}
	case "call_genotype_phased":
		buf.SetBool(flat, phased)
	case "call_genotype_mask":
		for p := 0; p < ploidy; p++ {
			missing := true
			if p < len(alleles) {
				missing = alleles[p] < 0
			}
			buf.SetBool(base+p, missing)
		}
	}
	return nil
}

// newFilledBuffer allocates the chunk buffer at the grid coordinates
// and pre-fills it with the array's fill value.
func (e *encoder) newFilledBuffer(t task, grid []int64) *zarr.Buffer {
	// Trailing dimensions are chunked at full extent; their grid
	// coordinate is always zero.
	coords := make([]int64, len(t.arr.Meta().Shape))
	copy(coords, grid)
	buf := t.arr.NewChunkBuffer(coords)

	switch t.arr.Dtype().Kind {
	case zarr.KindInt:
		buf.FillInt(fillInt(t.spec.FillValue))
	case zarr.KindFloat:
		buf.FillFloat(fillFloat(t.spec.FillValue))
	}
	return buf
}

// setValue writes one column value (scalar or list) into width slots
// starting at base. Nil leaves the fill value in place.
func setValue(buf *zarr.Buffer, base, width int, v interface{}) {
	if v == nil {
		return
	}
	if list, ok := v.([]interface{}); ok {
		for j, ev := range list {
			if j >= width {
				break
			}
			setScalar(buf, base+j, ev)
		}
		return
	}
	setScalar(buf, base, v)
}

func setScalar(buf *zarr.Buffer, i int, v interface{}) {
	switch vv := v.(type) {
	case int64:
		buf.SetInt(i, vv)
	case float64:
		buf.SetFloat(i, vv)
	case string:
		buf.SetString(i, vv)
	case bool:
		buf.SetBool(i, vv)
	}
}

// gridCoords builds the chunk grid coordinates for a task: variants,
// optional samples, and zeroed trailing dimensions.
func gridCoords(t task, vi, si int64) []int64 {
	coords := make([]int64, len(t.arr.Meta().Shape))
	coords[0] = vi
	if len(coords) > 1 && len(t.spec.Dimensions) > 1 && t.spec.Dimensions[1] == schema.DimSamples {
		coords[1] = si
	}
	return coords
}

// trailingWidth multiplies the chunk extents after the first skip
// dimensions, giving the per-row slot count.
func trailingWidth(shape []int64, skip int) int {
	w := 1
	for _, s := range shape[skip:] {
		w *= int(s)
	}
	return w
}

func fillInt(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return -1
}

func fillFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return math.NaN()
}

func chunkBytes(dt zarr.Dtype, chunks []int64) int64 {
	n := int64(dt.Size)
	for _, c := range chunks {
		n *= c
	}
	return n
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
