package encoder

import (
	"context"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/vcz/pkg/icf"
	"github.com/ajitpratap0/vcz/pkg/progress"
	"github.com/ajitpratap0/vcz/pkg/schema"
	"github.com/ajitpratap0/vcz/pkg/testutil"
	"github.com/ajitpratap0/vcz/pkg/vcf"
	"github.com/ajitpratap0/vcz/pkg/vczerrors"
	"github.com/ajitpratap0/vcz/pkg/zarr"
)

func testStore(t *testing.T, n int) *icf.Store {
	t.Helper()
	dir := t.TempDir()
	src := testutil.WriteVCF(t, dir, n)
	idx, err := vcf.BuildIndex(src, 10)
	require.NoError(t, err)
	require.NoError(t, idx.Save(src))

	dest := filepath.Join(dir, "store.icf")
	require.NoError(t, icf.Explode(context.Background(), []string{src}, dest, icf.ExplodeOptions{Workers: 2}))
	store, err := icf.OpenStore(dest)
	require.NoError(t, err)
	return store
}

func openArray(t *testing.T, group, name string) *zarr.Array {
	t.Helper()
	arr, err := zarr.OpenArray(filepath.Join(group, name))
	require.NoError(t, err)
	return arr
}

func TestEncode(t *testing.T) {
	store := testStore(t, 60)
	dest := filepath.Join(t.TempDir(), "out.vcz")

	obs := &progress.Count{}
	require.NoError(t, Encode(context.Background(), store, dest, Options{
		Workers:           4,
		VariantsChunkSize: 25,
		Progress:          obs,
	}))
	require.True(t, zarr.IsGroup(dest))
	assert.Greater(t, obs.Done.Load(), int64(0))
	assert.Equal(t, obs.Total.Load(), obs.Done.Load())

	pos := openArray(t, dest, "variant_position")
	assert.Equal(t, []int64{60}, pos.Meta().Shape)
	buf, err := pos.ReadChunk([]int64{1})
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		assert.Equal(t, int64(100+(25+i)*10), buf.Int(i))
	}
	// Final partial chunk.
	buf, err = pos.ReadChunk([]int64{2})
	require.NoError(t, err)
	assert.Equal(t, 10, buf.Len())

	contig := openArray(t, dest, "variant_contig")
	buf, err = contig.ReadChunk([]int64{0})
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		assert.Equal(t, int64(i%2), buf.Int(i))
	}

	idMask := openArray(t, dest, "variant_id_mask")
	buf, err = idMask.ReadChunk([]int64{0})
	require.NoError(t, err)
	assert.False(t, buf.Bool(0))
	assert.True(t, buf.Bool(1))

	allele := openArray(t, dest, "variant_allele")
	buf, err = allele.ReadChunk([]int64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, "A", buf.String(buf.Index(0, 0)))
	assert.Equal(t, "T", buf.String(buf.Index(0, 1)))
	assert.Equal(t, "C", buf.String(buf.Index(0, 2))) // multi-allelic site
	assert.Equal(t, "T", buf.String(buf.Index(1, 1)))
	assert.Equal(t, "", buf.String(buf.Index(1, 2)))

	qual := openArray(t, dest, "variant_quality")
	buf, err = qual.ReadChunk([]int64{0})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(buf.Float(0))) // no quality at i%7 == 0
	assert.InDelta(t, 21.5, buf.Float(1), 1e-4)

	filter := openArray(t, dest, "variant_filter")
	buf, err = filter.ReadChunk([]int64{0, 0})
	require.NoError(t, err)
	assert.False(t, buf.Bool(buf.Index(0, 0)))
	assert.True(t, buf.Bool(buf.Index(0, 1))) // q10 at i%11 == 0
	assert.True(t, buf.Bool(buf.Index(1, 0))) // PASS
	assert.False(t, buf.Bool(buf.Index(1, 1)))
	assert.False(t, buf.Bool(buf.Index(11, 0)))
	assert.True(t, buf.Bool(buf.Index(11, 1)))

	dp := openArray(t, dest, "call_DP")
	buf, err = dp.ReadChunk([]int64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, int64(5), buf.Int(buf.Index(0, 0)))
	assert.Equal(t, int64(8), buf.Int(buf.Index(0, 1)))

	sid := openArray(t, dest, "sample_id")
	buf, err = sid.ReadChunk([]int64{0})
	require.NoError(t, err)
	assert.Equal(t, "s0", buf.String(0))
	assert.Equal(t, "s1", buf.String(1))

	clen := openArray(t, dest, "contig_length")
	buf, err = clen.ReadChunk([]int64{0})
	require.NoError(t, err)
	assert.Equal(t, int64(248956422), buf.Int(0))
	assert.Equal(t, int64(242193529), buf.Int(1))
}

func TestEncodeGenotypes(t *testing.T) {
	store := testStore(t, 30)
	dest := filepath.Join(t.TempDir(), "out.vcz")
	require.NoError(t, Encode(context.Background(), store, dest, Options{
		Workers:           2,
		VariantsChunkSize: 30,
	}))

	gt := openArray(t, dest, "call_genotype")
	require.Equal(t, []int64{30, 2, 3}, gt.Meta().Shape)
	buf, err := gt.ReadChunk([]int64{0, 0, 0})
	require.NoError(t, err)

	// i=0, s0 "0/1": padded to triploid with -2.
	assert.Equal(t, int64(0), buf.Int(buf.Index(0, 0, 0)))
	assert.Equal(t, int64(1), buf.Int(buf.Index(0, 0, 1)))
	assert.Equal(t, int64(-2), buf.Int(buf.Index(0, 0, 2)))
	// i=2, s0 "./.": missing alleles.
	assert.Equal(t, int64(-1), buf.Int(buf.Index(2, 0, 0)))
	assert.Equal(t, int64(-1), buf.Int(buf.Index(2, 0, 1)))
	assert.Equal(t, int64(-2), buf.Int(buf.Index(2, 0, 2)))
	// i=3, s0 "0/1/1": full triploid call.
	assert.Equal(t, int64(0), buf.Int(buf.Index(3, 0, 0)))
	assert.Equal(t, int64(1), buf.Int(buf.Index(3, 0, 1)))
	assert.Equal(t, int64(1), buf.Int(buf.Index(3, 0, 2)))
	// s1 is always "0|0".
	assert.Equal(t, int64(0), buf.Int(buf.Index(5, 1, 0)))
	assert.Equal(t, int64(0), buf.Int(buf.Index(5, 1, 1)))
	assert.Equal(t, int64(-2), buf.Int(buf.Index(5, 1, 2)))

	phased := openArray(t, dest, "call_genotype_phased")
	buf, err = phased.ReadChunk([]int64{0, 0})
	require.NoError(t, err)
	assert.False(t, buf.Bool(buf.Index(0, 0)))
	assert.True(t, buf.Bool(buf.Index(0, 1))) // s1 "0|0"
	assert.True(t, buf.Bool(buf.Index(1, 0))) // i%6 == 1 is "1|1"

	mask := openArray(t, dest, "call_genotype_mask")
	buf, err = mask.ReadChunk([]int64{0, 0, 0})
	require.NoError(t, err)
	assert.False(t, buf.Bool(buf.Index(0, 0, 0)))
	assert.True(t, buf.Bool(buf.Index(0, 0, 2))) // pad slot
	assert.True(t, buf.Bool(buf.Index(2, 0, 0))) // missing call
	assert.False(t, buf.Bool(buf.Index(3, 0, 2)))
}

func TestSetGenotypeRejectsMalformedCall(t *testing.T) {
	dt, err := zarr.ParseDtype("<i1")
	require.NoError(t, err)
	buf := zarr.NewBuffer(dt, []int64{1, 1, 2})

	e := &encoder{}
	err = e.setGenotype("call_genotype", buf, 0, 0, 2, "0/x")
	require.Error(t, err)
	assert.True(t, vczerrors.IsType(err, vczerrors.ErrorTypeData))
}

// treeBytes reads every chunk file under a group keyed by relative path.
func treeBytes(t *testing.T, root string) map[string][]byte {
	t.Helper()
	out := map[string][]byte{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[rel] = data
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestEncodeMaxMemoryInvariant(t *testing.T) {
	store := testStore(t, 50)
	base := t.TempDir()

	free := filepath.Join(base, "free.vcz")
	require.NoError(t, Encode(context.Background(), store, free, Options{
		Workers:           4,
		VariantsChunkSize: 20,
		SamplesChunkSize:  1,
	}))

	bounded := filepath.Join(base, "bounded.vcz")
	require.NoError(t, Encode(context.Background(), store, bounded, Options{
		Workers:           4,
		VariantsChunkSize: 20,
		SamplesChunkSize:  1,
		MaxMemory:         1 << 20,
	}))

	assert.Equal(t, treeBytes(t, free), treeBytes(t, bounded))
}

func TestEncodeMaxVariantChunksPrefix(t *testing.T) {
	store := testStore(t, 60)
	base := t.TempDir()

	full := filepath.Join(base, "full.vcz")
	require.NoError(t, Encode(context.Background(), store, full, Options{
		Workers:           2,
		VariantsChunkSize: 20,
	}))

	clipped := filepath.Join(base, "clipped.vcz")
	require.NoError(t, Encode(context.Background(), store, clipped, Options{
		Workers:           2,
		VariantsChunkSize: 20,
		MaxVariantChunks:  2,
	}))

	pos := openArray(t, clipped, "variant_position")
	assert.Equal(t, []int64{40}, pos.Meta().Shape)

	// Chunks within the clipped range are byte-identical to the full
	// encode's.
	for _, name := range []string{"variant_position", "call_genotype", "variant_allele", "variant_DP"} {
		fullArr := openArray(t, full, name)
		clipArr := openArray(t, clipped, name)
		for vi := int64(0); vi < 2; vi++ {
			coords := make([]int64, len(fullArr.Meta().Shape))
			coords[0] = vi
			a, err := fullArr.ReadChunk(coords)
			require.NoError(t, err)
			b, err := clipArr.ReadChunk(coords)
			require.NoError(t, err)
			aRaw, err := a.Encode()
			require.NoError(t, err)
			bRaw, err := b.Encode()
			require.NoError(t, err)
			assert.Equal(t, aRaw, bRaw, "%s chunk %d", name, vi)
		}
	}
}

func TestEncodeCustomSchema(t *testing.T) {
	store := testStore(t, 40)
	sch, err := schema.Generate(store, schema.Options{VariantsChunkSize: 10})
	require.NoError(t, err)

	// Drop the per-call DP array and re-type positions.
	kept := sch.Fields[:0]
	for _, f := range sch.Fields {
		if f.Name == "call_DP" {
			continue
		}
		if f.Name == "variant_position" {
			f.Dtype = "<i8"
		}
		kept = append(kept, f)
	}
	sch.Fields = kept

	dest := filepath.Join(t.TempDir(), "out.vcz")
	require.NoError(t, Encode(context.Background(), store, dest, Options{
		Workers: 2,
		Schema:  sch,
	}))

	_, err = os.Stat(filepath.Join(dest, "call_DP"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, "<i8", openArray(t, dest, "variant_position").Meta().Dtype)
}

func TestEncodeChunkSizeDisagreement(t *testing.T) {
	store := testStore(t, 20)
	sch, err := schema.Generate(store, schema.Options{VariantsChunkSize: 20})
	require.NoError(t, err)
	sch.Field("variant_position").Chunks = []int64{10}

	err = Encode(context.Background(), store, filepath.Join(t.TempDir(), "out.vcz"), Options{Schema: sch})
	assert.True(t, vczerrors.IsType(err, vczerrors.ErrorTypeSchemaMismatch))
}

func TestEncodeSchemaMismatch(t *testing.T) {
	store := testStore(t, 20)
	sch, err := schema.Generate(store, schema.Options{})
	require.NoError(t, err)
	sch.Field("variant_DP").Source = "INFO/NOPE"

	err = Encode(context.Background(), store, filepath.Join(t.TempDir(), "out.vcz"), Options{Schema: sch})
	assert.True(t, vczerrors.IsType(err, vczerrors.ErrorTypeSchemaMismatch))
}

func TestEncodeBudgetTooSmall(t *testing.T) {
	store := testStore(t, 20)
	err := Encode(context.Background(), store, filepath.Join(t.TempDir(), "out.vcz"), Options{
		Workers:   2,
		MaxMemory: 4,
	})
	assert.True(t, vczerrors.IsType(err, vczerrors.ErrorTypeResourceBudget))
}
