package icf

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/vcz/pkg/progress"
	"github.com/ajitpratap0/vcz/pkg/testutil"
	"github.com/ajitpratap0/vcz/pkg/vcf"
	"github.com/ajitpratap0/vcz/pkg/vczerrors"
)

// indexedVCF writes a synthetic file and its companion index with a
// checkpoint interval fine enough to partition freely.
func indexedVCF(t *testing.T, dir string, n int) string {
	t.Helper()
	path := testutil.WriteVCF(t, dir, n)
	idx, err := vcf.BuildIndex(path, 10)
	require.NoError(t, err)
	require.NoError(t, idx.Save(path))
	return path
}

func positions(t *testing.T, store *Store) []int64 {
	t.Helper()
	values, err := store.ReadField(FieldPos)
	require.NoError(t, err)
	out := make([]int64, len(values))
	for i, v := range values {
		p, ok := v.(int64)
		require.True(t, ok, "position %d is %T", i, v)
		out[i] = p
	}
	return out
}

func TestExplodeSingleProcess(t *testing.T) {
	dir := t.TempDir()
	src := indexedVCF(t, dir, 200)
	dest := filepath.Join(dir, "store.icf")

	obs := &progress.Count{}
	err := Explode(context.Background(), []string{src}, dest, ExplodeOptions{
		Workers:  4,
		Progress: obs,
	})
	require.NoError(t, err)

	store, err := OpenStore(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(200), store.NumRecords())
	assert.Equal(t, int64(200), obs.Done.Load())
	assert.True(t, len(store.Metadata().Partitions) > 1)

	pos := positions(t, store)
	require.Len(t, pos, 200)
	for i, p := range pos {
		assert.Equal(t, int64(100+i*10), p)
	}
}

func TestExplodeUnindexedSource(t *testing.T) {
	dir := t.TempDir()
	src := testutil.WriteVCF(t, dir, 50)
	dest := filepath.Join(dir, "store.icf")

	require.NoError(t, Explode(context.Background(), []string{src}, dest, ExplodeOptions{Workers: 4}))

	store, err := OpenStore(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(50), store.NumRecords())
	assert.Len(t, store.Metadata().Partitions, 1)
}

func TestExplodeRejectsMalformedGenotype(t *testing.T) {
	dir := t.TempDir()
	body := testutil.Header +
		"chr1\t100\t.\tA\tT\t30\tPASS\tDP=10\tGT:DP\t0/x:5\t0|0:8\n"
	src := filepath.Join(dir, "bad.vcf")
	require.NoError(t, os.WriteFile(src, []byte(body), 0o644))

	err := Explode(context.Background(), []string{src}, filepath.Join(dir, "store.icf"), ExplodeOptions{Workers: 1})
	require.Error(t, err)
	assert.True(t, vczerrors.IsType(err, vczerrors.ErrorTypeData))
}

func TestExplodeGzipSource(t *testing.T) {
	dir := t.TempDir()
	src := testutil.WriteVCFGz(t, dir, 40)
	dest := filepath.Join(dir, "store.icf")

	require.NoError(t, Explode(context.Background(), []string{src}, dest, ExplodeOptions{}))

	store, err := OpenStore(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(40), store.NumRecords())
}

func TestDistributedMatchesSingleProcess(t *testing.T) {
	dir := t.TempDir()
	src := indexedVCF(t, dir, 120)

	single := filepath.Join(dir, "single.icf")
	require.NoError(t, Explode(context.Background(), []string{src}, single, ExplodeOptions{
		Workers:          2,
		TargetPartitions: 3,
	}))

	dist := filepath.Join(dir, "dist.icf")
	n, err := ExplodeInit(dist, []string{src}, 3, DefaultColumnChunkSize)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, ExplodePartition(context.Background(), dist, i, nil))
	}
	require.NoError(t, ExplodeFinalise(dist))

	s1, err := OpenStore(single)
	require.NoError(t, err)
	s2, err := OpenStore(dist)
	require.NoError(t, err)

	assert.Equal(t, s1.NumRecords(), s2.NumRecords())
	assert.Equal(t, positions(t, s1), positions(t, s2))
	for _, fs := range s1.Fields() {
		v1, err := s1.ReadField(fs.Name)
		require.NoError(t, err)
		v2, err := s2.ReadField(fs.Name)
		require.NoError(t, err)
		assert.Equal(t, v1, v2, fs.Name)
	}
}

func TestExplodeInitAlreadyInitialized(t *testing.T) {
	dir := t.TempDir()
	src := indexedVCF(t, dir, 30)
	dest := filepath.Join(dir, "store.icf")

	_, err := ExplodeInit(dest, []string{src}, 2, 0)
	require.NoError(t, err)
	_, err = ExplodeInit(dest, []string{src}, 2, 0)
	assert.True(t, vczerrors.IsType(err, vczerrors.ErrorTypeAlreadyInitialized))
}

func TestFinaliseReportsMissingPartitions(t *testing.T) {
	dir := t.TempDir()
	src := indexedVCF(t, dir, 1000)
	dest := filepath.Join(dir, "store.icf")

	n, err := ExplodeInit(dest, []string{src}, 4, DefaultColumnChunkSize)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	require.NoError(t, ExplodePartition(context.Background(), dest, 0, nil))
	require.NoError(t, ExplodePartition(context.Background(), dest, 2, nil))

	err = ExplodeFinalise(dest)
	require.Error(t, err)
	assert.True(t, vczerrors.IsType(err, vczerrors.ErrorTypeIncompletePartition))
	assert.Equal(t, []int{1, 3}, vczerrors.MissingPartitions(err))

	// Running the missing partitions makes a second finalise succeed.
	require.NoError(t, ExplodePartition(context.Background(), dest, 1, nil))
	require.NoError(t, ExplodePartition(context.Background(), dest, 3, nil))
	require.NoError(t, ExplodeFinalise(dest))

	store, err := OpenStore(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), store.NumRecords())
}

func TestExplodePartitionIdempotent(t *testing.T) {
	dir := t.TempDir()
	src := indexedVCF(t, dir, 100)
	dest := filepath.Join(dir, "store.icf")

	n, err := ExplodeInit(dest, []string{src}, 2, DefaultColumnChunkSize)
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		require.NoError(t, ExplodePartition(context.Background(), dest, i, nil))
	}
	// A retried partition supersedes its previous output entirely.
	require.NoError(t, ExplodePartition(context.Background(), dest, 0, nil))
	require.NoError(t, ExplodeFinalise(dest))

	store, err := OpenStore(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(100), store.NumRecords())
	pos := positions(t, store)
	for i, p := range pos {
		assert.Equal(t, int64(100+i*10), p)
	}
}

func TestExplodePartitionIndexOutOfRange(t *testing.T) {
	dir := t.TempDir()
	src := indexedVCF(t, dir, 20)
	dest := filepath.Join(dir, "store.icf")

	n, err := ExplodeInit(dest, []string{src}, 2, 0)
	require.NoError(t, err)

	err = ExplodePartition(context.Background(), dest, n, nil)
	assert.True(t, vczerrors.IsType(err, vczerrors.ErrorTypePlanning))
	err = ExplodePartition(context.Background(), dest, -1, nil)
	assert.True(t, vczerrors.IsType(err, vczerrors.ErrorTypePlanning))
}

func TestFinaliseRejectsSealedStore(t *testing.T) {
	dir := t.TempDir()
	src := indexedVCF(t, dir, 20)
	dest := filepath.Join(dir, "store.icf")

	require.NoError(t, Explode(context.Background(), []string{src}, dest, ExplodeOptions{}))
	err := ExplodeFinalise(dest)
	assert.True(t, vczerrors.IsType(err, vczerrors.ErrorTypeInitialization))
}

func TestOpenStoreRequiresSeal(t *testing.T) {
	dir := t.TempDir()
	src := indexedVCF(t, dir, 20)
	dest := filepath.Join(dir, "store.icf")

	_, err := ExplodeInit(dest, []string{src}, 1, 0)
	require.NoError(t, err)
	_, err = OpenStore(dest)
	assert.True(t, vczerrors.IsType(err, vczerrors.ErrorTypeInitialization))

	_, err = OpenStore(filepath.Join(dir, "nowhere"))
	assert.True(t, vczerrors.IsType(err, vczerrors.ErrorTypeInitialization))
}

func TestColumnChunkBound(t *testing.T) {
	dir := t.TempDir()
	src := indexedVCF(t, dir, 300)
	dest := filepath.Join(dir, "store.icf")

	// A tiny bound forces many chunks per column.
	require.NoError(t, Explode(context.Background(), []string{src}, dest, ExplodeOptions{
		TargetPartitions: 1,
		ColumnChunkSize:  256,
	}))

	store, err := OpenStore(dest)
	require.NoError(t, err)
	ps := store.Summaries()[0]
	posSum := ps.Fields[FieldPos]
	assert.Greater(t, posSum.NumChunks, 1)

	var total int64
	for _, n := range posSum.ChunkRecords {
		total += n
	}
	assert.Equal(t, ps.Records, total)

	// Chunked storage must not change what is read back.
	pos := positions(t, store)
	require.Len(t, pos, 300)
	for i, p := range pos {
		assert.Equal(t, int64(100+i*10), p)
	}
}

func TestReadFieldRange(t *testing.T) {
	dir := t.TempDir()
	src := indexedVCF(t, dir, 150)
	dest := filepath.Join(dir, "store.icf")

	require.NoError(t, Explode(context.Background(), []string{src}, dest, ExplodeOptions{
		Workers:         2,
		ColumnChunkSize: 512,
	}))

	store, err := OpenStore(dest)
	require.NoError(t, err)
	full, err := store.ReadField(FieldPos)
	require.NoError(t, err)

	for _, r := range [][2]int64{{0, 150}, {0, 1}, {149, 150}, {37, 118}, {50, 50}} {
		got, err := store.ReadFieldRange(FieldPos, r[0], r[1])
		require.NoError(t, err)
		assert.Equal(t, full[r[0]:r[1]], append([]interface{}{}, got...), "range %v", r)
	}

	_, err = store.ReadFieldRange(FieldPos, -1, 10)
	assert.Error(t, err)
	_, err = store.ReadFieldRange(FieldPos, 0, 151)
	assert.Error(t, err)
	_, err = store.ReadFieldRange("INFO/NOPE", 0, 1)
	assert.True(t, vczerrors.IsType(err, vczerrors.ErrorTypeSchemaMismatch))
}

func TestFieldValues(t *testing.T) {
	dir := t.TempDir()
	src := indexedVCF(t, dir, 60)
	dest := filepath.Join(dir, "store.icf")

	require.NoError(t, Explode(context.Background(), []string{src}, dest, ExplodeOptions{Workers: 2}))
	store, err := OpenStore(dest)
	require.NoError(t, err)

	ids, err := store.ReadField(FieldID)
	require.NoError(t, err)
	assert.Equal(t, "rs1000", ids[0])
	assert.Nil(t, ids[1])

	quals, err := store.ReadField(FieldQual)
	require.NoError(t, err)
	assert.Nil(t, quals[0]) // i%7 == 0 has no quality
	assert.InDelta(t, 21.5, quals[1].(float64), 1e-6)

	alts, err := store.ReadField(FieldAlt)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"T", "C"}, alts[0])
	assert.Equal(t, []interface{}{"T"}, alts[1])

	flags, err := store.ReadField("INFO/DB")
	require.NoError(t, err)
	assert.Equal(t, true, flags[0])
	assert.Equal(t, false, flags[1])

	dp, err := store.ReadField("FORMAT/DP")
	require.NoError(t, err)
	row, ok := dp[0].([]interface{})
	require.True(t, ok)
	require.Len(t, row, 2)
	assert.Equal(t, int64(5), row[0])
	assert.Equal(t, int64(8), row[1])

	gt, err := store.ReadField(FieldGenotype)
	require.NoError(t, err)
	row, ok = gt[2].([]interface{})
	require.True(t, ok)
	assert.Equal(t, "./.", row[0])
	assert.Equal(t, "0|0", row[1])

	gtField := store.Field(FieldGenotype)
	require.NotNil(t, gtField)
	assert.Equal(t, 3, gtField.MaxNumber) // i%6 == 3 is triploid
}

func TestExplodeMultipleSources(t *testing.T) {
	dir := t.TempDir()
	aDir := filepath.Join(dir, "a")
	bDir := filepath.Join(dir, "b")
	require.NoError(t, os.Mkdir(aDir, 0o755))
	require.NoError(t, os.Mkdir(bDir, 0o755))
	a := indexedVCF(t, aDir, 40)
	b := indexedVCF(t, bDir, 25)
	dest := filepath.Join(dir, "store.icf")

	require.NoError(t, Explode(context.Background(), []string{a, b}, dest, ExplodeOptions{Workers: 3}))

	store, err := OpenStore(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(65), store.NumRecords())

	pos := positions(t, store)
	assert.Equal(t, int64(100), pos[0])
	assert.Equal(t, int64(100), pos[40]) // second source restarts
}

func TestInspectStore(t *testing.T) {
	dir := t.TempDir()
	src := indexedVCF(t, dir, 80)
	dest := filepath.Join(dir, "store.icf")
	require.NoError(t, Explode(context.Background(), []string{src}, dest, ExplodeOptions{Workers: 2}))

	rows, err := Inspect(dest)
	require.NoError(t, err)

	byName := map[string]InspectRow{}
	for _, r := range rows {
		byName[r.Name] = r
	}
	pos, ok := byName[FieldPos]
	require.True(t, ok)
	assert.Equal(t, "int", pos.Type)
	assert.Greater(t, pos.Stored, int64(0))
	assert.Greater(t, pos.Size, pos.Stored)
	assert.Contains(t, pos.Extra, "max=")

	_, err = Inspect(dir)
	assert.Error(t, err)
}
