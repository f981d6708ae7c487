package convert

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/vcz/pkg/encoder"
	"github.com/ajitpratap0/vcz/pkg/icf"
	"github.com/ajitpratap0/vcz/pkg/testutil"
	"github.com/ajitpratap0/vcz/pkg/vcf"
	"github.com/ajitpratap0/vcz/pkg/zarr"
)

func TestConvertMatchesTwoStepPipeline(t *testing.T) {
	dir := t.TempDir()
	src := testutil.WriteVCF(t, dir, 80)
	idx, err := vcf.BuildIndex(src, 10)
	require.NoError(t, err)
	require.NoError(t, idx.Save(src))

	direct := filepath.Join(dir, "direct.vcz")
	require.NoError(t, Convert(context.Background(), []string{src}, direct, Options{
		Workers:           2,
		VariantsChunkSize: 30,
	}))

	staged := filepath.Join(dir, "staged.icf")
	require.NoError(t, icf.Explode(context.Background(), []string{src}, staged, icf.ExplodeOptions{Workers: 2}))
	store, err := icf.OpenStore(staged)
	require.NoError(t, err)
	twoStep := filepath.Join(dir, "twostep.vcz")
	require.NoError(t, encoder.Encode(context.Background(), store, twoStep, encoder.Options{
		Workers:           2,
		VariantsChunkSize: 30,
	}))

	assert.Equal(t, groupBytes(t, twoStep), groupBytes(t, direct))
}

func TestConvertCleansStaging(t *testing.T) {
	dir := t.TempDir()
	src := testutil.WriteVCF(t, dir, 20)
	dest := filepath.Join(dir, "out.vcz")

	require.NoError(t, Convert(context.Background(), []string{src}, dest, Options{Workers: 1}))
	require.True(t, zarr.IsGroup(dest))

	// The temporary intermediate store is gone.
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "vcz-staging-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func groupBytes(t *testing.T, root string) map[string][]byte {
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
