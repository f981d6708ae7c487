package icf

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/vcz/pkg/logger"
	"github.com/ajitpratap0/vcz/pkg/progress"
	"github.com/ajitpratap0/vcz/pkg/vcf"
	"github.com/ajitpratap0/vcz/pkg/vczerrors"
)

// DefaultColumnChunkSize is the approximate uncompressed bound of one
// column chunk: 64 MiB, matching the conversion tool's CLI default.
const DefaultColumnChunkSize = 64 << 20

// ExplodeOptions configures an explode run.
type ExplodeOptions struct {
	// Workers bounds the number of partitions converted concurrently.
	Workers int
	// ColumnChunkSize is the approximate uncompressed bound of one
	// column chunk in bytes. Zero selects DefaultColumnChunkSize.
	ColumnChunkSize int64
	// TargetPartitions requests a partition count for the plan. Zero
	// derives it from Workers.
	TargetPartitions int
	// Progress receives record-level progress. Nil disables reporting.
	Progress progress.Observer
}

func (o *ExplodeOptions) defaults() {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.ColumnChunkSize <= 0 {
		o.ColumnChunkSize = DefaultColumnChunkSize
	}
	if o.Progress == nil {
		o.Progress = progress.Nop()
	}
}

// ExplodeInit computes the partition plan for the sources and persists
// it (with placeholder field schemas) at destination, creating the
// directory if needed. It returns the achieved partition count, which
// drives subsequent ExplodePartition calls. Fails if destination
// already holds a plan.
func ExplodeInit(destination string, sources []string, targetNumPartitions int, columnChunkSize int64) (int, error) {
	if targetNumPartitions < 1 {
		return 0, vczerrors.Newf(vczerrors.ErrorTypePlanning,
			"target_num_partitions must be >= 1, got %d", targetNumPartitions)
	}
	if len(sources) == 0 {
		return 0, vczerrors.New(vczerrors.ErrorTypePlanning, "no sources given")
	}
	if targetNumPartitions < len(sources) {
		return 0, vczerrors.Newf(vczerrors.ErrorTypePlanning,
			"target_num_partitions %d is below the number of sources %d",
			targetNumPartitions, len(sources))
	}
	if columnChunkSize <= 0 {
		columnChunkSize = DefaultColumnChunkSize
	}

	if _, err := os.Stat(filepath.Join(destination, MetadataFile)); err == nil {
		return 0, vczerrors.New(vczerrors.ErrorTypeAlreadyInitialized,
			"destination already holds a partition plan").WithDetail("path", destination)
	}
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return 0, vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to create destination")
	}

	meta, err := planMetadata(sources, targetNumPartitions, columnChunkSize)
	if err != nil {
		return 0, err
	}
	if err := meta.Save(destination); err != nil {
		return 0, err
	}

	logger.Get().Info("initialized store",
		zap.String("path", destination),
		zap.Int("partitions", len(meta.Partitions)),
		zap.Int("fields", len(meta.Fields)))
	return len(meta.Partitions), nil
}

// planMetadata derives the unsealed global metadata: merged header
// information plus the partition plan.
func planMetadata(sources []string, target int, columnChunkSize int64) (*Metadata, error) {
	meta := &Metadata{
		FormatVersion:   FormatVersion,
		Provenance:      newProvenance(),
		ColumnChunkSize: columnChunkSize,
	}

	type sourceInfo struct {
		path  string
		index *vcf.Index // nil when unindexed
	}
	var infos []sourceInfo
	var indexedBytes int64

	for i, path := range sources {
		r, err := vcf.Open(path)
		if err != nil {
			return nil, err
		}
		h := r.Header()
		r.Close()

		if i == 0 {
			meta.Samples = h.Samples
		} else if !sameSamples(meta.Samples, h.Samples) {
			return nil, vczerrors.Newf(vczerrors.ErrorTypeSchemaAgreement,
				"source %s declares a different sample set", path)
		}
		if err := mergeHeader(meta, h); err != nil {
			return nil, vczerrors.Wrap(err, vczerrors.ErrorTypeSchemaAgreement, path)
		}

		info := sourceInfo{path: path}
		if idx, err := vcf.LoadIndex(path); err == nil {
			info.index = idx
			indexedBytes += idx.Bytes - idx.HeaderBytes
		} else if !vczerrors.IsType(err, vczerrors.ErrorTypeInvalidIndex) {
			return nil, err
		}
		infos = append(infos, info)
	}

	// Distribute the partition budget over indexed sources by byte
	// share; unindexed sources are always a single whole-file partition.
	var unindexed int
	for _, info := range infos {
		if info.index == nil {
			unindexed++
		}
	}
	budget := target - unindexed

	for _, info := range infos {
		if info.index == nil {
			p := vcf.WholeFilePartition(info.path)
			p.Index = len(meta.Partitions)
			meta.Partitions = append(meta.Partitions, p)
			continue
		}
		share := 1
		if indexedBytes > 0 && budget > 0 {
			share = int(int64(budget) * (info.index.Bytes - info.index.HeaderBytes) / indexedBytes)
			if share < 1 {
				share = 1
			}
		}
		parts, err := vcf.PartitionInto(info.index, info.path, share)
		if err != nil {
			return nil, err
		}
		for _, p := range parts {
			p.Index = len(meta.Partitions)
			meta.Partitions = append(meta.Partitions, p)
		}
	}

	return meta, nil
}

// mergeHeader folds one source header into the plan: contigs, filters
// and fields merge as ordered unions, with identity agreement enforced
// for fields.
func mergeHeader(meta *Metadata, h *vcf.Header) error {
	for _, c := range h.Contigs {
		if meta.ContigIndex(c.ID) < 0 {
			meta.Contigs = append(meta.Contigs, c)
		}
	}
	for _, f := range h.Filters {
		if meta.FilterIndex(f.ID) < 0 {
			meta.Filters = append(meta.Filters, f.ID)
		}
	}

	fields, err := fieldsFromHeader(h)
	if err != nil {
		return err
	}
	for _, fs := range fields {
		existing := meta.Field(fs.Name)
		if existing == nil {
			meta.Fields = append(meta.Fields, fs)
			continue
		}
		if !existing.identityEquals(&fs) {
			return vczerrors.Newf(vczerrors.ErrorTypeSchemaAgreement,
				"conflicting declarations for field %s", fs.Name).WithField(fs.Name)
		}
	}
	return nil
}

func sameSamples(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ExplodePartition converts the partition at index into column chunks
// under destination. It is idempotent: the output is staged in a
// working directory and swapped in with a rename, so a rerun safely
// supersedes a previous (possibly partial) attempt. Partitions are
// fully independent of each other and may run on different machines.
func ExplodePartition(ctx context.Context, destination string, index int, obs progress.Observer) error {
	if obs == nil {
		obs = progress.Nop()
	}

	meta, err := LoadMetadata(destination)
	if err != nil {
		return err
	}
	if meta.Sealed {
		return vczerrors.New(vczerrors.ErrorTypeInitialization,
			"store is already finalised").WithDetail("path", destination)
	}
	if index < 0 || index >= len(meta.Partitions) {
		return vczerrors.Newf(vczerrors.ErrorTypePlanning,
			"partition index %d out of range [0, %d)", index, len(meta.Partitions)).
			WithPartition(index)
	}
	part := meta.Partitions[index]

	ctx = context.WithValue(ctx, logger.PartitionKey, index)
	log := logger.WithContext(ctx).With(zap.String("source", part.Path))
	log.Debug("exploding partition",
		zap.Int64("start_offset", part.StartOffset),
		zap.Int64("end_offset", part.EndOffset))

	var r *vcf.Reader
	if part.StartOffset == 0 && part.EndOffset == 0 {
		r, err = vcf.Open(part.Path)
	} else {
		r, err = vcf.OpenRange(part.Path, part.StartOffset, part.EndOffset)
	}
	if err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to open partition source").
			WithPartition(index)
	}
	defer r.Close()

	wipDir := filepath.Join(destination, "wip-"+partitionDirName(index)+"-"+uuid.NewString())
	if err := os.MkdirAll(wipDir, 0o755); err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to create working directory")
	}
	// Abandoned working directories from killed attempts are never
	// picked up by the commit below.
	defer os.RemoveAll(wipDir)

	pw, err := newPartitionWriter(meta, r.Header(), wipDir)
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return vczerrors.Wrap(err, vczerrors.ErrorTypeData, "failed to read record").
				WithPartition(index)
		}
		if err := pw.writeRecord(rec); err != nil {
			return vczerrors.Wrap(err, vczerrors.ErrorTypeData, "failed to stage record").
				WithPartition(index)
		}
		obs.Advance(1)
	}

	summary, err := pw.finish(index)
	if err != nil {
		return err
	}
	if err := summary.save(wipDir); err != nil {
		return err
	}

	if err := commitPartition(wipDir, filepath.Join(destination, partitionDirName(index))); err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to commit partition").
			WithPartition(index)
	}

	log.Debug("partition complete", zap.Int64("records", summary.Records))
	return nil
}

// commitPartition swaps the completed working directory into place.
// A previous output is renamed aside before deletion so a crash
// mid-delete cannot be mistaken for a valid partition.
func commitPartition(wipDir, finalDir string) error {
	if _, err := os.Stat(finalDir); err == nil {
		deleting := finalDir + ".DELETING"
		os.RemoveAll(deleting)
		if err := os.Rename(finalDir, deleting); err != nil {
			return err
		}
		if err := os.RemoveAll(deleting); err != nil {
			return err
		}
	}
	return os.Rename(wipDir, finalDir)
}

// ExplodeFinalise verifies that every planned partition completed,
// checks cross-partition field schema agreement, merges the global
// metadata and seals the store. After sealing the store is read-only.
func ExplodeFinalise(destination string) error {
	meta, err := LoadMetadata(destination)
	if err != nil {
		return err
	}
	if meta.Sealed {
		return vczerrors.New(vczerrors.ErrorTypeInitialization,
			"store is already finalised").WithDetail("path", destination)
	}

	summaries := make([]*PartitionSummary, len(meta.Partitions))
	var missing []int
	for i := range meta.Partitions {
		ps, err := loadSummary(filepath.Join(destination, partitionDirName(i)))
		if err != nil {
			missing = append(missing, i)
			continue
		}
		summaries[i] = ps
	}
	if len(missing) > 0 {
		return vczerrors.NewIncompletePartition(missing)
	}

	// Merge field schemas: identity must agree everywhere; observed
	// stats fold together.
	merged := make([]FieldSchema, len(meta.Fields))
	for fi := range meta.Fields {
		name := meta.Fields[fi].Name
		var acc *FieldSchema
		for pi, ps := range summaries {
			fsum, ok := ps.Fields[name]
			if !ok {
				return vczerrors.Newf(vczerrors.ErrorTypeSchemaAgreement,
					"partition %d did not write field %s", pi, name).
					WithPartition(pi).WithField(name)
			}
			if acc == nil {
				s := fsum.Schema
				acc = &s
				continue
			}
			if !acc.identityEquals(&fsum.Schema) {
				return vczerrors.Newf(vczerrors.ErrorTypeSchemaAgreement,
					"partition %d disagrees on field %s", pi, name).
					WithPartition(pi).WithField(name)
			}
			acc.mergeStats(&fsum.Schema)
		}
		merged[fi] = *acc
	}
	meta.Fields = merged

	var total int64
	for i, ps := range summaries {
		meta.Partitions[i].Records = ps.Records
		total += ps.Records
	}
	meta.NumRecords = total
	meta.Sealed = true

	if err := meta.Save(destination); err != nil {
		return err
	}
	logger.Get().Info("sealed store",
		zap.String("path", destination),
		zap.Int64("records", total),
		zap.Int("partitions", len(meta.Partitions)))
	return nil
}

// Explode converts the sources into a sealed ICF store at destination
// in a single process: partition, convert each partition on a bounded
// worker pool, then finalise. Any worker failure aborts the whole
// operation, leaving an unsealed destination that must be discarded.
func Explode(ctx context.Context, sources []string, destination string, opts ExplodeOptions) error {
	opts.defaults()

	target := opts.TargetPartitions
	if target == 0 {
		target = opts.Workers
	}
	if target < len(sources) {
		target = len(sources)
	}

	numPartitions, err := ExplodeInit(destination, sources, target, opts.ColumnChunkSize)
	if err != nil {
		return err
	}

	meta, err := LoadMetadata(destination)
	if err != nil {
		return err
	}
	var totalRecords int64 = -1
	if known := plannedRecords(meta); known >= 0 {
		totalRecords = known
	}
	opts.Progress.Begin("explode", totalRecords)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := 0; i < numPartitions; i++ {
		i := i
		g.Go(func() error {
			return ExplodePartition(gctx, destination, i, opts.Progress)
		})
	}
	// Completion barrier: the coordinator merges global state only
	// after every worker has finished.
	if err := g.Wait(); err != nil {
		return err
	}

	if err := ExplodeFinalise(destination); err != nil {
		return err
	}
	opts.Progress.End("explode")
	return nil
}

// plannedRecords sums the plan's record counts, or -1 when any
// partition's count is unknown (unindexed source).
func plannedRecords(meta *Metadata) int64 {
	var total int64
	for _, p := range meta.Partitions {
		if p.Records == 0 && p.EndOffset == 0 && p.StartOffset == 0 {
			return -1
		}
		total += p.Records
	}
	return total
}
