package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/vcz/pkg/convert"
	"github.com/ajitpratap0/vcz/pkg/encoder"
	"github.com/ajitpratap0/vcz/pkg/icf"
	"github.com/ajitpratap0/vcz/pkg/logger"
	"github.com/ajitpratap0/vcz/pkg/progress"
	"github.com/ajitpratap0/vcz/pkg/schema"
	"github.com/ajitpratap0/vcz/pkg/vcf"
)

var version = "0.1.0"

func main() {
	var logLevel string
	var quiet bool

	root := &cobra.Command{
		Use:   "vcz",
		Short: "Convert VCF files to chunked columnar array stores",
		Long: `vcz converts VCF variant data into a chunked, compressed columnar
array store, staging through an intermediate columnar format that can
be built in parallel or distributed across machines.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetContext(context.WithValue(cmd.Context(), logger.CommandKey, cmd.Name()))
			return logger.Init(logger.Config{Level: logLevel, Encoding: "console"})
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "Q", false, "suppress progress reporting")

	observer := func() progress.Observer {
		if quiet {
			return progress.Nop()
		}
		return progress.NewLogger(logger.Get(), time.Second)
	}

	root.AddCommand(
		explodeCmd(observer),
		dexplodeInitCmd(),
		dexplodePartitionCmd(observer),
		dexplodeFinaliseCmd(),
		mkschemaCmd(),
		encodeCmd(observer),
		convertCmd(observer),
		inspectCmd(),
		indexCmd(),
		partitionCmd(),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func explodeCmd(observer func() progress.Observer) *cobra.Command {
	var workers, partitions int
	var chunkMiB int64
	var force bool

	cmd := &cobra.Command{
		Use:   "explode <vcf>... <icf-store>",
		Short: "Convert VCF files into an intermediate columnar store",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, dest := args[:len(args)-1], args[len(args)-1]
			if err := prepareDest(dest, force); err != nil {
				return err
			}
			return icf.Explode(cmd.Context(), sources, dest, icf.ExplodeOptions{
				Workers:          workers,
				TargetPartitions: partitions,
				ColumnChunkSize:  chunkMiB << 20,
				Progress:         observer(),
			})
		},
	}
	cmd.Flags().IntVarP(&workers, "worker-processes", "p", runtime.NumCPU(), "number of conversion workers")
	cmd.Flags().IntVarP(&partitions, "num-partitions", "n", 0, "target partition count (default: worker count)")
	cmd.Flags().Int64VarP(&chunkMiB, "column-chunk-size", "c", 64, "approximate uncompressed column chunk size in MiB")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing destination")
	return cmd
}

func dexplodeInitCmd() *cobra.Command {
	var partitions int
	var chunkMiB int64
	var force bool

	cmd := &cobra.Command{
		Use:   "dexplode-init <vcf>... <icf-store>",
		Short: "Plan a distributed explode and initialize the store",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, dest := args[:len(args)-1], args[len(args)-1]
			if err := prepareDest(dest, force); err != nil {
				return err
			}
			n, err := icf.ExplodeInit(dest, sources, partitions, chunkMiB<<20)
			if err != nil {
				return err
			}
			// The achieved count drives the dexplode-partition fan-out.
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	cmd.Flags().IntVarP(&partitions, "num-partitions", "n", 1, "target partition count")
	cmd.Flags().Int64VarP(&chunkMiB, "column-chunk-size", "c", 64, "approximate uncompressed column chunk size in MiB")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing destination")
	return cmd
}

func dexplodePartitionCmd(observer func() progress.Observer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dexplode-partition <icf-store> <partition>",
		Short: "Convert one planned partition of a distributed explode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("partition must be an integer: %q", args[1])
			}
			return icf.ExplodePartition(cmd.Context(), args[0], index, observer())
		},
	}
	return cmd
}

func dexplodeFinaliseCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "dexplode-finalise <icf-store>",
		Aliases: []string{"dexplode-finalize"},
		Short:   "Verify all partitions completed and seal the store",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return icf.ExplodeFinalise(args[0])
		},
	}
}

func mkschemaCmd() *cobra.Command {
	var variantsChunk, samplesChunk int64

	cmd := &cobra.Command{
		Use:   "mkschema <icf-store>",
		Short: "Print the default encode schema for a store",
		Long: `Print the default encode schema for a sealed intermediate store on
standard output. Edit the document and pass it to encode --schema to
control dtypes, chunk sizes, and the encoded field set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := icf.OpenStore(args[0])
			if err != nil {
				return err
			}
			sch, err := schema.Generate(store, schema.Options{
				VariantsChunkSize: variantsChunk,
				SamplesChunkSize:  samplesChunk,
			})
			if err != nil {
				return err
			}
			return sch.Write(cmd.OutOrStdout())
		},
	}
	cmd.Flags().Int64VarP(&variantsChunk, "variants-chunk-size", "l", 0, "chunk size on the variants dimension")
	cmd.Flags().Int64VarP(&samplesChunk, "samples-chunk-size", "w", 0, "chunk size on the samples dimension")
	return cmd
}

func encodeCmd(observer func() progress.Observer) *cobra.Command {
	var workers, maxVariantChunks int
	var variantsChunk, samplesChunk int64
	var schemaPath, maxMemory string
	var force bool

	cmd := &cobra.Command{
		Use:   "encode <icf-store> <array-store>",
		Short: "Encode an intermediate store into a chunked array store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, dest := args[0], args[1]
			if err := prepareDest(dest, force); err != nil {
				return err
			}
			store, err := icf.OpenStore(src)
			if err != nil {
				return err
			}

			opts := encoder.Options{
				Workers:           workers,
				VariantsChunkSize: variantsChunk,
				SamplesChunkSize:  samplesChunk,
				MaxVariantChunks:  maxVariantChunks,
				Progress:          observer(),
			}
			if schemaPath != "" {
				if opts.Schema, err = schema.Load(schemaPath); err != nil {
					return err
				}
			}
			if maxMemory != "" {
				budget, err := humanize.ParseBytes(maxMemory)
				if err != nil {
					return fmt.Errorf("invalid --max-memory %q: %w", maxMemory, err)
				}
				opts.MaxMemory = int64(budget)
			} else if vm, err := mem.VirtualMemory(); err == nil {
				logger.Get().Info("no memory budget set",
					zap.String("available", humanize.IBytes(vm.Available)))
			}

			return encoder.Encode(cmd.Context(), store, dest, opts)
		},
	}
	cmd.Flags().IntVarP(&workers, "worker-processes", "p", runtime.NumCPU(), "number of encode workers")
	cmd.Flags().Int64VarP(&variantsChunk, "variants-chunk-size", "l", 0, "chunk size on the variants dimension")
	cmd.Flags().Int64VarP(&samplesChunk, "samples-chunk-size", "w", 0, "chunk size on the samples dimension")
	cmd.Flags().IntVarP(&maxVariantChunks, "max-variant-chunks", "V", 0, "encode at most this many variant chunks")
	cmd.Flags().StringVarP(&maxMemory, "max-memory", "M", "", "bound the memory of concurrent encode tasks (e.g. 4GiB)")
	cmd.Flags().StringVarP(&schemaPath, "schema", "s", "", "encode schema file (default: generated)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing destination")
	return cmd
}

func convertCmd(observer func() progress.Observer) *cobra.Command {
	var workers int
	var variantsChunk, samplesChunk int64
	var force bool

	cmd := &cobra.Command{
		Use:   "convert <vcf>... <array-store>",
		Short: "Convert VCF files directly into a chunked array store",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, dest := args[:len(args)-1], args[len(args)-1]
			if err := prepareDest(dest, force); err != nil {
				return err
			}
			return convert.Convert(cmd.Context(), sources, dest, convert.Options{
				Workers:           workers,
				VariantsChunkSize: variantsChunk,
				SamplesChunkSize:  samplesChunk,
				Progress:          observer(),
			})
		},
	}
	cmd.Flags().IntVarP(&workers, "worker-processes", "p", runtime.NumCPU(), "number of workers")
	cmd.Flags().Int64VarP(&variantsChunk, "variants-chunk-size", "l", 0, "chunk size on the variants dimension")
	cmd.Flags().Int64VarP(&samplesChunk, "samples-chunk-size", "w", 0, "chunk size on the samples dimension")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing destination")
	return cmd
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <store>",
		Short: "Report per-column storage statistics for a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := icf.Inspect(args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "name\ttype\tchunks\tsize\tstored\tratio\tdetail")
			for _, r := range rows {
				detail := r.Extra
				if r.Shape != "" {
					detail = r.Shape
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%.2f\t%s\n",
					r.Name, r.Type, r.Chunks,
					humanize.IBytes(uint64(r.Size)), humanize.IBytes(uint64(r.Stored)),
					r.Ratio(), detail)
			}
			return w.Flush()
		},
	}
}

func indexCmd() *cobra.Command {
	var interval int64

	cmd := &cobra.Command{
		Use:   "index <vcf>",
		Short: "Build the companion index used to partition a VCF file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := vcf.BuildIndex(args[0], interval)
			if err != nil {
				return err
			}
			if err := idx.Save(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s%s: %d records, %d checkpoints\n",
				args[0], vcf.IndexSuffix, idx.Records, len(idx.Checkpoints))
			return nil
		},
	}
	cmd.Flags().Int64Var(&interval, "interval", vcf.DefaultCheckpointInterval, "records between checkpoints")
	return cmd
}

func partitionCmd() *cobra.Command {
	var numParts int

	cmd := &cobra.Command{
		Use:   "partition <vcf>",
		Short: "Show how an indexed VCF file would be partitioned",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := vcf.LoadIndex(args[0])
			if err != nil {
				return err
			}
			parts, err := vcf.PartitionInto(idx, args[0], numParts)
			if err != nil {
				return err
			}
			for _, p := range parts {
				fmt.Fprintln(cmd.OutOrStdout(), p.String())
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&numParts, "num-partitions", "n", 1, "target partition count")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vcz v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// prepareDest applies the overwrite policy: an existing destination is
// refused unless forced, in which case it is renamed aside before
// deletion so a crash mid-delete cannot leave a half-removed store
// that looks valid.
func prepareDest(path string, force bool) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if !force {
		return fmt.Errorf("%s already exists; use --force to overwrite", path)
	}
	deleting := fmt.Sprintf("%s.%d.DELETING", path, os.Getpid())
	if err := os.Rename(path, deleting); err != nil {
		return fmt.Errorf("failed to displace %s: %w", path, err)
	}
	return os.RemoveAll(deleting)
}
