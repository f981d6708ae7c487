// Package convert runs the two conversion stages back to back: the
// sources are exploded into a temporary intermediate store, encoded,
// and the staging store removed. Equivalent to explode followed by
// encode, with no tuning of the intermediate layout.
package convert

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/ajitpratap0/vcz/pkg/encoder"
	"github.com/ajitpratap0/vcz/pkg/icf"
	"github.com/ajitpratap0/vcz/pkg/logger"
	"github.com/ajitpratap0/vcz/pkg/progress"
	"github.com/ajitpratap0/vcz/pkg/vczerrors"
)

// Options configures a direct conversion.
type Options struct {
	// Workers bounds concurrency in both stages.
	Workers int
	// VariantsChunkSize and SamplesChunkSize feed schema generation.
	// Zero selects the defaults.
	VariantsChunkSize int64
	SamplesChunkSize  int64
	// Progress receives stage progress. Nil disables reporting.
	Progress progress.Observer
}

// Convert explodes the sources into a temporary staging store and
// encodes it at destination.
func Convert(ctx context.Context, sources []string, destination string, opts Options) error {
	staging, err := os.MkdirTemp("", "vcz-staging-*")
	if err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to create staging directory")
	}
	defer os.RemoveAll(staging)
	logger.Get().Debug("staging intermediate store", zap.String("path", staging))

	// MkdirTemp creates the directory, but explode wants to lay down
	// its own plan there.
	if err := os.Remove(staging); err != nil {
		return vczerrors.Wrap(err, vczerrors.ErrorTypeIO, "failed to reset staging directory")
	}

	if err := icf.Explode(ctx, sources, staging, icf.ExplodeOptions{
		Workers:  opts.Workers,
		Progress: opts.Progress,
	}); err != nil {
		return err
	}

	store, err := icf.OpenStore(staging)
	if err != nil {
		return err
	}
	return encoder.Encode(ctx, store, destination, encoder.Options{
		Workers:           opts.Workers,
		VariantsChunkSize: opts.VariantsChunkSize,
		SamplesChunkSize:  opts.SamplesChunkSize,
		Progress:          opts.Progress,
	})
}
