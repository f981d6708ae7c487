package encoder

import (
	"context"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ajitpratap0/vcz/pkg/logger"
	"github.com/ajitpratap0/vcz/pkg/vczerrors"
)

// budget gates task admission on the summed buffer size of running
// tasks. A task larger than the whole budget is clamped to the full
// capacity, so it runs alone rather than never; chunk content is
// unaffected by the budget in every case.
type budget struct {
	sem *semaphore.Weighted
	cap int64
}

func newBudget(maxMemory int64, tasks []task) (*budget, error) {
	if maxMemory <= 0 || len(tasks) == 0 {
		return &budget{}, nil
	}

	smallest := tasks[0].weight
	largest := tasks[0].weight
	for _, t := range tasks[1:] {
		if t.weight < smallest {
			smallest = t.weight
		}
		if t.weight > largest {
			largest = t.weight
		}
	}
	if maxMemory < smallest {
		return nil, vczerrors.Newf(vczerrors.ErrorTypeResourceBudget,
			"memory budget %s is below the smallest chunk buffer %s",
			humanize.IBytes(uint64(maxMemory)), humanize.IBytes(uint64(smallest)))
	}
	if largest > maxMemory {
		logger.Get().Warn("chunk buffer exceeds memory budget, oversized tasks will run alone",
			zap.String("budget", humanize.IBytes(uint64(maxMemory))),
			zap.String("largest_chunk", humanize.IBytes(uint64(largest))))
	}
	return &budget{sem: semaphore.NewWeighted(maxMemory), cap: maxMemory}, nil
}

func (b *budget) acquire(ctx context.Context, weight int64) error {
	if b.sem == nil {
		return ctx.Err()
	}
	if weight > b.cap {
		weight = b.cap
	}
	return b.sem.Acquire(ctx, weight)
}

func (b *budget) release(weight int64) {
	if b.sem == nil {
		return
	}
	if weight > b.cap {
		weight = b.cap
	}
	b.sem.Release(weight)
}
