// Package usagerecorder batches API usage rows and writes them on a timer so
// that request handlers never wait on the usage table.
package usagerecorder

import (
	"context"
	"time"

	"github.com/olly-social/olly/internal/logger"
	"github.com/olly-social/olly/internal/models"
)

type usageSaver interface {
	SaveAPIUsages(ctx context.Context, usages []models.APIUsage) error
}

type UsageRecorder struct {
	queue         chan *models.APIUsage
	db            usageSaver
	flushInterval time.Duration
	errorChannel  chan error
	done          chan struct{}
}

func New(
	db usageSaver,
	channelCapacity int,
	flushInterval time.Duration,
) *UsageRecorder {
	return &UsageRecorder{
		db:            db,
		queue:         make(chan *models.APIUsage, channelCapacity),
		flushInterval: flushInterval,
		errorChannel:  make(chan error, channelCapacity),
		done:          make(chan struct{}),
	}
}

func (r *UsageRecorder) ListenErrors(callback func(error)) {
	go func() {
		for err := range r.errorChannel {
			callback(err)
		}
	}()
}

// Run starts the flush loop. When ctx is cancelled the pending rows are
// written one last time and Done is closed.
func (r *UsageRecorder) Run(ctx context.Context) {
	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.flushInterval)
		defer ticker.Stop()

		var usages []models.APIUsage

		for {
			select {
			case usage := <-r.queue:
				usages = append(usages, *usage)
			case <-ticker.C:
				usages = r.flush(context.Background(), usages)
			case <-ctx.Done():
				for {
					select {
					case usage := <-r.queue:
						usages = append(usages, *usage)
					default:
						r.flush(context.Background(), usages)
						return
					}
				}
			}
		}
	}()
}

// Done is closed once Run has written the last batch.
func (r *UsageRecorder) Done() <-chan struct{} {
	return r.done
}

// flush writes usages and returns what is still pending.
func (r *UsageRecorder) flush(ctx context.Context, usages []models.APIUsage) []models.APIUsage {
	if len(usages) == 0 {
		return usages
	}

	if err := r.db.SaveAPIUsages(ctx, usages); err != nil {
		select {
		case r.errorChannel <- err:
		default:
		}
		return usages
	}
	logger.Log.Infof("recorded %d API usages", len(usages))

	return nil
}

// EnqueueUsage stamps usage when needed and queues it for the next flush.
func (r *UsageRecorder) EnqueueUsage(usage *models.APIUsage) {
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now()
	}
	r.queue <- usage
}
