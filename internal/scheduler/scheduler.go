// Package scheduler runs the periodic background jobs on cron schedules.
// A job whose previous run is still in progress is skipped.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/olly-social/olly/internal/logger"
	"github.com/olly-social/olly/internal/metrics"
)

type JobFunc func(ctx context.Context) error

type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	stop context.CancelFunc
	jobs int
}

// cronLogger adapts the global zap logger to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Log.Debugw(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Log.Errorw(msg, append(keysAndValues, zap.Error(err))...)
}

type InitOption func(*[]cron.Option)

// WithLocation evaluates schedules in loc instead of the local time zone.
func WithLocation(loc *time.Location) InitOption {
	return func(options *[]cron.Option) {
		*options = append(*options, cron.WithLocation(loc))
	}
}

func New(opts ...InitOption) *Scheduler {
	options := []cron.Option{
		cron.WithLogger(cronLogger{}),
		cron.WithChain(
			cron.Recover(cronLogger{}),
			cron.SkipIfStillRunning(cronLogger{}),
		),
	}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, stop := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(options...),
		ctx:  ctx,
		stop: stop,
	}
}

// Add registers job under name. An empty schedule leaves the job disabled.
func (s *Scheduler) Add(name, schedule string, job JobFunc) error {
	if schedule == "" {
		logger.Log.Infow("scheduled job disabled", "job", name)
		return nil
	}

	_, err := s.cron.AddFunc(schedule, func() {
		s.runJob(name, job)
	})
	if err != nil {
		return fmt.Errorf("in internal/scheduler/scheduler.go/Add(): error while `s.cron.AddFunc()` calling for %s: %w", name, err)
	}

	s.jobs++
	logger.Log.Infow("scheduled job registered", "job", name, "schedule", schedule)

	return nil
}

func (s *Scheduler) runJob(name string, job JobFunc) {
	start := time.Now()
	err := job(s.ctx)
	metrics.RecordJobRun(name, time.Since(start), err == nil)

	if err != nil {
		logger.Log.Errorw("scheduled job failed", "job", name, zap.Error(err))
		return
	}
	logger.Log.Infow("scheduled job finished", "job", name, "duration", time.Since(start))
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	return s.jobs
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels the context handed to running jobs and waits for them to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stop()
	done := s.cron.Stop()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
