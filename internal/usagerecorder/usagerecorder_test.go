package usagerecorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olly-social/olly/internal/logger"
	"github.com/olly-social/olly/internal/models"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error"); err != nil {
		panic(err)
	}
	m.Run()
}

type fakeSaver struct {
	mu      sync.Mutex
	batches [][]models.APIUsage
	fail    int
}

func (s *fakeSaver) SaveAPIUsages(ctx context.Context, usages []models.APIUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail > 0 {
		s.fail--
		return errors.New("database is down")
	}
	s.batches = append(s.batches, append([]models.APIUsage(nil), usages...))

	return nil
}

func (s *fakeSaver) saved() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, batch := range s.batches {
		total += len(batch)
	}

	return total
}

func TestRecorderFlushesOnTick(t *testing.T) {
	saver := &fakeSaver{}
	recorder := New(saver, 10, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recorder.Run(ctx)

	recorder.EnqueueUsage(&models.APIUsage{APIKey: "k", Content: "c", Prompt: "p", Platform: "reddit"})
	recorder.EnqueueUsage(&models.APIUsage{APIKey: "k", Content: "c2", Prompt: "p2", Platform: "reddit"})

	assert.Eventually(t, func() bool { return saver.saved() == 2 }, time.Second, 5*time.Millisecond)
}

func TestRecorderRetriesAfterFailure(t *testing.T) {
	saver := &fakeSaver{fail: 1}
	recorder := New(saver, 10, 10*time.Millisecond)
	errs := make(chan error, 1)
	recorder.ListenErrors(func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recorder.Run(ctx)

	recorder.EnqueueUsage(&models.APIUsage{APIKey: "k"})

	select {
	case err := <-errs:
		assert.EqualError(t, err, "database is down")
	case <-time.After(time.Second):
		t.Fatal("error was not reported")
	}
	assert.Eventually(t, func() bool { return saver.saved() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRecorderFlushesOnStop(t *testing.T) {
	saver := &fakeSaver{}
	recorder := New(saver, 10, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	recorder.Run(ctx)

	usage := &models.APIUsage{APIKey: "k"}
	recorder.EnqueueUsage(usage)
	assert.False(t, usage.CreatedAt.IsZero())
	cancel()

	select {
	case <-recorder.Done():
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop")
	}
	require.Equal(t, 1, saver.saved())
}
