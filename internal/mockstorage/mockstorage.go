// Package mockstorage provides a testify-based mock of the storage
// operations the HTTP router depends on.
package mockstorage

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/olly-social/olly/internal/models"
)

// StorageMock simulates the health check and the operator counters.
type StorageMock struct {
	mock.Mock

	// OnGetInternalStats, when set, replaces the testify bookkeeping of
	// GetInternalStats.
	OnGetInternalStats func(ctx context.Context) (*models.InternalStats, error)
}

func (m *StorageMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *StorageMock) GetInternalStats(ctx context.Context) (*models.InternalStats, error) {
	if m.OnGetInternalStats != nil {
		return m.OnGetInternalStats(ctx)
	}

	args := m.Called(ctx)
	stats, _ := args.Get(0).(*models.InternalStats)
	return stats, args.Error(1)
}
