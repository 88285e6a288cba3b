package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeInactive struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (f *fakeInactive) Inactive(context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids, f.err
}

func (f *fakeInactive) set(ids []uuid.UUID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids, f.err = ids, err
}

func TestTenantSuspensions(t *testing.T) {
	ctx := context.Background()
	suspendedID, activeID := uuid.New(), uuid.New()

	source := &fakeInactive{ids: []uuid.UUID{suspendedID}}
	ts := NewTenantSuspensions(ctx, source, time.Hour)
	defer ts.Stop()

	require.True(t, ts.IsSuspended(ctx, suspendedID))
	require.False(t, ts.IsSuspended(ctx, activeID))

	t.Run("refresh replaces the set", func(t *testing.T) {
		source.set([]uuid.UUID{activeID}, nil)
		require.NoError(t, ts.Refresh(ctx))

		require.False(t, ts.IsSuspended(ctx, suspendedID))
		require.True(t, ts.IsSuspended(ctx, activeID))
	})

	t.Run("failed refresh keeps the previous set", func(t *testing.T) {
		source.set(nil, errors.New("database unavailable"))
		require.Error(t, ts.Refresh(ctx))
		require.True(t, ts.IsSuspended(ctx, activeID))
	})
}

func TestTenantSuspensionsPolls(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	source := &fakeInactive{}
	ts := NewTenantSuspensions(ctx, source, 10*time.Millisecond)
	defer ts.Stop()

	require.False(t, ts.IsSuspended(ctx, id))

	source.set([]uuid.UUID{id}, nil)
	require.Eventually(t, func() bool { return ts.IsSuspended(ctx, id) }, time.Second, 10*time.Millisecond)
}
