package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// InactiveTenantSource lists the ids of deactivated tenants.
type InactiveTenantSource interface {
	Inactive(ctx context.Context) ([]uuid.UUID, error)
}

// TenantSuspensions implements SuspensionChecker by periodically polling for
// deactivated tenants, so tokens of a suspended tenant stop working within one
// refresh interval without a lookup per request.
type TenantSuspensions struct {
	source InactiveTenantSource

	mu              sync.RWMutex
	suspended       map[uuid.UUID]bool
	refreshInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ SuspensionChecker = (*TenantSuspensions)(nil)

// NewTenantSuspensions loads the suspended set and starts a background
// goroutine refreshing it every refreshInterval until Stop is called.
func NewTenantSuspensions(ctx context.Context, source InactiveTenantSource, refreshInterval time.Duration) *TenantSuspensions {
	pollCtx, cancel := context.WithCancel(ctx)

	ts := &TenantSuspensions{
		source:          source,
		suspended:       make(map[uuid.UUID]bool),
		refreshInterval: refreshInterval,
		ctx:             pollCtx,
		cancel:          cancel,
	}

	if err := ts.Refresh(ctx); err != nil {
		log.Error().Err(err).Msg("Initial tenant suspension refresh failed")
	}

	ts.wg.Add(1)
	go ts.refreshLoop()

	return ts
}

// IsSuspended reports whether tenantID was inactive at the last refresh.
func (ts *TenantSuspensions) IsSuspended(_ context.Context, tenantID uuid.UUID) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	return ts.suspended[tenantID]
}

// Stop gracefully stops the background refresh goroutine.
func (ts *TenantSuspensions) Stop() {
	ts.cancel()
	ts.wg.Wait()
}

func (ts *TenantSuspensions) refreshLoop() {
	defer ts.wg.Done()

	ticker := time.NewTicker(ts.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ts.ctx.Done():
			log.Info().Msg("Tenant suspension poller stopped")
			return

		case <-ticker.C:
			if err := ts.Refresh(ts.ctx); err != nil {
				log.Error().Err(err).Msg("Failed to refresh tenant suspensions")
			}
		}
	}
}

// Refresh replaces the suspended set with the current inactive tenants. On
// error the previous set is kept.
func (ts *TenantSuspensions) Refresh(ctx context.Context) error {
	ids, err := ts.source.Inactive(ctx)
	if err != nil {
		return err
	}

	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}

	ts.mu.Lock()
	ts.suspended = set
	ts.mu.Unlock()

	log.Debug().Int("count", len(set)).Msg("Refreshed tenant suspensions")
	return nil
}
