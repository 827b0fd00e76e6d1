package snipe

import (
	"context"
	"time"
)

// sweepResult counts what one sweeper tick removed.
type sweepResult struct {
	evicted       int
	timedOutAcks  int
	cacheExpired  int
	limitersFreed int
}

// runSweeper evicts expired state every sweep_interval until ctx ends.
// Interval changes take effect after the next tick.
func (m *Module) runSweeper(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	interval := m.currentSettings().SweepInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
			if next := m.currentSettings().SweepInterval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (m *Module) sweep(ctx context.Context) sweepResult {
	now := m.now()
	settings := m.currentSettings()

	result := sweepResult{
		evicted:       m.store.Sweep(now, settings.MaxAge),
		timedOutAcks:  m.confirmations.prune(now),
		cacheExpired:  m.cache.Prune(),
		limitersFreed: m.limiter.prune(now),
	}
	m.metrics.swept(result.evicted, m.store.Len(), m.confirmations.len())

	if result.evicted > 0 || result.timedOutAcks > 0 {
		m.logger.DebugContext(ctx,
			"snipe sweep",
			"module", m.Name(),
			"evicted", result.evicted,
			"timed_out_confirmations", result.timedOutAcks,
			"cache_expired", result.cacheExpired,
		)
	}

	return result
}
