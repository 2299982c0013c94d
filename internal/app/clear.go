package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// CacheClearer drops every cached lookup.
type CacheClearer interface {
	ClearCaches()
}

// RunCacheClearer clears the caches every interval until ctx is done. A
// non-positive interval returns immediately.
func RunCacheClearer(ctx context.Context, clock clockwork.Clock, interval time.Duration, caches CacheClearer, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			caches.ClearCaches()
			logger.Debug("enrichment caches cleared", "interval", interval)
		}
	}
}
