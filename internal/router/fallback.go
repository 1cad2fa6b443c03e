package router

import (
	"context"
	"time"
)

// ConfigureFallback changes the reconciliation sweep interval. Zero
// disables the sweep. If the router is in bus mode with a loop already
// running, the loop is restarted so the new interval takes effect
// immediately rather than after one more old-interval sleep.
func (r *Router) ConfigureFallback(interval time.Duration) {
	if interval < 0 {
		interval = 0
	}

	r.transitionMu.Lock()
	defer r.transitionMu.Unlock()

	r.mu.Lock()
	r.fallbackInterval = interval
	busMode := r.mode == ModeBus
	r.mu.Unlock()

	r.logger.Info("fallback sync configured", "interval", interval)

	if busMode {
		r.stopFallbackLoop()
		r.startFallbackLoop()
	}
}

// startFallbackLoop launches the periodic reconciliation goroutine. A
// zero interval means the loop is not started. Any previous loop must be
// stopped first.
func (r *Router) startFallbackLoop() {
	r.mu.Lock()
	interval := r.fallbackInterval
	baseCtx := r.baseCtx
	if interval <= 0 || r.fallbackDone != nil {
		r.mu.Unlock()
		return
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	loopCtx, cancel := context.WithCancel(baseCtx)
	r.fallbackCancel = cancel
	r.fallbackDone = make(chan struct{})
	done := r.fallbackDone
	r.mu.Unlock()

	r.logger.Info("fallback sync loop started", "interval", interval)

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				r.runFallbackSweep(loopCtx)
			}
		}
	}()
}

// stopFallbackLoop cancels the reconciliation goroutine and waits for it
// to exit. Safe to call when no loop is running.
func (r *Router) stopFallbackLoop() {
	r.mu.Lock()
	cancel := r.fallbackCancel
	done := r.fallbackDone
	r.fallbackCancel = nil
	r.fallbackDone = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done

	r.logger.Info("fallback sync loop stopped")
}

// runFallbackSweep performs one full-state fetch and routes the result
// through the fallback ingestion path. Fetch errors are counted and
// logged; the next sweep retries.
func (r *Router) runFallbackSweep(ctx context.Context) {
	r.mu.Lock()
	r.fallbackSweeps++
	r.mu.Unlock()

	entries, err := r.fetch(ctx)
	if err != nil {
		r.mu.Lock()
		r.fetchErrors++
		r.mu.Unlock()
		r.logger.Warn("fallback state fetch failed", "error", err)
		return
	}

	r.HandleFallbackStates(entries)
}
