package saga

import (
	"context"
	"time"

	"github.com/sagabank/sagabank/pkg/logger"
)

// Watchdog enforces the bounded-wait guarantee: sessions still
// undecided after their deadline are rolled back.
type Watchdog struct {
	orchestrator *Orchestrator
	cache        SessionCache
	interval     time.Duration
	log          logger.Logger
}

// NewWatchdog creates a watchdog sweeping at the given interval.
func NewWatchdog(orchestrator *Orchestrator, cache SessionCache, interval time.Duration, log logger.Logger) *Watchdog {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = logger.Global()
	}
	return &Watchdog{
		orchestrator: orchestrator,
		cache:        cache,
		interval:     interval,
		log:          log.With("component", "watchdog"),
	}
}

// Run sweeps until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep rolls back every undecided session past its deadline.
func (w *Watchdog) Sweep(ctx context.Context) {
	sessions, err := w.cache.List(ctx)
	if err != nil {
		w.log.ErrorContext(ctx, "session scan failed", "error", err)
		return
	}
	now := time.Now().UTC()
	for _, session := range sessions {
		if session.Decided || session.Deadline.After(now) {
			continue
		}
		w.orchestrator.TimeoutSaga(ctx, session.SagaID)
	}
}
