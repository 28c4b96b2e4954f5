package reservation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DanielKano/otaku-shop-sub000/internal/util"
)

// DefaultSweepInterval is how often the reaper runs when no interval is
// configured.
const DefaultSweepInterval = 60 * time.Second

// Reaper periodically purges expired, unconfirmed holds from the store. The
// sweep is best-effort cleanup, not correctness-critical: the store's active
// filter already treats expired-but-unswept records as inactive.
type Reaper struct {
	store    *Store
	interval time.Duration
	logger   *zap.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewReaper creates a reaper for the given store. A non-positive interval
// falls back to DefaultSweepInterval.
func NewReaper(store *Store, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Reaper{
		store:    store,
		interval: interval,
		logger:   util.GetLogger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or the context is
// cancelled. Blocks; run it on its own goroutine.
func (r *Reaper) Start(ctx context.Context) {
	defer close(r.done)

	r.logger.Info("Reservation reaper started", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reservation reaper context cancelled")
			return
		case <-r.stop:
			r.logger.Info("Reservation reaper stopped")
			return
		case <-ticker.C:
			r.runSweep()
		}
	}
}

// Stop signals the loop to exit and waits for the in-flight sweep to finish.
func (r *Reaper) Stop() {
	close(r.stop)
	<-r.done
}

// runSweep executes one sweep. A panic from a single sweep must not kill the
// periodic task, so it is recovered and logged.
func (r *Reaper) runSweep() {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Reservation sweep panicked", zap.Any("panic", rec))
		}
	}()

	removed := r.store.Sweep()
	if removed > 0 {
		util.ReservationsExpiredTotal.Add(float64(removed))
		r.logger.Debug("Reservation sweep completed", zap.Int("removed", removed))
	}
	util.ActiveReservations.Set(float64(r.store.ActiveCount()))
}
