package workers

import (
	"context"
	"sync"
	"time"

	userstore "github.com/dalemusser/classroll/internal/app/store/users"
	"github.com/dalemusser/classroll/internal/app/system/metrics"
	"github.com/dalemusser/classroll/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// SignupSweep deletes unverified accounts whose signup window has passed.
// The TTL index does the same eventually; the sweep keeps the delay bounded
// by interval instead of by the TTL monitor.
type SignupSweep struct {
	users    *userstore.Store
	log      *zap.Logger
	metrics  *metrics.Metrics
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewSignupSweep creates the worker. interval is how often it runs (e.g. 5 minutes).
func NewSignupSweep(users *userstore.Store, logger *zap.Logger, m *metrics.Metrics, interval time.Duration) *SignupSweep {
	return &SignupSweep{
		users:    users,
		log:      logger,
		metrics:  m,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background loop.
func (w *SignupSweep) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("signup sweep worker started", zap.Duration("interval", w.interval))
}

// Stop signals the worker to stop and waits for it to finish.
func (w *SignupSweep) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("signup sweep worker stopped")
}

func (w *SignupSweep) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Sweep(context.Background())
		}
	}
}

// Sweep runs one pass and returns how many accounts were deleted.
func (w *SignupSweep) Sweep(parent context.Context) int64 {
	ctx, cancel := context.WithTimeout(parent, timeouts.Batch())
	defer cancel()

	count, err := w.users.DeleteLapsedSignups(ctx, w.now())
	if err != nil {
		w.log.Error("failed to delete lapsed signups", zap.Error(err))
		return 0
	}
	w.metrics.Swept(count)
	if count > 0 {
		w.log.Info("deleted lapsed signups", zap.Int64("count", count))
	}
	return count
}
