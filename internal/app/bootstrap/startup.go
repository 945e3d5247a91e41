// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"sync"

	userstore "github.com/dalemusser/classroll/internal/app/store/users"
	"github.com/dalemusser/classroll/internal/app/system/metrics"
	"github.com/dalemusser/classroll/internal/app/system/ratelimit"
	"github.com/dalemusser/classroll/internal/app/system/workers"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// background holds what Startup and BuildHandler create that Shutdown has to
// stop. WAFFLE passes only config and DBDeps between hooks.
var background struct {
	mu      sync.Mutex
	metrics *metrics.Metrics
	sweep   *workers.SignupSweep
	guards  []*ratelimit.Guard
}

// Startup runs one-time application initialization after DB connections and
// schema setup are complete, but before the HTTP handler is built.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	m := sharedMetrics()

	sweep := workers.NewSignupSweep(userstore.New(deps.MongoDatabase), logger, m, appCfg.PendingSweepInterval)
	sweep.Sweep(ctx)
	sweep.Start()

	background.mu.Lock()
	background.sweep = sweep
	background.mu.Unlock()
	return nil
}

// sharedMetrics returns the process-wide registry, creating it on first use.
func sharedMetrics() *metrics.Metrics {
	background.mu.Lock()
	defer background.mu.Unlock()
	if background.metrics == nil {
		background.metrics = metrics.New()
	}
	return background.metrics
}

func trackGuard(g *ratelimit.Guard) *ratelimit.Guard {
	background.mu.Lock()
	background.guards = append(background.guards, g)
	background.mu.Unlock()
	return g
}
