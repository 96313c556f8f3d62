// Package service provides the connectivity service's process lifecycle:
// signal handling, periodic health checks, and graceful start/stop. It is
// grounded on the teacher's BaseService (pkg/service/base.go), trimmed to
// drop the gRPC server and supervisor registration/heartbeat/log-streaming
// machinery this single-process service has no use for — there is no
// supervisor to register with here, so Run drives Service directly off
// OS signals instead.
package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redbco/redb-connect/pkg/config"
	"github.com/redbco/redb-connect/pkg/health"
	"github.com/redbco/redb-connect/pkg/logger"
)

// Service is the contract the connectivity service's runner drives.
type Service interface {
	// Initialize is called once, before Start, with the loaded configuration.
	Initialize(ctx context.Context, cfg *config.Config) error

	// Start begins the service's main work. It must return promptly; ongoing
	// work happens in goroutines the implementation manages itself.
	Start(ctx context.Context) error

	// Stop gracefully shuts the service down within gracePeriod.
	Stop(ctx context.Context, gracePeriod time.Duration) error

	// CollectMetrics returns current service metrics for observability.
	CollectMetrics() map[string]int64

	// HealthChecks returns the service-specific health checks to run
	// periodically.
	HealthChecks() map[string]health.CheckFunc
}

// Runner manages one Service's process lifecycle.
type Runner struct {
	Name    string
	Version string

	Logger        *logger.Logger
	Config        *config.Config
	HealthChecker *health.Checker

	GracePeriod       time.Duration
	HealthCheckPeriod time.Duration

	mu        sync.Mutex
	stopCh    chan struct{}
	stoppedCh chan struct{}
	impl      Service
}

// NewRunner builds a Runner for a Service.
func NewRunner(name, version string, impl Service) *Runner {
	return &Runner{
		Name:              name,
		Version:           version,
		Logger:            logger.New(name, version),
		Config:            config.New(),
		HealthChecker:     health.NewChecker(),
		GracePeriod:       30 * time.Second,
		HealthCheckPeriod: 10 * time.Second,
		stopCh:            make(chan struct{}),
		stoppedCh:         make(chan struct{}),
		impl:              impl,
	}
}

// Run initializes and starts the service, then blocks until an OS signal,
// an explicit Stop() call, or ctx cancellation triggers graceful shutdown.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.impl.Initialize(ctx, r.Config); err != nil {
		return fmt.Errorf("initialize %s: %w", r.Name, err)
	}
	r.Logger.Infof("%s initialized", r.Name)

	go r.healthCheckLoop(ctx)

	if err := r.impl.Start(ctx); err != nil {
		return fmt.Errorf("start %s: %w", r.Name, err)
	}
	r.Logger.Infof("%s started", r.Name)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		r.Logger.Infof("received signal %s, shutting down", sig)
	case <-r.stopCh:
		r.Logger.Info("received stop command")
	case <-ctx.Done():
		r.Logger.Info("context cancelled")
	}

	return r.shutdown(ctx)
}

// Stop requests a graceful shutdown from outside the Run goroutine (e.g. a
// test, or an administrative command).
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.stopCh:
		// already stopping
	default:
		close(r.stopCh)
	}
}

// Stopped reports a channel closed once shutdown has fully completed.
func (r *Runner) Stopped() <-chan struct{} {
	return r.stoppedCh
}

func (r *Runner) shutdown(ctx context.Context) error {
	r.Logger.Info("starting graceful shutdown")

	stopCtx, cancel := context.WithTimeout(ctx, r.GracePeriod)
	defer cancel()

	if err := r.impl.Stop(stopCtx, r.GracePeriod); err != nil {
		r.Logger.Errorf("shutdown error: %v", err)
	}

	close(r.stoppedCh)
	r.Logger.Info("stopped")
	return nil
}

func (r *Runner) healthCheckLoop(ctx context.Context) {
	ticker := time.NewTicker(r.HealthCheckPeriod)
	defer ticker.Stop()

	checks := r.impl.HealthChecks()

	for {
		select {
		case <-ticker.C:
			for name, checkFunc := range checks {
				r.HealthChecker.RunCheck(name, checkFunc)
			}
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		}
	}
}
