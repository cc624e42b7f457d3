// Package runner starts a set of services in order, keeps them running
// until a shutdown signal or context cancellation, and stops them in
// reverse order with a bounded grace period.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Runner manages the lifecycle of its services. Start order is the
// registration order; stop order is the reverse, so consumers go down
// before the stores they read from.
type Runner struct {
	services        []Service
	logger          *slog.Logger
	startupTimeout  time.Duration
	shutdownTimeout time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithStartupTimeout bounds each service's Start. Defaults to 1 minute.
func WithStartupTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		r.startupTimeout = timeout
	}
}

// WithShutdownTimeout bounds the whole shutdown. Defaults to 30 seconds.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		r.shutdownTimeout = timeout
	}
}

// New creates a Runner over the given services.
func New(services []Service, opts ...Option) *Runner {
	r := &Runner{
		services:        services,
		logger:          slog.Default(),
		startupTimeout:  time.Minute,
		shutdownTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts all services and blocks until ctx is cancelled or a
// shutdown signal arrives, then stops what was started.
func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := notifyContext(ctx)
	defer stop()

	started := make([]Service, 0, len(r.services))
	for _, service := range r.services {
		r.logger.Info("starting service", "service", service.Name())

		startCtx, cancel := context.WithTimeout(ctx, r.startupTimeout)
		err := service.Start(startCtx)
		cancel()
		if err != nil {
			r.logger.Error("service failed to start", "service", service.Name(), "error", err)
			if stopErr := r.stop(started); stopErr != nil {
				r.logger.Error("cleanup after failed start", "error", stopErr)
			}
			return fmt.Errorf("start %s: %w", service.Name(), err)
		}
		started = append(started, service)
	}
	r.logger.Info("all services running", "count", len(started))

	<-ctx.Done()
	r.logger.Info("shutting down", "timeout", r.shutdownTimeout)
	return r.stop(started)
}

// stop stops services in reverse order, concurrently within the
// shutdown window.
func (r *Runner) stop(services []Service) error {
	if len(services) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := len(services) - 1; i >= 0; i-- {
		service := services[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := service.Stop(ctx); err != nil {
				r.logger.Error("service stop failed", "service", service.Name(), "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("stop %s: %w", service.Name(), err))
				mu.Unlock()
				return
			}
			r.logger.Info("service stopped", "service", service.Name())
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return errors.Join(errs...)
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out after %s", r.shutdownTimeout)
	}
}

// HealthCheck polls every service implementing HealthChecker.
func (r *Runner) HealthCheck(ctx context.Context) error {
	for _, service := range r.services {
		hc, ok := service.(HealthChecker)
		if !ok {
			continue
		}
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("service %s unhealthy: %w", service.Name(), err)
		}
	}
	return nil
}
