package runner

import "context"

// Service is a long-running component managed by the Runner: the event
// store engine, the projection registry, the NATS bridge.
type Service interface {
	// Name identifies the service in logs and errors.
	Name() string

	// Start brings the service up. It must return once the service is
	// ready and must respect ctx cancellation.
	Start(ctx context.Context) error

	// Stop shuts the service down within ctx's deadline.
	Stop(ctx context.Context) error
}

// HealthChecker is implemented by services that can report liveness.
type HealthChecker interface {
	Service

	// HealthCheck returns an error when the service is unhealthy.
	HealthCheck(ctx context.Context) error
}
