package projection

import (
	"context"
	"fmt"
)

// Service adapts a Registry to the runner's service lifecycle.
type Service struct {
	registry *Registry
}

// NewService wraps the registry for the runner.
func NewService(registry *Registry) *Service {
	return &Service{registry: registry}
}

// Name implements runner.Service.
func (s *Service) Name() string { return "projections" }

// Start implements runner.Service.
func (s *Service) Start(ctx context.Context) error {
	return s.registry.Start(ctx)
}

// Stop implements runner.Service.
func (s *Service) Stop(ctx context.Context) error {
	return s.registry.Stop(ctx)
}

// HealthCheck reports unhealthy when any projection recorded a failure
// on its last batch.
func (s *Service) HealthCheck(ctx context.Context) error {
	statuses, err := s.registry.Health(ctx)
	if err != nil {
		return err
	}
	for _, status := range statuses {
		if status.LastError != "" {
			return fmt.Errorf("projection %s failing: %s", status.Name, status.LastError)
		}
	}
	return nil
}
