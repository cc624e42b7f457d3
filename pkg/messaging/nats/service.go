package nats

import (
	"context"
	"fmt"
)

// Service adapts the bridge to the runner's service lifecycle. The
// connection is established lazily in Start so the runner owns the
// bridge's lifetime end to end.
type Service struct {
	config Config
	bus    *EventBus
}

// NewService prepares a bridge service with the given configuration.
func NewService(config Config) *Service {
	return &Service{config: config}
}

// Name implements runner.Service.
func (s *Service) Name() string { return "nats-bridge" }

// Start implements runner.Service.
func (s *Service) Start(ctx context.Context) error {
	bus, err := NewEventBus(s.config)
	if err != nil {
		return err
	}
	s.bus = bus
	return nil
}

// Stop implements runner.Service.
func (s *Service) Stop(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}
	err := s.bus.Close()
	s.bus = nil
	return err
}

// Bus returns the connected bridge, or nil before Start.
func (s *Service) Bus() *EventBus {
	return s.bus
}

// HealthCheck reports unhealthy when the connection is down.
func (s *Service) HealthCheck(ctx context.Context) error {
	if s.bus == nil || !s.bus.nc.IsConnected() {
		return fmt.Errorf("nats connection is down")
	}
	return nil
}
