package service

import (
	"context"
	"fmt"

	"monview/internal/domain"
	"monview/internal/logger"
)

// MachineRepository defines the repository interface for machines
type MachineRepository interface {
	ListMachines(ctx context.Context) ([]*domain.Machine, error)
	GetMachine(ctx context.Context, id string) (*domain.Machine, error)
	UpsertMachine(ctx context.Context, machine *domain.Machine) error
	DeleteMachine(ctx context.Context, id string) error
}

// ReachabilityChecker tells whether a machine's SSH port answers
type ReachabilityChecker interface {
	Reachable(ctx context.Context, machine *domain.Machine) (bool, error)
}

// MachineService handles machine operations
type MachineService struct {
	repo     MachineRepository
	eventBus *EventBus
	log      logger.Logger
}

// NewMachineService creates a new machine service
func NewMachineService(repo MachineRepository, eventBus *EventBus, log logger.Logger) *MachineService {
	if log == nil {
		log = logger.Noop()
	}
	return &MachineService{repo: repo, eventBus: eventBus, log: log}
}

// List returns all machines
func (s *MachineService) List(ctx context.Context) ([]*domain.Machine, error) {
	return s.repo.ListMachines(ctx)
}

// Get returns one machine
func (s *MachineService) Get(ctx context.Context, id string) (*domain.Machine, error) {
	return s.repo.GetMachine(ctx, id)
}

// Save creates or updates a machine and publishes machine_updated
func (s *MachineService) Save(ctx context.Context, machine *domain.Machine) error {
	if machine.ID == "" {
		return fmt.Errorf("machine id is required")
	}
	if err := s.repo.UpsertMachine(ctx, machine); err != nil {
		return fmt.Errorf("save machine: %w", err)
	}
	s.publish(machine)
	return nil
}

// Delete removes a machine
func (s *MachineService) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteMachine(ctx, id); err != nil {
		return fmt.Errorf("delete machine: %w", err)
	}
	return nil
}

// SetMonitoring flips the monitoring flag
func (s *MachineService) SetMonitoring(ctx context.Context, id string, enabled bool) error {
	return s.update(ctx, id, func(m *domain.Machine) bool {
		if m.HasMonitoring == enabled {
			return false
		}
		m.HasMonitoring = enabled
		return true
	})
}

// SetProbed records whether the machine is reachable for installation
func (s *MachineService) SetProbed(ctx context.Context, id string, probed bool) error {
	return s.update(ctx, id, func(m *domain.Machine) bool {
		if m.Probed == probed {
			return false
		}
		m.Probed = probed
		return true
	})
}

// Probe checks the machine with checker and stores the result
func (s *MachineService) Probe(ctx context.Context, id string, checker ReachabilityChecker) (bool, error) {
	m, err := s.repo.GetMachine(ctx, id)
	if err != nil {
		return false, fmt.Errorf("get machine: %w", err)
	}
	ok, err := checker.Reachable(ctx, m)
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", id, err)
	}
	if err := s.SetProbed(ctx, id, ok); err != nil {
		return false, err
	}
	s.log.Info("probed %s (%s): reachable=%t", id, m.Host, ok)
	return ok, nil
}

func (s *MachineService) update(ctx context.Context, id string, mutate func(*domain.Machine) bool) error {
	m, err := s.repo.GetMachine(ctx, id)
	if err != nil {
		return fmt.Errorf("get machine: %w", err)
	}
	if !mutate(m) {
		return nil
	}
	if err := s.repo.UpsertMachine(ctx, m); err != nil {
		return fmt.Errorf("update machine: %w", err)
	}
	s.publish(m)
	return nil
}

func (s *MachineService) publish(m *domain.Machine) {
	if s.eventBus == nil {
		return
	}
	cp := *m
	s.eventBus.Publish(Event{Type: EventMachineUpdated, Payload: MachineEvent{Machine: &cp}})
}
