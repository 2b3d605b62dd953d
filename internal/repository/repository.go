package repository

import (
	"context"
	"errors"

	"monview/internal/domain"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// MachineRepository stores monitored machines
type MachineRepository interface {
	ListMachines(ctx context.Context) ([]*domain.Machine, error)
	GetMachine(ctx context.Context, id string) (*domain.Machine, error)
	UpsertMachine(ctx context.Context, machine *domain.Machine) error
	DeleteMachine(ctx context.Context, id string) error
}

// RuleRepository stores monitoring rules
type RuleRepository interface {
	ListRules(ctx context.Context) ([]*domain.Rule, error)
	UpsertRule(ctx context.Context, rule *domain.Rule) error
	DeleteRule(ctx context.Context, id string) error
}

// MetricRepository stores custom metrics and their machine associations
type MetricRepository interface {
	ListCustomMetrics(ctx context.Context) ([]*domain.Metric, error)
	UpsertMetric(ctx context.Context, metric *domain.Metric) error
	DeleteMetric(ctx context.Context, id string) error
	AssociateMetric(ctx context.Context, metricID, machineID string) error
	DisassociateMetric(ctx context.Context, metricID, machineID string) error
}

// PreferenceRepository stores per machine view preferences.
// LoadPreference reports false when nothing is stored for the machine.
type PreferenceRepository interface {
	LoadPreference(ctx context.Context, machineID string) (domain.ViewPreference, bool, error)
	SavePreferences(ctx context.Context, entries map[string]domain.ViewPreference) error
}

// Repository defines the interface for monview data access
type Repository interface {
	MachineRepository
	RuleRepository
	MetricRepository
	PreferenceRepository

	// Close releases resources
	Close() error
}
