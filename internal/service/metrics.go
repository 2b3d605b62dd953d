package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"monview/internal/domain"
	"monview/internal/logger"
)

// MetricRepository defines the repository interface for custom metrics
type MetricRepository interface {
	ListCustomMetrics(ctx context.Context) ([]*domain.Metric, error)
	UpsertMetric(ctx context.Context, metric *domain.Metric) error
	DeleteMetric(ctx context.Context, id string) error
	AssociateMetric(ctx context.Context, metricID, machineID string) error
	DisassociateMetric(ctx context.Context, metricID, machineID string) error
}

// PluginDisabler turns off a plugin metric on a machine
type PluginDisabler interface {
	DisablePlugin(ctx context.Context, machine *domain.Machine, plugin string) error
}

// MetricService handles built-in and custom metrics
type MetricService struct {
	repo     MetricRepository
	agent    PluginDisabler
	eventBus *EventBus
	log      logger.Logger
	timeout  time.Duration

	mu      sync.RWMutex
	catalog []*domain.Metric
}

// NewMetricService creates a new metric service with the given built-in catalog
func NewMetricService(repo MetricRepository, agent PluginDisabler, eventBus *EventBus, catalog []*domain.Metric, log logger.Logger) *MetricService {
	if log == nil {
		log = logger.Noop()
	}
	s := &MetricService{
		repo:     repo,
		agent:    agent,
		eventBus: eventBus,
		log:      log,
		timeout:  30 * time.Second,
	}
	s.catalog = builtIns(catalog)
	return s
}

func builtIns(catalog []*domain.Metric) []*domain.Metric {
	out := make([]*domain.Metric, 0, len(catalog))
	for _, m := range catalog {
		cp := *m
		cp.BuiltIn = true
		cp.Machines = nil
		out = append(out, &cp)
	}
	return out
}

// BuiltInMetrics returns the catalog of metrics every machine has
func (s *MetricService) BuiltInMetrics() []*domain.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.catalog)
}

// SetCatalog replaces the built-in catalog and publishes the difference.
// Events carry no machine since built-ins apply to all of them.
func (s *MetricService) SetCatalog(catalog []*domain.Metric) {
	next := builtIns(catalog)

	s.mu.Lock()
	prev := s.catalog
	s.catalog = next
	s.mu.Unlock()

	has := func(list []*domain.Metric, id string) bool {
		return slices.ContainsFunc(list, func(m *domain.Metric) bool { return m.ID == id })
	}
	for _, m := range prev {
		if !has(next, m.ID) {
			s.eventBus.Publish(Event{Type: EventMetricDeleted, Payload: MetricEvent{Metric: m}})
		}
	}
	for _, m := range next {
		if !has(prev, m.ID) {
			s.eventBus.Publish(Event{Type: EventMetricAdded, Payload: MetricEvent{Metric: m}})
		}
	}
}

// CustomMetrics returns the custom metrics. Errors are logged and yield none.
func (s *MetricService) CustomMetrics() []*domain.Metric {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	metrics, err := s.repo.ListCustomMetrics(ctx)
	if err != nil {
		s.log.Warn("list custom metrics: %v", err)
		return nil
	}
	return metrics
}

// Metric returns a built-in or custom metric by ID
func (s *MetricService) Metric(id string) (*domain.Metric, bool) {
	for _, m := range s.BuiltInMetrics() {
		if m.ID == id {
			return m, true
		}
	}
	for _, m := range s.CustomMetrics() {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

// Create stores a new custom metric
func (s *MetricService) Create(ctx context.Context, metric *domain.Metric) error {
	metric.BuiltIn = false
	if err := s.repo.UpsertMetric(ctx, metric); err != nil {
		return fmt.Errorf("create metric: %w", err)
	}
	return nil
}

// Associate enables a custom metric on machine and publishes metric_added
func (s *MetricService) Associate(ctx context.Context, metric *domain.Metric, machine *domain.Machine) error {
	if metric.BuiltIn {
		return nil
	}
	if err := s.repo.AssociateMetric(ctx, metric.ID, machine.ID); err != nil {
		return fmt.Errorf("associate metric: %w", err)
	}
	cp := *metric
	cp.Associate(machine.ID)
	s.eventBus.Publish(Event{Type: EventMetricAdded, Payload: MetricEvent{Machine: machine, Metric: &cp}})
	return nil
}

// Delete removes a custom metric and publishes metric_deleted
func (s *MetricService) Delete(ctx context.Context, metric *domain.Metric) error {
	if err := s.repo.DeleteMetric(ctx, metric.ID); err != nil {
		return fmt.Errorf("delete metric: %w", err)
	}
	s.eventBus.Publish(Event{Type: EventMetricDeleted, Payload: MetricEvent{Metric: metric}})
	return nil
}

// Disassociate removes metric from machine. Built-in metrics have no
// association to remove, so only the event is published for them.
func (s *MetricService) Disassociate(metric *domain.Metric, machine *domain.Machine, done func(ok bool)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if !metric.BuiltIn {
			if err := s.repo.DisassociateMetric(ctx, metric.ID, machine.ID); err != nil {
				s.log.Warn("disassociate %s from %s: %v", metric.ID, machine.ID, err)
				done(false)
				return
			}
		}
		s.eventBus.Publish(Event{Type: EventMetricDisassociated, Payload: MetricEvent{Machine: machine, Metric: metric}})
		done(true)
	}()
}

// DisableMetric stops the plugin behind metric on machine
func (s *MetricService) DisableMetric(metric *domain.Metric, machine *domain.Machine, done func(ok bool)) {
	go func() {
		if !metric.IsPlugin || s.agent == nil {
			done(true)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if err := s.agent.DisablePlugin(ctx, machine, metric.ID); err != nil {
			s.log.Warn("disable plugin %s on %s: %v", metric.ID, machine.ID, err)
			done(false)
			return
		}
		done(true)
	}()
}
