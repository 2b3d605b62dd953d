package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"monview/internal/domain"
	"monview/internal/logger"
)

// RuleRepository defines the repository interface for rules
type RuleRepository interface {
	ListRules(ctx context.Context) ([]*domain.Rule, error)
	UpsertRule(ctx context.Context, rule *domain.Rule) error
	DeleteRule(ctx context.Context, id string) error
}

// RuleTemplate is the rule created by Create
type RuleTemplate struct {
	Metric   string
	Operator string
	Value    float64
	Action   string
}

// DefaultRuleTemplate alerts when load goes above 5
var DefaultRuleTemplate = RuleTemplate{Metric: "load", Operator: "gt", Value: 5, Action: "alert"}

// RuleService handles monitoring rules
type RuleService struct {
	repo     RuleRepository
	eventBus *EventBus
	log      logger.Logger
	template RuleTemplate
	timeout  time.Duration
}

// NewRuleService creates a new rule service
func NewRuleService(repo RuleRepository, eventBus *EventBus, log logger.Logger) *RuleService {
	if log == nil {
		log = logger.Noop()
	}
	return &RuleService{
		repo:     repo,
		eventBus: eventBus,
		log:      log,
		template: DefaultRuleTemplate,
		timeout:  5 * time.Second,
	}
}

// Rules returns all rules. Errors are logged and yield no rules.
func (s *RuleService) Rules() []*domain.Rule {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	rules, err := s.repo.ListRules(ctx)
	if err != nil {
		s.log.Warn("list rules: %v", err)
		return nil
	}
	return rules
}

// Create adds a rule from the template to machine
func (s *RuleService) Create(machine *domain.Machine) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.Add(ctx, &domain.Rule{
		MachineID: machine.ID,
		Metric:    s.template.Metric,
		Operator:  s.template.Operator,
		Value:     s.template.Value,
		Action:    s.template.Action,
	}); err != nil {
		s.log.Warn("create rule for %s: %v", machine.ID, err)
	}
}

// Add stores a rule and publishes rule_added
func (s *RuleService) Add(ctx context.Context, rule *domain.Rule) (*domain.Rule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := s.repo.UpsertRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("add rule: %w", err)
	}
	s.eventBus.Publish(Event{Type: EventRuleAdded, Payload: RuleEvent{Rule: rule}})
	return rule, nil
}

// Delete removes a rule and publishes rule_deleted
func (s *RuleService) Delete(ctx context.Context, rule *domain.Rule) error {
	if err := s.repo.DeleteRule(ctx, rule.ID); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	s.eventBus.Publish(Event{Type: EventRuleDeleted, Payload: RuleEvent{Rule: rule}})
	return nil
}
