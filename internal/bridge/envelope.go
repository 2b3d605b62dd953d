// Package bridge exchanges domain events with other monview instances over
// Kafka. Remote events are republished on the local bus so open views
// reconcile against changes made elsewhere.
package bridge

import (
	"errors"
	"fmt"

	"monview/internal/domain"
	"monview/internal/service"
)

// ErrInvalidEnvelope is returned for messages that cannot become an event
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope is the wire form of a domain event
type Envelope struct {
	Type    service.EventType `json:"type"`
	Machine *domain.Machine   `json:"machine,omitempty"`
	Metric  *domain.Metric    `json:"metric,omitempty"`
	Rule    *domain.Rule      `json:"rule,omitempty"`
}

// Wrap converts a bus event into an envelope
func Wrap(e service.Event) (Envelope, error) {
	env := Envelope{Type: e.Type}
	switch p := e.Payload.(type) {
	case service.RuleEvent:
		env.Rule = p.Rule
	case *service.RuleEvent:
		env.Rule = p.Rule
	case service.MetricEvent:
		env.Machine, env.Metric = p.Machine, p.Metric
	case *service.MetricEvent:
		env.Machine, env.Metric = p.Machine, p.Metric
	case service.MachineEvent:
		env.Machine = p.Machine
	case *service.MachineEvent:
		env.Machine = p.Machine
	default:
		return Envelope{}, fmt.Errorf("%w: unsupported payload %T", ErrInvalidEnvelope, e.Payload)
	}
	return env, env.validate()
}

// Event converts the envelope back into a bus event marked as remote
func (env Envelope) Event() (service.Event, error) {
	if err := env.validate(); err != nil {
		return service.Event{}, err
	}

	e := service.Event{Type: env.Type, Remote: true}
	switch env.Type {
	case service.EventRuleAdded, service.EventRuleDeleted:
		e.Payload = service.RuleEvent{Rule: env.Rule}
	case service.EventMetricAdded, service.EventMetricDeleted, service.EventMetricDisassociated:
		e.Payload = service.MetricEvent{Machine: env.Machine, Metric: env.Metric}
	case service.EventMachineUpdated:
		e.Payload = service.MachineEvent{Machine: env.Machine}
	}
	return e, nil
}

// Key partitions messages by machine so one machine's events stay ordered
func (env Envelope) Key() string {
	switch {
	case env.Machine != nil:
		return env.Machine.ID
	case env.Rule != nil:
		return env.Rule.MachineID
	default:
		return ""
	}
}

func (env Envelope) validate() error {
	switch env.Type {
	case service.EventRuleAdded, service.EventRuleDeleted:
		if env.Rule == nil || env.Rule.ID == "" {
			return fmt.Errorf("%w: %s without rule", ErrInvalidEnvelope, env.Type)
		}
	case service.EventMetricAdded, service.EventMetricDeleted:
		if env.Metric == nil || env.Metric.ID == "" {
			return fmt.Errorf("%w: %s without metric", ErrInvalidEnvelope, env.Type)
		}
	case service.EventMetricDisassociated:
		if env.Metric == nil || env.Metric.ID == "" || env.Machine == nil {
			return fmt.Errorf("%w: %s needs metric and machine", ErrInvalidEnvelope, env.Type)
		}
	case service.EventMachineUpdated:
		if env.Machine == nil || env.Machine.ID == "" {
			return fmt.Errorf("%w: %s without machine", ErrInvalidEnvelope, env.Type)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEnvelope, env.Type)
	}
	return nil
}
