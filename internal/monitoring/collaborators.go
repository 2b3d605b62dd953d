package monitoring

import (
	"errors"
	"fmt"
	"time"

	"monview/internal/domain"
	"monview/internal/logger"
	"monview/internal/loop"
	"monview/internal/service"
)

// DefaultDisableDelay is how long a confirmed disable waits before calling out
const DefaultDisableDelay = 200 * time.Millisecond

// DefaultAccountURL is linked from the missing plan message
const DefaultAccountURL = "https://monview.local/account"

// RulesService owns monitoring rules
type RulesService interface {
	Rules() []*domain.Rule
	Create(machine *domain.Machine)
}

// MetricsService owns built-in and custom metrics
type MetricsService interface {
	BuiltInMetrics() []*domain.Metric
	CustomMetrics() []*domain.Metric
	Disassociate(metric *domain.Metric, machine *domain.Machine, done func(ok bool))
	DisableMetric(metric *domain.Metric, machine *domain.Machine, done func(ok bool))
}

// MonitoringService switches monitoring on and off for a machine
type MonitoringService interface {
	InstallCommand(machine *domain.Machine, done func(ok bool, command string))
	Enable(machine *domain.Machine, force bool, done func(ok bool))
	Disable(machine *domain.Machine, done func(ok bool))
}

// PreferenceStore holds per machine view preferences. Entry returns the
// current value, or an empty entry when nothing was persisted.
type PreferenceStore interface {
	Entry(machine *domain.Machine) domain.ViewPreference
	SetEntry(machine *domain.Machine, entry domain.ViewPreference)
	Save() error
}

// Dialogs asks the user for a decision
type Dialogs interface {
	Open(dialog domain.Dialog)
}

// StreamControl pauses and resumes live graph updates
type StreamControl interface {
	Start()
	Stop()
	IsStreaming() bool
}

// PresentationConfig is passed when graphs are opened
type PresentationConfig struct {
	CanModify   bool   `json:"can_modify"`
	CanControl  bool   `json:"can_control"`
	CanMinimize bool   `json:"can_minimize"`
	TimeWindow  string `json:"time_window"`
}

// Presentation renders graphs and streams data into them
type Presentation interface {
	StreamControl
	Open(graphs *domain.Collection[*domain.Graph], cfg PresentationConfig)
	Close()
	IsOpen() bool
	GoBack()
	GoForward()
	ChangeTimeWindow(window string)
	// OnFirstData registers a one-shot callback for the first data received
	OnFirstData(fn func())
}

// Session describes the current user
type Session interface {
	Authenticated() bool
	HasPlan() bool
	PromptLogin()
}

// MetricSelector lets the user pick a metric to add to a machine
type MetricSelector interface {
	Open(machine *domain.Machine)
}

// EventSource delivers domain events
type EventSource interface {
	On(eventType service.EventType, fn service.Handler) *service.Subscription
}

// Recorder receives counters about view activity
type Recorder interface {
	Reconciled(added int)
	Action(name string, ok bool)
}

type nopRecorder struct{}

func (nopRecorder) Reconciled(int)      {}
func (nopRecorder) Action(string, bool) {}

// Deps are the collaborators of a View
type Deps struct {
	Loop         *loop.Loop
	Events       EventSource
	Rules        RulesService
	Metrics      MetricsService
	Monitoring   MonitoringService
	Preferences  PreferenceStore
	Dialogs      Dialogs
	Presentation Presentation
	Session      Session
	Selector     MetricSelector

	Logger       logger.Logger
	Recorder     Recorder
	DisableDelay time.Duration
	AccountURL   string
}

// ErrMissingDependency is returned by NewView when a collaborator is nil
var ErrMissingDependency = errors.New("missing dependency")

func (d *Deps) validate() error {
	required := []struct {
		name string
		nil  bool
	}{
		{"loop", d.Loop == nil},
		{"events", d.Events == nil},
		{"rules", d.Rules == nil},
		{"metrics", d.Metrics == nil},
		{"monitoring", d.Monitoring == nil},
		{"preferences", d.Preferences == nil},
		{"dialogs", d.Dialogs == nil},
		{"presentation", d.Presentation == nil},
		{"session", d.Session == nil},
		{"selector", d.Selector == nil},
	}
	for _, r := range required {
		if r.nil {
			return fmt.Errorf("%w: %s", ErrMissingDependency, r.name)
		}
	}
	return nil
}

func (d *Deps) applyDefaults() {
	if d.Logger == nil {
		d.Logger = logger.Noop()
	}
	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}
	if d.DisableDelay <= 0 {
		d.DisableDelay = DefaultDisableDelay
	}
	if d.AccountURL == "" {
		d.AccountURL = DefaultAccountURL
	}
}

// deferred wraps a completion callback so it runs as its own loop turn
func deferred(l *loop.Loop, fn func(bool)) func(bool) {
	return func(ok bool) {
		l.Post(func() { fn(ok) })
	}
}
