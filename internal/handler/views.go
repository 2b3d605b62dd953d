package handler

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"monview/internal/domain"
	"monview/internal/logger"
	"monview/internal/monitoring"
	"monview/internal/service"
)

// ErrViewNotOpen is returned for actions on a machine without a loaded view
var ErrViewNotOpen = errors.New("view not open")

// ViewTracker counts loaded views
type ViewTracker interface {
	ViewOpened()
	ViewClosed()
}

// ViewSnapshot is the state of one view as sent to browsers
type ViewSnapshot struct {
	Machine           domain.Machine    `json:"machine"`
	State             monitoring.State  `json:"state"`
	GettingCommand    bool              `json:"getting_command"`
	PendingFirstStats bool              `json:"pending_first_stats"`
	Rules             []*domain.Rule    `json:"rules"`
	Metrics           []*domain.Metric  `json:"metrics"`
	Graphs            []GraphState      `json:"graphs"`
	Presentation      PresentationState `json:"presentation"`
	Dialogs           []DialogMessage   `json:"dialogs"`
}

type viewEntry struct {
	view         *monitoring.View
	presentation *RemotePresentation
	subs         []*service.Subscription
}

// ViewManager owns the loaded views. The views map is only touched on the loop.
type ViewManager struct {
	base       monitoring.Deps
	broker     *DialogBroker
	notify     Notifier
	candidates MetricCandidates
	tracker    ViewTracker
	log        logger.Logger

	views map[string]*viewEntry
}

// NewViewManager creates a manager. base carries the collaborators shared by
// every view; per machine dialogs, presentation and selector are added here.
func NewViewManager(base monitoring.Deps, broker *DialogBroker, notify Notifier, candidates MetricCandidates, tracker ViewTracker, log logger.Logger) *ViewManager {
	if log == nil {
		log = logger.Noop()
	}
	return &ViewManager{
		base:       base,
		broker:     broker,
		notify:     notify,
		candidates: candidates,
		tracker:    tracker,
		log:        log,
		views:      make(map[string]*viewEntry),
	}
}

// viewRecorder forwards to the shared recorder and refreshes browsers after
// every completed action or reconciliation
type viewRecorder struct {
	next monitoring.Recorder
	push func()
}

func (r viewRecorder) Reconciled(added int) {
	if r.next != nil {
		r.next.Reconciled(added)
	}
	r.push()
}

func (r viewRecorder) Action(name string, ok bool) {
	if r.next != nil {
		r.next.Action(name, ok)
	}
	r.push()
}

// Open loads the view of machine, or returns the loaded one
func (m *ViewManager) Open(ctx context.Context, machine *domain.Machine) (ViewSnapshot, error) {
	var openErr error
	err := m.base.Loop.Call(ctx, func() {
		if _, ok := m.views[machine.ID]; ok {
			return
		}
		openErr = m.open(machine)
	})
	if err != nil {
		return ViewSnapshot{}, err
	}
	if openErr != nil {
		return ViewSnapshot{}, openErr
	}
	return m.Snapshot(ctx, machine.ID)
}

func (m *ViewManager) open(machine *domain.Machine) error {
	id := machine.ID
	presentation := NewRemotePresentation(id, m.notify)

	deps := m.base
	deps.Dialogs = m.broker.For(id)
	deps.Presentation = presentation
	deps.Selector = NewRemoteSelector(m.notify, m.candidates)
	deps.Recorder = viewRecorder{next: m.base.Recorder, push: func() { m.push(id) }}

	view, err := monitoring.NewView(machine, deps)
	if err != nil {
		return fmt.Errorf("create view: %w", err)
	}
	view.Load()

	entry := &viewEntry{view: view, presentation: presentation}
	// Subscribed after Load so the push runs after the view handled the event
	refresh := func(service.Event) {
		m.base.Loop.Post(func() { m.push(id) })
	}
	for _, t := range []service.EventType{
		service.EventRuleAdded,
		service.EventRuleDeleted,
		service.EventMetricAdded,
		service.EventMetricDeleted,
		service.EventMetricDisassociated,
		service.EventMachineUpdated,
	} {
		entry.subs = append(entry.subs, m.base.Events.On(t, refresh))
	}

	m.views[id] = entry
	if m.tracker != nil {
		m.tracker.ViewOpened()
	}
	m.log.Info("opened view for %s", id)
	return nil
}

// Close unloads the view of machine. Open dialogs are declined.
func (m *ViewManager) Close(ctx context.Context, id string) error {
	var closeErr error
	err := m.base.Loop.Call(ctx, func() {
		closeErr = m.close(id)
	})
	if err != nil {
		return err
	}
	return closeErr
}

func (m *ViewManager) close(id string) error {
	entry, ok := m.views[id]
	if !ok {
		return ErrViewNotOpen
	}
	delete(m.views, id)
	for _, s := range entry.subs {
		s.Unsubscribe()
	}
	entry.view.Unload()
	m.broker.Dismiss(id)
	if m.tracker != nil {
		m.tracker.ViewClosed()
	}
	m.notify.Publish(id, MsgView, map[string]any{"closed": true})
	m.log.Info("closed view for %s", id)
	return nil
}

// CloseAll unloads every view
func (m *ViewManager) CloseAll(ctx context.Context) error {
	return m.base.Loop.Call(ctx, func() {
		for id := range m.views {
			m.close(id)
		}
	})
}

// Do runs fn against a loaded view on the loop and returns the state after
// the turn, reconciliation included
func (m *ViewManager) Do(ctx context.Context, id string, fn func(view *monitoring.View, p *RemotePresentation) error) (ViewSnapshot, error) {
	var fnErr error
	err := m.base.Loop.Call(ctx, func() {
		entry, ok := m.views[id]
		if !ok {
			fnErr = ErrViewNotOpen
			return
		}
		fnErr = fn(entry.view, entry.presentation)
	})
	if err != nil {
		return ViewSnapshot{}, err
	}
	if fnErr != nil {
		return ViewSnapshot{}, fnErr
	}
	return m.Snapshot(ctx, id)
}

// Snapshot returns the current state of a loaded view
func (m *ViewManager) Snapshot(ctx context.Context, id string) (ViewSnapshot, error) {
	var (
		snap ViewSnapshot
		ok   bool
	)
	err := m.base.Loop.Call(ctx, func() {
		snap, ok = m.snapshot(id)
	})
	if err != nil {
		return ViewSnapshot{}, err
	}
	if !ok {
		return ViewSnapshot{}, ErrViewNotOpen
	}
	return snap, nil
}

// OpenViews reports the machine IDs with a loaded view
func (m *ViewManager) OpenViews(ctx context.Context) ([]string, error) {
	var ids []string
	err := m.base.Loop.Call(ctx, func() {
		for id := range m.views {
			ids = append(ids, id)
		}
	})
	slices.Sort(ids)
	return ids, err
}

func (m *ViewManager) snapshot(id string) (ViewSnapshot, bool) {
	entry, ok := m.views[id]
	if !ok {
		return ViewSnapshot{}, false
	}
	v := entry.view
	graphs := graphStates(v.Graphs())
	slices.SortStableFunc(graphs, func(a, b GraphState) int { return a.Index - b.Index })

	return ViewSnapshot{
		Machine:           v.Machine(),
		State:             v.State(),
		GettingCommand:    v.GettingCommand(),
		PendingFirstStats: v.PendingFirstStats(),
		Rules:             v.Rules(),
		Metrics:           v.Metrics(),
		Graphs:            graphs,
		Presentation:      entry.presentation.State(),
		Dialogs:           m.broker.Pending(id),
	}, true
}

// push publishes the view state once at the end of the current turn
func (m *ViewManager) push(id string) {
	m.base.Loop.Once("push-view:"+id, func() {
		if snap, ok := m.snapshot(id); ok {
			m.notify.Publish(id, MsgView, snap)
		}
	})
}
