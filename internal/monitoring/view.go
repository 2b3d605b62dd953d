package monitoring

import (
	"cmp"
	"fmt"

	"monview/internal/domain"
	"monview/internal/logger"
	"monview/internal/service"
)

// View is the monitoring view of one machine. Every exported method must be
// called from the view's loop.
type View struct {
	machine *domain.Machine
	deps    Deps
	log     logger.Logger

	rules   *domain.Collection[*domain.Rule]
	metrics *domain.Collection[*domain.Metric]
	graphs  *domain.Collection[*domain.Graph]

	reconciler *Reconciler
	state      *StateMachine
	graphCtl   *GraphController

	subs              []*service.Subscription
	loaded            bool
	pendingFirstStats bool
	reconcileKey      string
}

// NewView creates an unloaded view for machine. The machine is copied; later
// changes arrive through machine_updated events.
func NewView(machine *domain.Machine, deps Deps) (*View, error) {
	if machine == nil {
		return nil, fmt.Errorf("%w: machine", ErrMissingDependency)
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	deps.applyDefaults()

	m := *machine
	v := &View{
		machine: &m,
		deps:    deps,
		log:     deps.Logger.Named("view"),
		rules:   domain.NewCollection[*domain.Rule](),
		metrics: domain.NewCollection[*domain.Metric](),
		graphs:  domain.NewCollection[*domain.Graph](),
	}
	v.deps.Logger = v.log
	v.reconcileKey = fmt.Sprintf("reconcile-graphs:%p", v)
	v.reconciler = NewReconciler(deps.Preferences, v.log, deps.Recorder)
	v.state = NewStateMachine(v.machine, &v.deps, v.ShowMonitoring, v.HideMonitoring)
	v.graphCtl = NewGraphController(v.machine, v.graphs, &v.deps)

	v.metrics.Observe(func(ch domain.Change[*domain.Metric]) {
		if ch.Kind == domain.ChangeAdded || ch.Kind == domain.ChangeRemoved {
			v.deps.Loop.Once(v.reconcileKey, v.updateGraphs)
		}
	})
	return v, nil
}

// Load subscribes to domain events and applies the current monitoring flag
func (v *View) Load() {
	if v.loaded {
		return
	}
	v.loaded = true
	v.subs = append(v.subs,
		v.deps.Events.On(service.EventRuleAdded, v.post(v.ruleAdded)),
		v.deps.Events.On(service.EventRuleDeleted, v.post(v.ruleDeleted)),
		v.deps.Events.On(service.EventMetricAdded, v.post(v.metricAdded)),
		v.deps.Events.On(service.EventMetricDeleted, v.post(v.metricDeleted)),
		v.deps.Events.On(service.EventMetricDisassociated, v.post(v.metricDeleted)),
		v.deps.Events.On(service.EventMachineUpdated, v.post(v.machineUpdated)),
	)
	v.log.Info("view loaded for %s", v.machine.ID)
	v.state.Observe(v.machine.HasMonitoring)
}

// Unload drops subscriptions, clears the collections and closes the graphs
func (v *View) Unload() {
	if !v.loaded {
		return
	}
	v.loaded = false
	for _, s := range v.subs {
		s.Unsubscribe()
	}
	v.subs = nil
	v.clear()
	v.hideGraphs()
	v.state.reset()
	v.log.Info("view unloaded for %s", v.machine.ID)
}

// ShowMonitoring rebuilds rules, metrics and graphs and opens the graphs
func (v *View) ShowMonitoring() {
	v.clear()
	v.updateRules()
	v.updateMetrics()
	v.updateGraphs()
	v.showGraphs()
}

// HideMonitoring closes the graphs and clears the collections
func (v *View) HideMonitoring() {
	v.hideGraphs()
	v.clear()
}

// EnableMonitoring starts the enable flow
func (v *View) EnableMonitoring() EnableResult {
	return v.state.RequestEnable()
}

// DisableMonitoring starts the disable flow
func (v *View) DisableMonitoring(done func(ok bool)) bool {
	return v.state.RequestDisable(done)
}

// AddRule creates a rule for the machine
func (v *View) AddRule() {
	v.deps.Rules.Create(v.machine)
}

// AddGraph opens the metric selector
func (v *View) AddGraph() {
	v.graphCtl.Add()
}

// CollapseGraph hides the graph with the given key
func (v *View) CollapseGraph(key string) bool {
	g, ok := v.graphs.Get(key)
	if !ok {
		return false
	}
	v.graphCtl.Collapse(g)
	return true
}

// ExpandGraph shows the graph with the given key again
func (v *View) ExpandGraph(key string) bool {
	g, ok := v.graphs.Get(key)
	if !ok {
		return false
	}
	v.graphCtl.Expand(g)
	return true
}

// RemoveGraph starts removal of the graph with the given key
func (v *View) RemoveGraph(key string, done func(ok bool)) bool {
	g, ok := v.graphs.Get(key)
	if !ok {
		return false
	}
	return v.graphCtl.Remove(g, done)
}

// Back moves the graphs one time window into the past
func (v *View) Back() { v.deps.Presentation.GoBack() }

// Forward moves the graphs one time window ahead
func (v *View) Forward() { v.deps.Presentation.GoForward() }

// ResetStream resumes live updates
func (v *View) ResetStream() { v.deps.Presentation.Start() }

// PauseStream stops live updates
func (v *View) PauseStream() { v.deps.Presentation.Stop() }

// ChangeTimeWindow switches the graph resolution and persists the choice
func (v *View) ChangeTimeWindow(window string) {
	v.deps.Presentation.ChangeTimeWindow(window)
	entry := v.deps.Preferences.Entry(v.machine).Clone()
	entry.TimeWindow = window
	v.deps.Preferences.SetEntry(v.machine, entry)
	if err := v.deps.Preferences.Save(); err != nil {
		v.log.Warn("save preferences for %s: %v", v.machine.ID, err)
	}
}

// Machine returns the view's copy of the machine
func (v *View) Machine() domain.Machine { return *v.machine }

// Rules returns the rules of the machine
func (v *View) Rules() []*domain.Rule { return v.rules.Items() }

// Metrics returns the metrics of the machine
func (v *View) Metrics() []*domain.Metric { return v.metrics.Items() }

// Graphs returns the graphs of the machine
func (v *View) Graphs() []*domain.Graph { return v.graphs.Items() }

// State returns the monitoring state
func (v *View) State() State { return v.state.State() }

// GettingCommand reports whether an install command is being fetched
func (v *View) GettingCommand() bool { return v.state.GettingCommand() }

// PendingFirstStats reports whether opened graphs still wait for data
func (v *View) PendingFirstStats() bool { return v.pendingFirstStats }

// Loaded reports whether the view is subscribed to events
func (v *View) Loaded() bool { return v.loaded }

func (v *View) clear() {
	v.rules.Clear()
	v.graphs.Clear()
	v.metrics.Clear()
}

func (v *View) updateRules() {
	for _, r := range v.deps.Rules.Rules() {
		if r.BelongsTo(v.machine) {
			v.rules.Add(r)
		}
	}
}

func (v *View) updateMetrics() {
	for _, m := range v.deps.Metrics.BuiltInMetrics() {
		v.metrics.Add(m)
	}
	for _, m := range v.deps.Metrics.CustomMetrics() {
		if m.HasMachine(v.machine) {
			v.metrics.Add(m)
		}
	}
}

func (v *View) updateGraphs() {
	v.reconciler.Reconcile(v.machine, v.metrics.Items(), v.graphs, v.deps.Presentation)
}

func (v *View) showGraphs() {
	p := v.deps.Presentation
	if p.IsOpen() {
		return
	}
	v.graphs.SortFunc(func(a, b *domain.Graph) int {
		return cmp.Compare(a.Index, b.Index)
	})

	window := v.deps.Preferences.Entry(v.machine).TimeWindow
	if window == "" {
		window = domain.DefaultTimeWindow
	}

	v.pendingFirstStats = true
	p.Open(v.graphs, PresentationConfig{
		CanModify:   true,
		CanControl:  true,
		CanMinimize: true,
		TimeWindow:  window,
	})
	p.OnFirstData(func() {
		v.deps.Loop.Post(func() { v.pendingFirstStats = false })
	})
}

func (v *View) hideGraphs() {
	v.pendingFirstStats = false
	if v.deps.Presentation.IsOpen() {
		v.deps.Presentation.Close()
	}
}

// post adapts a view handler to the bus, moving delivery onto the loop
func (v *View) post(fn func(service.Event)) service.Handler {
	return func(e service.Event) {
		v.deps.Loop.Post(func() {
			if v.loaded {
				fn(e)
			}
		})
	}
}

func (v *View) ruleAdded(e service.Event) {
	if r := ruleOf(e); r != nil && r.BelongsTo(v.machine) {
		v.rules.Add(r)
	}
}

func (v *View) ruleDeleted(e service.Event) {
	if r := ruleOf(e); r != nil && r.BelongsTo(v.machine) {
		v.rules.Remove(r.Key())
	}
}

// metricAdded handles association with this machine, and catalog additions
// published without a machine.
func (v *View) metricAdded(e service.Event) {
	machine, metric := metricOf(e)
	if metric == nil {
		return
	}
	if machine == nil && !metric.HasMachine(v.machine) {
		return
	}
	if machine != nil && !v.machine.Equals(machine) {
		return
	}
	v.metrics.Add(metric)
}

// metricDeleted handles both deletion and disassociation. A deletion event
// without a machine applies to every view.
func (v *View) metricDeleted(e service.Event) {
	machine, metric := metricOf(e)
	if metric == nil {
		return
	}
	if machine != nil && !v.machine.Equals(machine) {
		return
	}
	v.metrics.Remove(metric.Key())
}

func (v *View) machineUpdated(e service.Event) {
	m := machineOf(e)
	if m == nil || !v.machine.Equals(m) {
		return
	}
	*v.machine = *m
	v.state.Observe(v.machine.HasMonitoring)
}

func ruleOf(e service.Event) *domain.Rule {
	switch p := e.Payload.(type) {
	case service.RuleEvent:
		return p.Rule
	case *service.RuleEvent:
		return p.Rule
	}
	return nil
}

func metricOf(e service.Event) (*domain.Machine, *domain.Metric) {
	switch p := e.Payload.(type) {
	case service.MetricEvent:
		return p.Machine, p.Metric
	case *service.MetricEvent:
		return p.Machine, p.Metric
	}
	return nil, nil
}

func machineOf(e service.Event) *domain.Machine {
	switch p := e.Payload.(type) {
	case service.MachineEvent:
		return p.Machine
	case *service.MachineEvent:
		return p.Machine
	}
	return nil
}
