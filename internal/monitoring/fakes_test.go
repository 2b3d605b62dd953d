package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"monview/internal/domain"
	"monview/internal/loop"
	"monview/internal/service"
)

type fakeRules struct {
	rules   []*domain.Rule
	created []*domain.Machine
}

func (f *fakeRules) Rules() []*domain.Rule          { return f.rules }
func (f *fakeRules) Create(machine *domain.Machine) { f.created = append(f.created, machine) }

type metricCall struct {
	op     string
	metric string
	done   func(bool)
}

type fakeMetrics struct {
	builtIn []*domain.Metric
	custom  []*domain.Metric
	calls   []metricCall
}

func (f *fakeMetrics) BuiltInMetrics() []*domain.Metric { return f.builtIn }
func (f *fakeMetrics) CustomMetrics() []*domain.Metric  { return f.custom }

func (f *fakeMetrics) Disassociate(metric *domain.Metric, _ *domain.Machine, done func(bool)) {
	f.calls = append(f.calls, metricCall{op: "disassociate", metric: metric.ID, done: done})
}

func (f *fakeMetrics) DisableMetric(metric *domain.Metric, _ *domain.Machine, done func(bool)) {
	f.calls = append(f.calls, metricCall{op: "disable", metric: metric.ID, done: done})
}

func (f *fakeMetrics) ops() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.op + ":" + c.metric
	}
	return out
}

func (f *fakeMetrics) last() metricCall { return f.calls[len(f.calls)-1] }

type fakeMonitoring struct {
	commandCalls int
	commandDone  func(bool, string)
	enableCalls  []bool // force flag per call
	enableDone   func(bool)
	disableCalls int
	disableDone  func(bool)
}

func (f *fakeMonitoring) InstallCommand(_ *domain.Machine, done func(bool, string)) {
	f.commandCalls++
	f.commandDone = done
}

func (f *fakeMonitoring) Enable(_ *domain.Machine, force bool, done func(bool)) {
	f.enableCalls = append(f.enableCalls, force)
	f.enableDone = done
}

func (f *fakeMonitoring) Disable(_ *domain.Machine, done func(bool)) {
	f.disableCalls++
	f.disableDone = done
}

type fakePrefs struct {
	entries map[string]domain.ViewPreference
	saves   int
	saveErr error
}

func newFakePrefs() *fakePrefs {
	return &fakePrefs{entries: make(map[string]domain.ViewPreference)}
}

func (f *fakePrefs) Entry(m *domain.Machine) domain.ViewPreference {
	if e, ok := f.entries[m.ID]; ok {
		return e.Clone()
	}
	return domain.NewViewPreference()
}

func (f *fakePrefs) SetEntry(m *domain.Machine, e domain.ViewPreference) {
	f.entries[m.ID] = e.Clone()
}

func (f *fakePrefs) Save() error {
	f.saves++
	return f.saveErr
}

type fakeDialogs struct {
	opened []domain.Dialog
}

func (f *fakeDialogs) Open(d domain.Dialog) { f.opened = append(f.opened, d) }

func (f *fakeDialogs) last(t *testing.T) domain.Dialog {
	t.Helper()
	require.NotEmpty(t, f.opened, "no dialog opened")
	return f.opened[len(f.opened)-1]
}

type fakePresentation struct {
	open      bool
	streaming bool
	calls     []string
	cfg       PresentationConfig
	shown     []string // graph keys in the order handed over
	firstData func()
}

func (f *fakePresentation) Open(graphs *domain.Collection[*domain.Graph], cfg PresentationConfig) {
	f.calls = append(f.calls, "open")
	f.open = true
	f.cfg = cfg
	f.shown = nil
	for _, g := range graphs.Items() {
		f.shown = append(f.shown, g.Key())
	}
}

func (f *fakePresentation) Close() {
	f.calls = append(f.calls, "close")
	f.open = false
	f.streaming = false
}

func (f *fakePresentation) IsOpen() bool { return f.open }

func (f *fakePresentation) Start() {
	f.calls = append(f.calls, "start")
	f.streaming = true
}

func (f *fakePresentation) Stop() {
	f.calls = append(f.calls, "stop")
	f.streaming = false
}

func (f *fakePresentation) IsStreaming() bool { return f.streaming }
func (f *fakePresentation) GoBack()           { f.calls = append(f.calls, "back") }
func (f *fakePresentation) GoForward()        { f.calls = append(f.calls, "forward") }

func (f *fakePresentation) ChangeTimeWindow(w string) {
	f.calls = append(f.calls, "window:"+w)
}

func (f *fakePresentation) OnFirstData(fn func()) { f.firstData = fn }

type fakeSession struct {
	authenticated bool
	plan          bool
	prompts       int
}

func (f *fakeSession) Authenticated() bool { return f.authenticated }
func (f *fakeSession) HasPlan() bool       { return f.plan }
func (f *fakeSession) PromptLogin()        { f.prompts++ }

type fakeSelector struct {
	opened []*domain.Machine
}

func (f *fakeSelector) Open(m *domain.Machine) { f.opened = append(f.opened, m) }

type fakeRecorder struct {
	passes  []int
	actions []string
}

func (f *fakeRecorder) Reconciled(added int) { f.passes = append(f.passes, added) }

func (f *fakeRecorder) Action(name string, ok bool) {
	if ok {
		f.actions = append(f.actions, name+":ok")
	} else {
		f.actions = append(f.actions, name+":failed")
	}
}

type harness struct {
	loop         *loop.Loop
	bus          *service.EventBus
	rules        *fakeRules
	metrics      *fakeMetrics
	monitoring   *fakeMonitoring
	prefs        *fakePrefs
	dialogs      *fakeDialogs
	presentation *fakePresentation
	session      *fakeSession
	selector     *fakeSelector
	recorder     *fakeRecorder
}

func newHarness() *harness {
	return &harness{
		loop:         loop.New(),
		bus:          service.NewEventBus(),
		rules:        &fakeRules{},
		metrics:      &fakeMetrics{},
		monitoring:   &fakeMonitoring{},
		prefs:        newFakePrefs(),
		dialogs:      &fakeDialogs{},
		presentation: &fakePresentation{},
		session:      &fakeSession{authenticated: true, plan: true},
		selector:     &fakeSelector{},
		recorder:     &fakeRecorder{},
	}
}

func (h *harness) deps() Deps {
	d := Deps{
		Loop:         h.loop,
		Events:       h.bus,
		Rules:        h.rules,
		Metrics:      h.metrics,
		Monitoring:   h.monitoring,
		Preferences:  h.prefs,
		Dialogs:      h.dialogs,
		Presentation: h.presentation,
		Session:      h.session,
		Selector:     h.selector,
		Recorder:     h.recorder,
		DisableDelay: time.Millisecond,
	}
	d.applyDefaults()
	return d
}

func (h *harness) view(t *testing.T, m *domain.Machine) *View {
	t.Helper()
	v, err := NewView(m, h.deps())
	require.NoError(t, err)
	return v
}

// answer resolves the most recent dialog and runs the resulting turns
func (h *harness) answer(t *testing.T, confirmed bool) {
	t.Helper()
	h.dialogs.last(t).Resolve(confirmed)
	h.loop.Drain()
}

func builtIn(id string) *domain.Metric {
	return &domain.Metric{ID: id, Name: id, BuiltIn: true}
}

func custom(id string, plugin bool, machines ...string) *domain.Metric {
	return &domain.Metric{ID: id, Name: id, IsPlugin: plugin, Machines: machines}
}

var errSave = errors.New("disk full")
