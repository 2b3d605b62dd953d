package handler

import (
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"

	"monview/internal/domain"
	"monview/internal/monitoring"
)

// Push message types
const (
	MsgDialog        = "dialog"
	MsgDialogClosed  = "dialog_closed"
	MsgPresentation  = "presentation"
	MsgSelectMetric  = "select_metric"
	MsgView          = "view"
	MsgLoginRequired = "login_required"
)

// ErrUnknownDialog is returned when answering a dialog that is not open
var ErrUnknownDialog = errors.New("unknown dialog")

// Notifier pushes messages to connected browsers
type Notifier interface {
	Publish(machine, typ string, data any)
}

// DialogMessage is an open dialog as sent to browsers
type DialogMessage struct {
	ID      string            `json:"id"`
	Machine string            `json:"machine"`
	Kind    domain.DialogKind `json:"kind"`
	Title   string            `json:"title"`
	Body    []domain.Block    `json:"body"`
}

type pendingDialog struct {
	msg    DialogMessage
	dialog domain.Dialog
}

// DialogBroker shows dialogs in the browser and routes answers back
type DialogBroker struct {
	mu      sync.Mutex
	pending map[string]pendingDialog
	order   []string
	notify  Notifier
}

// NewDialogBroker creates a broker that pushes through notify
func NewDialogBroker(notify Notifier) *DialogBroker {
	return &DialogBroker{
		pending: make(map[string]pendingDialog),
		notify:  notify,
	}
}

// For returns the Dialogs collaborator of one machine's view
func (b *DialogBroker) For(machineID string) monitoring.Dialogs {
	return machineDialogs{broker: b, machine: machineID}
}

type machineDialogs struct {
	broker  *DialogBroker
	machine string
}

func (d machineDialogs) Open(dialog domain.Dialog) {
	d.broker.open(d.machine, dialog)
}

func (b *DialogBroker) open(machine string, dialog domain.Dialog) {
	msg := DialogMessage{
		ID:      uuid.NewString(),
		Machine: machine,
		Kind:    dialog.Kind,
		Title:   dialog.Title,
		Body:    dialog.Body,
	}

	b.mu.Lock()
	b.pending[msg.ID] = pendingDialog{msg: msg, dialog: dialog}
	b.order = append(b.order, msg.ID)
	b.mu.Unlock()

	b.notify.Publish(machine, MsgDialog, msg)
}

// Answer resolves an open dialog. It runs the dialog's callback, so call it
// on the loop.
func (b *DialogBroker) Answer(id string, confirmed bool) (string, error) {
	b.mu.Lock()
	p, ok := b.pending[id]
	if ok {
		b.remove(id)
	}
	b.mu.Unlock()

	if !ok {
		return "", ErrUnknownDialog
	}

	b.notify.Publish(p.msg.Machine, MsgDialogClosed, map[string]any{"id": id, "confirmed": confirmed})
	p.dialog.Resolve(confirmed)
	return p.msg.Machine, nil
}

// Pending returns the open dialogs of a machine in the order they were opened
func (b *DialogBroker) Pending(machine string) []DialogMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []DialogMessage
	for _, id := range b.order {
		if p := b.pending[id]; p.msg.Machine == machine {
			out = append(out, p.msg)
		}
	}
	return out
}

// Dismiss declines every open dialog of a machine. Call it on the loop.
func (b *DialogBroker) Dismiss(machine string) {
	for _, msg := range b.Pending(machine) {
		b.Answer(msg.ID, false)
	}
}

// remove must be called with mu held
func (b *DialogBroker) remove(id string) {
	delete(b.pending, id)
	b.order = slices.DeleteFunc(b.order, func(o string) bool { return o == id })
}

// GraphState is a graph as sent to browsers
type GraphState struct {
	Key            string `json:"key"`
	Title          string `json:"title"`
	Metric         string `json:"metric,omitempty"`
	Index          int    `json:"index"`
	Hidden         bool   `json:"hidden"`
	PendingRemoval bool   `json:"pending_removal"`
}

func graphStates(graphs []*domain.Graph) []GraphState {
	out := make([]GraphState, 0, len(graphs))
	for _, g := range graphs {
		s := GraphState{
			Key:            g.Key(),
			Title:          g.Title,
			Index:          g.Index,
			Hidden:         g.IsHidden,
			PendingRemoval: g.PendingRemoval,
		}
		if m := g.Metric(); m != nil {
			s.Metric = m.ID
		}
		out = append(out, s)
	}
	return out
}

// PresentationState is what the browser should currently render
type PresentationState struct {
	Open      bool                          `json:"open"`
	Streaming bool                          `json:"streaming"`
	Config    monitoring.PresentationConfig `json:"config"`
}

// RemotePresentation renders a view's graphs in the browser. Graph data is
// fetched by the browser itself; this side only drives it.
type RemotePresentation struct {
	machine string
	notify  Notifier

	mu        sync.Mutex
	state     PresentationState
	firstData func()
}

// NewRemotePresentation creates the presentation of one machine's view
func NewRemotePresentation(machine string, notify Notifier) *RemotePresentation {
	return &RemotePresentation{machine: machine, notify: notify}
}

func (p *RemotePresentation) push(action string, extra map[string]any) {
	data := map[string]any{"action": action}
	for k, v := range extra {
		data[k] = v
	}
	p.notify.Publish(p.machine, MsgPresentation, data)
}

// Open shows graphs and starts streaming into them
func (p *RemotePresentation) Open(graphs *domain.Collection[*domain.Graph], cfg monitoring.PresentationConfig) {
	p.mu.Lock()
	p.state = PresentationState{Open: true, Streaming: true, Config: cfg}
	p.mu.Unlock()
	p.push("open", map[string]any{"graphs": graphStates(graphs.Items()), "config": cfg})
}

// Close removes the graphs
func (p *RemotePresentation) Close() {
	p.mu.Lock()
	p.state.Open = false
	p.state.Streaming = false
	p.firstData = nil
	p.mu.Unlock()
	p.push("close", nil)
}

// IsOpen reports whether graphs are shown
func (p *RemotePresentation) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Open
}

// Start resumes streaming
func (p *RemotePresentation) Start() {
	p.setStreaming(true)
	p.push("start", nil)
}

// Stop pauses streaming
func (p *RemotePresentation) Stop() {
	p.setStreaming(false)
	p.push("stop", nil)
}

func (p *RemotePresentation) setStreaming(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Streaming = on
}

// IsStreaming reports whether live data flows into the graphs
func (p *RemotePresentation) IsStreaming() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Streaming
}

// GoBack moves the time window into the past
func (p *RemotePresentation) GoBack() { p.push("back", nil) }

// GoForward moves the time window towards now
func (p *RemotePresentation) GoForward() { p.push("forward", nil) }

// ChangeTimeWindow changes the resolution of the graphs
func (p *RemotePresentation) ChangeTimeWindow(window string) {
	p.mu.Lock()
	p.state.Config.TimeWindow = window
	p.mu.Unlock()
	p.push("time_window", map[string]any{"window": window})
}

// OnFirstData registers fn for the next DataReceived
func (p *RemotePresentation) OnFirstData(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.firstData = fn
}

// DataReceived is reported by the browser once data arrived. Call it on the loop.
func (p *RemotePresentation) DataReceived() {
	p.mu.Lock()
	fn := p.firstData
	p.firstData = nil
	p.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// State returns a copy of the presentation state
func (p *RemotePresentation) State() PresentationState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// MetricCandidates lists the metrics that could still be added to a machine
type MetricCandidates func(machine *domain.Machine) []*domain.Metric

// RemoteSelector asks the browser to pick a metric. The choice comes back
// through the associate endpoint.
type RemoteSelector struct {
	notify     Notifier
	candidates MetricCandidates
}

// NewRemoteSelector creates a selector offering candidates
func NewRemoteSelector(notify Notifier, candidates MetricCandidates) *RemoteSelector {
	return &RemoteSelector{notify: notify, candidates: candidates}
}

// Open pushes the candidate list for machine
func (s *RemoteSelector) Open(machine *domain.Machine) {
	var metrics []*domain.Metric
	if s.candidates != nil {
		metrics = s.candidates(machine)
	}
	s.notify.Publish(machine.ID, MsgSelectMetric, map[string]any{"metrics": metrics})
}
