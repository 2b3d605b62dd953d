package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"monview/internal/codec"
	"monview/internal/domain"
	"monview/internal/logger"
	"monview/internal/monitoring"
	"monview/internal/repository"
	"monview/internal/service"
)

// MachineStore is the machine side of the API
type MachineStore interface {
	List(ctx context.Context) ([]*domain.Machine, error)
	Get(ctx context.Context, id string) (*domain.Machine, error)
	Save(ctx context.Context, machine *domain.Machine) error
	Delete(ctx context.Context, id string) error
	Probe(ctx context.Context, id string, checker service.ReachabilityChecker) (bool, error)
}

// MetricCatalog resolves metrics chosen in the selector
type MetricCatalog interface {
	Metric(id string) (*domain.Metric, bool)
	Associate(ctx context.Context, metric *domain.Metric, machine *domain.Machine) error
}

// PreferenceIO reads and writes persisted view preferences
type PreferenceIO interface {
	Entry(machine *domain.Machine) domain.ViewPreference
	SetEntry(machine *domain.Machine, entry domain.ViewPreference)
	Save() error
}

// MonitorHandler handles the monitoring API
type MonitorHandler struct {
	machines MachineStore
	metrics  MetricCatalog
	prefs    PreferenceIO
	views    *ViewManager
	broker   *DialogBroker
	checker  service.ReachabilityChecker
	log      logger.Logger
}

// NewMonitorHandler creates a new handler
func NewMonitorHandler(machines MachineStore, metrics MetricCatalog, prefs PreferenceIO, views *ViewManager, broker *DialogBroker, log logger.Logger) *MonitorHandler {
	if log == nil {
		log = logger.Noop()
	}
	return &MonitorHandler{
		machines: machines,
		metrics:  metrics,
		prefs:    prefs,
		views:    views,
		broker:   broker,
		log:      log,
	}
}

// SetReachabilityChecker enables the probe endpoint
func (h *MonitorHandler) SetReachabilityChecker(c service.ReachabilityChecker) {
	h.checker = c
}

// Routes registers the API on mux
func (h *MonitorHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/machines", h.ListMachines)
	mux.HandleFunc("POST /api/machines", h.SaveMachine)
	mux.HandleFunc("GET /api/machines/{id}", h.GetMachine)
	mux.HandleFunc("PUT /api/machines/{id}", h.SaveMachine)
	mux.HandleFunc("DELETE /api/machines/{id}", h.DeleteMachine)
	mux.HandleFunc("POST /api/machines/{id}/probe", h.ProbeMachine)

	mux.HandleFunc("GET /api/views", h.ListViews)
	mux.HandleFunc("GET /api/machines/{id}/view", h.GetView)
	mux.HandleFunc("POST /api/machines/{id}/view", h.OpenView)
	mux.HandleFunc("DELETE /api/machines/{id}/view", h.CloseView)
	mux.HandleFunc("POST /api/machines/{id}/view/show", h.ShowMonitoring)
	mux.HandleFunc("POST /api/machines/{id}/view/hide", h.HideMonitoring)
	mux.HandleFunc("POST /api/machines/{id}/view/data", h.FirstData)

	mux.HandleFunc("POST /api/machines/{id}/monitoring", h.EnableMonitoring)
	mux.HandleFunc("DELETE /api/machines/{id}/monitoring", h.DisableMonitoring)
	mux.HandleFunc("POST /api/machines/{id}/rules", h.AddRule)
	mux.HandleFunc("POST /api/machines/{id}/metrics", h.AssociateMetric)

	mux.HandleFunc("POST /api/machines/{id}/graphs", h.AddGraph)
	mux.HandleFunc("POST /api/machines/{id}/graphs/{key}/collapse", h.CollapseGraph)
	mux.HandleFunc("POST /api/machines/{id}/graphs/{key}/expand", h.ExpandGraph)
	mux.HandleFunc("DELETE /api/machines/{id}/graphs/{key}", h.RemoveGraph)

	mux.HandleFunc("POST /api/machines/{id}/stream/{action}", h.Stream)
	mux.HandleFunc("PUT /api/machines/{id}/time-window", h.ChangeTimeWindow)

	mux.HandleFunc("POST /api/dialogs/{id}", h.AnswerDialog)

	mux.HandleFunc("GET /api/preferences/export", h.ExportPreferences)
	mux.HandleFunc("POST /api/preferences/import", h.ImportPreferences)
}

// ErrorResponse is the body of every error
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ListMachines returns all machines
func (h *MonitorHandler) ListMachines(w http.ResponseWriter, r *http.Request) {
	machines, err := h.machines.List(r.Context())
	if err != nil {
		h.fail(w, "Failed to list machines", err)
		return
	}
	if machines == nil {
		machines = []*domain.Machine{}
	}
	h.writeJSON(w, machines, http.StatusOK)
}

// GetMachine returns a single machine
func (h *MonitorHandler) GetMachine(w http.ResponseWriter, r *http.Request) {
	machine, err := h.machines.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, "Failed to get machine", err)
		return
	}
	h.writeJSON(w, machine, http.StatusOK)
}

// SaveMachine creates or updates a machine
func (h *MonitorHandler) SaveMachine(w http.ResponseWriter, r *http.Request) {
	var machine domain.Machine
	if err := json.NewDecoder(r.Body).Decode(&machine); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	status := http.StatusCreated
	if id := r.PathValue("id"); id != "" {
		machine.ID = id // Ensure ID matches path
		status = http.StatusOK
	}
	if machine.ID == "" {
		h.writeError(w, "Machine ID is required", "", http.StatusBadRequest)
		return
	}
	if machine.Port == 0 {
		machine.Port = 22
	}

	if err := h.machines.Save(r.Context(), &machine); err != nil {
		h.fail(w, "Failed to save machine", err)
		return
	}
	h.writeJSON(w, machine, status)
}

// DeleteMachine deletes a machine and closes its view
func (h *MonitorHandler) DeleteMachine(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.machines.Delete(r.Context(), id); err != nil {
		h.fail(w, "Failed to delete machine", err)
		return
	}
	if err := h.views.Close(r.Context(), id); err != nil && !errors.Is(err, ErrViewNotOpen) {
		h.log.Warn("close view of deleted machine %s: %v", id, err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ProbeMachine checks whether the agent can be installed over SSH
func (h *MonitorHandler) ProbeMachine(w http.ResponseWriter, r *http.Request) {
	if h.checker == nil {
		h.writeError(w, "Probing disabled", "", http.StatusNotImplemented)
		return
	}
	ok, err := h.machines.Probe(r.Context(), r.PathValue("id"), h.checker)
	if err != nil {
		h.fail(w, "Failed to probe machine", err)
		return
	}
	h.writeJSON(w, map[string]bool{"reachable": ok}, http.StatusOK)
}

// ListViews returns the machine IDs with a loaded view
func (h *MonitorHandler) ListViews(w http.ResponseWriter, r *http.Request) {
	ids, err := h.views.OpenViews(r.Context())
	if err != nil {
		h.fail(w, "Failed to list views", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	h.writeJSON(w, ids, http.StatusOK)
}

// GetView returns the state of a loaded view
func (h *MonitorHandler) GetView(w http.ResponseWriter, r *http.Request) {
	snap, err := h.views.Snapshot(r.Context(), r.PathValue("id"))
	h.respond(w, "Failed to get view", snap, err)
}

// OpenView loads the view of a machine
func (h *MonitorHandler) OpenView(w http.ResponseWriter, r *http.Request) {
	machine, err := h.machines.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, "Failed to get machine", err)
		return
	}
	snap, err := h.views.Open(r.Context(), machine)
	h.respond(w, "Failed to open view", snap, err)
}

// CloseView unloads the view of a machine
func (h *MonitorHandler) CloseView(w http.ResponseWriter, r *http.Request) {
	if err := h.views.Close(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, "Failed to close view", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ShowMonitoring rebuilds and opens the graphs
func (h *MonitorHandler) ShowMonitoring(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "Failed to show monitoring", func(v *monitoring.View, _ *RemotePresentation) error {
		v.ShowMonitoring()
		return nil
	})
}

// HideMonitoring closes the graphs
func (h *MonitorHandler) HideMonitoring(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "Failed to hide monitoring", func(v *monitoring.View, _ *RemotePresentation) error {
		v.HideMonitoring()
		return nil
	})
}

// FirstData is reported by the browser once the graphs received data
func (h *MonitorHandler) FirstData(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "Failed to report data", func(_ *monitoring.View, p *RemotePresentation) error {
		p.DataReceived()
		return nil
	})
}

// EnableResponse reports how an enable request was handled
type EnableResponse struct {
	Result monitoring.EnableResult `json:"result"`
	View   ViewSnapshot            `json:"view"`
}

// EnableMonitoring starts the enable flow. Dialogs follow over SSE.
func (h *MonitorHandler) EnableMonitoring(w http.ResponseWriter, r *http.Request) {
	var result monitoring.EnableResult
	snap, err := h.views.Do(r.Context(), r.PathValue("id"), func(v *monitoring.View, _ *RemotePresentation) error {
		result = v.EnableMonitoring()
		return nil
	})
	if err != nil {
		h.fail(w, "Failed to enable monitoring", err)
		return
	}
	h.writeJSON(w, EnableResponse{Result: result, View: snap}, http.StatusAccepted)
}

// DisableMonitoring asks for confirmation and then disables monitoring. The
// outcome follows over SSE.
func (h *MonitorHandler) DisableMonitoring(w http.ResponseWriter, r *http.Request) {
	var started bool
	snap, err := h.views.Do(r.Context(), r.PathValue("id"), func(v *monitoring.View, _ *RemotePresentation) error {
		started = v.DisableMonitoring(nil)
		return nil
	})
	if err != nil {
		h.fail(w, "Failed to disable monitoring", err)
		return
	}
	if !started {
		h.writeError(w, "Monitoring is not enabled", string(snap.State), http.StatusConflict)
		return
	}
	h.writeJSON(w, snap, http.StatusAccepted)
}

// AddRule creates a default rule for the machine
func (h *MonitorHandler) AddRule(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "Failed to add rule", func(v *monitoring.View, _ *RemotePresentation) error {
		v.AddRule()
		return nil
	})
}

// AddGraph opens the metric selector
func (h *MonitorHandler) AddGraph(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "Failed to add graph", func(v *monitoring.View, _ *RemotePresentation) error {
		v.AddGraph()
		return nil
	})
}

// AssociateRequest is the metric picked in the selector
type AssociateRequest struct {
	MetricID string `json:"metric_id"`
}

// AssociateMetric enables a custom metric on the machine
func (h *MonitorHandler) AssociateMetric(w http.ResponseWriter, r *http.Request) {
	var req AssociateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	metric, ok := h.metrics.Metric(req.MetricID)
	if !ok {
		h.writeError(w, "Not found", fmt.Sprintf("metric %s", req.MetricID), http.StatusNotFound)
		return
	}
	machine, err := h.machines.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, "Failed to get machine", err)
		return
	}
	if err := h.metrics.Associate(r.Context(), metric, machine); err != nil {
		h.fail(w, "Failed to add metric", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CollapseGraph hides a graph
func (h *MonitorHandler) CollapseGraph(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	h.do(w, r, "Failed to collapse graph", func(v *monitoring.View, _ *RemotePresentation) error {
		if !v.CollapseGraph(key) {
			return graphNotFound(key)
		}
		return nil
	})
}

// ExpandGraph shows a hidden graph
func (h *MonitorHandler) ExpandGraph(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	h.do(w, r, "Failed to expand graph", func(v *monitoring.View, _ *RemotePresentation) error {
		if !v.ExpandGraph(key) {
			return graphNotFound(key)
		}
		return nil
	})
}

// RemoveGraph asks for confirmation and removes the graph's metric
func (h *MonitorHandler) RemoveGraph(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	snap, err := h.views.Do(r.Context(), r.PathValue("id"), func(v *monitoring.View, _ *RemotePresentation) error {
		if !v.RemoveGraph(key, nil) {
			return graphNotFound(key)
		}
		return nil
	})
	if err != nil {
		h.fail(w, "Failed to remove graph", err)
		return
	}
	h.writeJSON(w, snap, http.StatusAccepted)
}

// Stream drives live updates: start, stop, back or forward
func (h *MonitorHandler) Stream(w http.ResponseWriter, r *http.Request) {
	var action func(v *monitoring.View)
	switch r.PathValue("action") {
	case "start":
		action = (*monitoring.View).ResetStream
	case "stop":
		action = (*monitoring.View).PauseStream
	case "back":
		action = (*monitoring.View).Back
	case "forward":
		action = (*monitoring.View).Forward
	default:
		h.writeError(w, "Unknown stream action", r.PathValue("action"), http.StatusBadRequest)
		return
	}
	h.do(w, r, "Failed to control stream", func(v *monitoring.View, _ *RemotePresentation) error {
		action(v)
		return nil
	})
}

// TimeWindowRequest changes the graph resolution
type TimeWindowRequest struct {
	Window string `json:"window"`
}

// ChangeTimeWindow switches the resolution and persists it
func (h *MonitorHandler) ChangeTimeWindow(w http.ResponseWriter, r *http.Request) {
	var req TimeWindowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Window) == "" {
		h.writeError(w, "Window is required", "", http.StatusBadRequest)
		return
	}
	h.do(w, r, "Failed to change time window", func(v *monitoring.View, _ *RemotePresentation) error {
		v.ChangeTimeWindow(req.Window)
		return nil
	})
}

// DialogAnswer is the user's decision
type DialogAnswer struct {
	Confirmed bool `json:"confirmed"`
}

// AnswerDialog resolves an open dialog
func (h *MonitorHandler) AnswerDialog(w http.ResponseWriter, r *http.Request) {
	var req DialogAnswer
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	var (
		machine   string
		answerErr error
	)
	err := h.views.base.Loop.Call(r.Context(), func() {
		machine, answerErr = h.broker.Answer(r.PathValue("id"), req.Confirmed)
	})
	if err == nil {
		err = answerErr
	}
	if err != nil {
		h.fail(w, "Failed to answer dialog", err)
		return
	}

	snap, err := h.views.Snapshot(r.Context(), machine)
	if errors.Is(err, ErrViewNotOpen) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.respond(w, "Failed to get view", snap, err)
}

// ExportPreferences writes the preferences of every machine as json or yaml
func (h *MonitorHandler) ExportPreferences(w http.ResponseWriter, r *http.Request) {
	c, err := codec.ForFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeError(w, "Invalid format", err.Error(), http.StatusBadRequest)
		return
	}

	machines, err := h.machines.List(r.Context())
	if err != nil {
		h.fail(w, "Failed to list machines", err)
		return
	}

	prefs := make(codec.Preferences, len(machines))
	for _, m := range machines {
		prefs[m.ID] = h.prefs.Entry(m)
	}

	w.Header().Set("Content-Type", c.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=preferences.%s", c.Format()))
	if err := c.Export(prefs, w); err != nil {
		// Can't write error response as we already started the body
		h.log.Error("export preferences: %v", err)
	}
}

// ImportPreferences replaces the preferences of the machines in the document
func (h *MonitorHandler) ImportPreferences(w http.ResponseWriter, r *http.Request) {
	c, err := codec.ForFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeError(w, "Invalid format", err.Error(), http.StatusBadRequest)
		return
	}

	prefs, err := c.Parse(r.Body)
	if err != nil {
		h.writeError(w, "Invalid document", err.Error(), http.StatusBadRequest)
		return
	}

	var imported, skipped []string
	for id, entry := range prefs {
		m, err := h.machines.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				skipped = append(skipped, id)
				continue
			}
			h.fail(w, "Failed to get machine", err)
			return
		}
		h.prefs.SetEntry(m, entry)
		imported = append(imported, id)
	}
	if err := h.prefs.Save(); err != nil {
		h.fail(w, "Failed to save preferences", err)
		return
	}

	h.writeJSON(w, map[string][]string{"imported": imported, "skipped": skipped}, http.StatusOK)
}

// Helper methods

var errGraphNotFound = errors.New("graph not found")

func graphNotFound(key string) error {
	return fmt.Errorf("%w: %s", errGraphNotFound, key)
}

func (h *MonitorHandler) do(w http.ResponseWriter, r *http.Request, msg string, fn func(*monitoring.View, *RemotePresentation) error) {
	snap, err := h.views.Do(r.Context(), r.PathValue("id"), fn)
	h.respond(w, msg, snap, err)
}

func (h *MonitorHandler) respond(w http.ResponseWriter, msg string, data any, err error) {
	if err != nil {
		h.fail(w, msg, err)
		return
	}
	h.writeJSON(w, data, http.StatusOK)
}

func (h *MonitorHandler) fail(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, ErrUnknownDialog),
		errors.Is(err, errGraphNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrViewNotOpen):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.log.Error("%s: %v", msg, err)
	}
	h.writeError(w, msg, err.Error(), status)
}

func (h *MonitorHandler) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("encode JSON: %v", err)
	}
}

func (h *MonitorHandler) writeError(w http.ResponseWriter, error, details string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Details: details,
	}); err != nil {
		h.log.Error("encode error response: %v", err)
	}
}
