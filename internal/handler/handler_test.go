package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monview/internal/domain"
	"monview/internal/loop"
	"monview/internal/monitoring"
	"monview/internal/preferences"
	"monview/internal/repository/sqlite"
	"monview/internal/service"
)

type pushed struct {
	machine, typ string
	data         any
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []pushed
}

func (n *recordingNotifier) Publish(machine, typ string, data any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, pushed{machine, typ, data})
}

func (n *recordingNotifier) count(typ string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.msgs {
		if m.typ == typ {
			c++
		}
	}
	return c
}

type server struct {
	t        *testing.T
	srv      *httptest.Server
	machines *service.MachineService
	metrics  *service.MetricService
	prefs    *preferences.Store
	notify   *recordingNotifier
	views    *ViewManager
}

func newServer(t *testing.T) *server {
	t.Helper()
	repo, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	bus := service.NewEventBus()
	machines := service.NewMachineService(repo, bus, nil)
	rules := service.NewRuleService(repo, bus, nil)
	metrics := service.NewMetricService(repo, nil, bus, []*domain.Metric{{ID: "cpu", Name: "CPU"}}, nil)
	mon, err := service.NewMonitoringService(machines, nil, "", nil)
	require.NoError(t, err)
	prefs := preferences.New(repo, nil)

	l := loop.New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go l.Run(ctx)

	notify := &recordingNotifier{}
	broker := NewDialogBroker(notify)
	views := NewViewManager(monitoring.Deps{
		Loop:         l,
		Events:       bus,
		Rules:        rules,
		Metrics:      metrics,
		Monitoring:   mon,
		Preferences:  prefs,
		Session:      service.NewSession(true, true, nil),
		DisableDelay: time.Millisecond,
	}, broker, notify, nil, nil, nil)

	h := NewMonitorHandler(machines, metrics, prefs, views, broker, nil)
	mux := http.NewServeMux()
	h.Routes(mux)
	srv := httptest.NewServer(Chain(mux, CORS))
	t.Cleanup(srv.Close)

	require.NoError(t, machines.Save(context.Background(), domain.NewMachine("m1", "web", "10.0.0.1")))

	return &server{t: t, srv: srv, machines: machines, metrics: metrics, prefs: prefs, notify: notify, views: views}
}

func (s *server) do(method, path string, body any) (*http.Response, []byte) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(s.t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(s.t, err)
	return resp, out.Bytes()
}

func (s *server) view(id string) ViewSnapshot {
	s.t.Helper()
	resp, body := s.do(http.MethodGet, "/api/machines/"+id+"/view", nil)
	require.Equal(s.t, http.StatusOK, resp.StatusCode, string(body))
	var snap ViewSnapshot
	require.NoError(s.t, json.Unmarshal(body, &snap))
	return snap
}

// answer waits for the only open dialog of m1 and answers it
func (s *server) answer(confirmed bool) DialogMessage {
	s.t.Helper()
	var dialog DialogMessage
	require.Eventually(s.t, func() bool {
		d := s.view("m1").Dialogs
		if len(d) == 1 {
			dialog = d[0]
			return true
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	resp, body := s.do(http.MethodPost, "/api/dialogs/"+dialog.ID, DialogAnswer{Confirmed: confirmed})
	require.Equal(s.t, http.StatusOK, resp.StatusCode, string(body))
	return dialog
}

func TestMachineEndpoints(t *testing.T) {
	s := newServer(t)

	resp, body := s.do(http.MethodPost, "/api/machines", domain.Machine{ID: "m2", Name: "db", Host: "10.0.0.2"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = s.do(http.MethodGet, "/api/machines", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var machines []domain.Machine
	require.NoError(t, json.Unmarshal(body, &machines))
	assert.Len(t, machines, 2)

	resp, body = s.do(http.MethodGet, "/api/machines/m2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var m domain.Machine
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, 22, m.Port)

	resp, _ = s.do(http.MethodPost, "/api/machines", domain.Machine{Name: "no id"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(http.MethodGet, "/api/machines/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(http.MethodPost, "/api/machines/m2/probe", nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp, _ = s.do(http.MethodDelete, "/api/machines/m2", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = s.do(http.MethodGet, "/api/machines/m2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestViewRequiresOpen(t *testing.T) {
	s := newServer(t)

	for _, path := range []string{"/api/machines/m1/view/show", "/api/machines/m1/monitoring", "/api/machines/m1/stream/start"} {
		resp, _ := s.do(http.MethodPost, path, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode, path)
	}

	resp, _ := s.do(http.MethodPost, "/api/machines/missing/view", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(http.MethodPost, "/api/dialogs/nope", DialogAnswer{Confirmed: true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEnableThroughInstallCommand(t *testing.T) {
	s := newServer(t)

	resp, body := s.do(http.MethodPost, "/api/machines/m1/view", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, monitoring.StateDisabled, s.view("m1").State)

	resp, body = s.do(http.MethodPost, "/api/machines/m1/monitoring", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	var enable EnableResponse
	require.NoError(t, json.Unmarshal(body, &enable))
	assert.Equal(t, monitoring.EnableAwaitingCommand, enable.Result)

	dialog := s.answer(true)
	assert.Equal(t, domain.DialogOKCancel, dialog.Kind)
	require.NotEmpty(t, dialog.Body)

	require.Eventually(t, func() bool {
		snap := s.view("m1")
		return snap.State == monitoring.StateEnabled && len(snap.Graphs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap := s.view("m1")
	assert.True(t, snap.Presentation.Open)
	assert.True(t, snap.PendingFirstStats)
	assert.Equal(t, "cpu", snap.Graphs[0].Metric)
	assert.Positive(t, s.notify.count(MsgView))

	resp, _ = s.do(http.MethodPost, "/api/machines/m1/view/data", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, s.view("m1").PendingFirstStats)

	resp, _ = s.do(http.MethodPost, "/api/machines/m1/monitoring", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestGraphAndStreamEndpoints(t *testing.T) {
	s := newServer(t)
	m, err := s.machines.Get(context.Background(), "m1")
	require.NoError(t, err)
	m.HasMonitoring = true
	require.NoError(t, s.machines.Save(context.Background(), m))

	resp, body := s.do(http.MethodPost, "/api/machines/m1/view", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	snap := s.view("m1")
	require.Equal(t, monitoring.StateEnabled, snap.State)
	require.Len(t, snap.Graphs, 1)
	key := snap.Graphs[0].Key

	resp, body = s.do(http.MethodPost, "/api/machines/m1/graphs/"+key+"/collapse", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.True(t, s.view("m1").Graphs[0].Hidden)

	resp, _ = s.do(http.MethodPost, "/api/machines/m1/graphs/"+key+"/expand", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, s.view("m1").Graphs[0].Hidden)

	resp, _ = s.do(http.MethodPost, "/api/machines/m1/graphs/unknown/collapse", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(http.MethodPost, "/api/machines/m1/stream/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, s.view("m1").Presentation.Streaming)

	resp, _ = s.do(http.MethodPost, "/api/machines/m1/stream/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, s.view("m1").Presentation.Streaming)

	resp, _ = s.do(http.MethodPost, "/api/machines/m1/stream/sideways", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(http.MethodPut, "/api/machines/m1/time-window", TimeWindowRequest{Window: "1h"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1h", s.view("m1").Presentation.Config.TimeWindow)
	assert.Equal(t, "1h", s.prefs.Entry(m).TimeWindow)

	resp, _ = s.do(http.MethodPut, "/api/machines/m1/time-window", TimeWindowRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Removing a built-in graph only drops it from the view
	resp, _ = s.do(http.MethodDelete, "/api/machines/m1/graphs/"+key, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	s.answer(true)
	require.Eventually(t, func() bool { return len(s.view("m1").Graphs) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDisableThroughDialog(t *testing.T) {
	s := newServer(t)
	m, _ := s.machines.Get(context.Background(), "m1")
	m.HasMonitoring = true
	require.NoError(t, s.machines.Save(context.Background(), m))
	s.do(http.MethodPost, "/api/machines/m1/view", nil)

	resp, _ := s.do(http.MethodDelete, "/api/machines/m1/monitoring", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, monitoring.StatePendingConfirmation, s.view("m1").State)

	// A second request while the confirmation is open is refused
	resp, _ = s.do(http.MethodDelete, "/api/machines/m1/monitoring", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	s.answer(false)
	require.Eventually(t, func() bool { return s.view("m1").State == monitoring.StateEnabled }, time.Second, 10*time.Millisecond)

	s.do(http.MethodDelete, "/api/machines/m1/monitoring", nil)
	s.answer(true)
	require.Eventually(t, func() bool { return s.view("m1").State == monitoring.StateDisabled }, 2*time.Second, 10*time.Millisecond)

	snap := s.view("m1")
	assert.False(t, snap.Presentation.Open)
	assert.Empty(t, snap.Graphs)
	stored, _ := s.machines.Get(context.Background(), "m1")
	assert.False(t, stored.HasMonitoring)
}

func TestAddRuleAndAssociateMetric(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	m, _ := s.machines.Get(ctx, "m1")
	m.HasMonitoring = true
	require.NoError(t, s.machines.Save(ctx, m))
	require.NoError(t, s.metrics.Create(ctx, &domain.Metric{ID: "nginx", Name: "Nginx", IsPlugin: true}))
	s.do(http.MethodPost, "/api/machines/m1/view", nil)

	resp, _ := s.do(http.MethodPost, "/api/machines/m1/rules", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Eventually(t, func() bool { return len(s.view("m1").Rules) == 1 }, time.Second, 10*time.Millisecond)

	resp, _ = s.do(http.MethodPost, "/api/machines/m1/graphs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, s.notify.count(MsgSelectMetric))

	resp, _ = s.do(http.MethodPost, "/api/machines/m1/metrics", AssociateRequest{MetricID: "nginx"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Eventually(t, func() bool { return len(s.view("m1").Graphs) == 2 }, time.Second, 10*time.Millisecond)

	resp, _ = s.do(http.MethodPost, "/api/machines/m1/metrics", AssociateRequest{MetricID: "nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCloseViewDismissesDialogs(t *testing.T) {
	s := newServer(t)
	m, _ := s.machines.Get(context.Background(), "m1")
	m.HasMonitoring = true
	require.NoError(t, s.machines.Save(context.Background(), m))
	s.do(http.MethodPost, "/api/machines/m1/view", nil)
	s.do(http.MethodDelete, "/api/machines/m1/monitoring", nil)
	require.Len(t, s.view("m1").Dialogs, 1)

	resp, _ := s.do(http.MethodDelete, "/api/machines/m1/view", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, s.views.broker.Pending("m1"))

	resp, _ = s.do(http.MethodGet, "/api/machines/m1/view", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := s.do(http.MethodGet, "/api/views", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))
}

func TestPreferencesExportAndImport(t *testing.T) {
	s := newServer(t)
	m, _ := s.machines.Get(context.Background(), "m1")
	entry := domain.NewViewPreference()
	entry.TimeWindow = "6h"
	s.prefs.SetEntry(m, entry)
	require.NoError(t, s.prefs.Save())

	resp, body := s.do(http.MethodGet, "/api/preferences/export?format=yaml", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "time_window: 6h")

	doc := `{"m1": {"time_window": "30m", "graphs": {}}, "ghost": {"time_window": "1h"}}`
	req, _ := http.NewRequest(http.MethodPost, s.srv.URL+"/api/preferences/import?format=json", strings.NewReader(doc))
	r, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer r.Body.Close()
	require.Equal(t, http.StatusOK, r.StatusCode)
	var result map[string][]string
	require.NoError(t, json.NewDecoder(r.Body).Decode(&result))
	assert.Equal(t, []string{"m1"}, result["imported"])
	assert.Equal(t, []string{"ghost"}, result["skipped"])
	assert.Equal(t, "30m", s.prefs.Entry(m).TimeWindow)

	resp, _ = s.do(http.MethodGet, "/api/preferences/export?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMiddleware(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	rec := &requestRecorder{}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/panic" {
			panic("boom")
		}
		w.WriteHeader(http.StatusTeapot)
	}), mw("a"), mw("b"), Recover(nopLogger()), Logger(nopLogger(), rec), CORS)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, []string{fmt.Sprintf("GET %d", http.StatusTeapot)}, rec.seen)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	// The status wrapper still lets SSE flush
	var flushed bool
	Logger(nopLogger(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushed = w.(http.Flusher)
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.True(t, flushed)
}

type requestRecorder struct {
	seen []string
}

func (r *requestRecorder) RecordHTTPRequest(method string, code int, _ time.Duration) {
	r.seen = append(r.seen, fmt.Sprintf("%s %d", method, code))
}
