package monitoring

import (
	"fmt"

	"monview/internal/domain"
	"monview/internal/logger"
)

// Reconciler creates the graphs missing for a machine's metrics
type Reconciler struct {
	prefs    PreferenceStore
	log      logger.Logger
	recorder Recorder
}

// NewReconciler creates a reconciler writing defaults into prefs
func NewReconciler(prefs PreferenceStore, log logger.Logger, recorder Recorder) *Reconciler {
	if log == nil {
		log = logger.Noop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Reconciler{prefs: prefs, log: log, recorder: recorder}
}

// ReconcileResult describes one pass
type ReconcileResult struct {
	Added  []*domain.Graph
	Paused bool // the stream was stopped and restarted around the mutation
}

// Reconcile adds one graph for every metric whose datasource on machine has
// no graph yet. Existing graphs are never duplicated, reordered or removed.
// New graphs take their placement from the persisted entry, falling back to
// the metric's position, and the fallback is written back to the store.
//
// It panics if two graphs claim the same datasource.
func (r *Reconciler) Reconcile(machine *domain.Machine, metrics []*domain.Metric, graphs *domain.Collection[*domain.Graph], stream StreamControl) ReconcileResult {
	owners := datasourceOwners(graphs.Items())

	entry := r.prefs.Entry(machine).Clone()
	dirty := false

	var added []*domain.Graph
	for i, metric := range metrics {
		ds := domain.NewDatasource(metric, machine)
		if _, ok := owners[ds.Key()]; ok {
			continue
		}

		g := domain.NewGraph(metricTitle(metric), i, ds)
		if gp, ok := entry.Graph(g.Key()); ok {
			g.Index = gp.Index
			g.IsHidden = gp.Hidden
		} else {
			entry.SetGraph(g.Key(), domain.GraphPreference{Index: i})
			dirty = true
		}
		owners[ds.Key()] = g.Key()
		added = append(added, g)
	}

	result := ReconcileResult{Added: added}
	if len(added) == 0 {
		return result
	}

	if stream != nil && stream.IsStreaming() {
		result.Paused = true
		stream.Stop()
	}
	for _, g := range added {
		graphs.Add(g)
	}
	if result.Paused {
		stream.Start()
	}

	if dirty {
		r.prefs.SetEntry(machine, entry)
		if err := r.prefs.Save(); err != nil {
			r.log.Warn("save preferences for %s: %v", machine.ID, err)
		}
	}

	r.recorder.Reconciled(len(added))
	r.log.Debug("reconciled %s: %d graphs added, %d total", machine.ID, len(added), graphs.Len())
	return result
}

func datasourceOwners(graphs []*domain.Graph) map[string]string {
	owners := make(map[string]string)
	for _, g := range graphs {
		gk := g.Key()
		for _, ds := range g.Datasources {
			if other, ok := owners[ds.Key()]; ok && other != gk {
				panic(fmt.Sprintf("monitoring: datasource %s claimed by graphs %s and %s", ds.Key(), other, gk))
			}
			owners[ds.Key()] = gk
		}
	}
	return owners
}

func metricTitle(m *domain.Metric) string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}
