package monitoring

import (
	"cmp"
	"slices"

	"monview/internal/domain"
	"monview/internal/logger"
)

// GraphController applies user actions to the graphs of one machine
type GraphController struct {
	machine *domain.Machine
	graphs  *domain.Collection[*domain.Graph]
	deps    *Deps
	log     logger.Logger
}

// NewGraphController creates a controller over graphs
func NewGraphController(machine *domain.Machine, graphs *domain.Collection[*domain.Graph], deps *Deps) *GraphController {
	deps.applyDefaults()
	return &GraphController{
		machine: machine,
		graphs:  graphs,
		deps:    deps,
		log:     deps.Logger,
	}
}

// Add lets the user pick a metric. The graph itself appears when the
// resulting metric_added event reaches the view.
func (c *GraphController) Add() {
	c.deps.Selector.Open(c.machine)
}

// Collapse hides g and renumbers every graph: visible graphs keep their
// relative order and take 0..k-1, hidden graphs move to the last index.
func (c *GraphController) Collapse(g *domain.Graph) {
	g.IsHidden = true

	all := c.graphs.Items()
	last := len(all) - 1
	entry := c.deps.Preferences.Entry(c.machine).Clone()

	var visible []*domain.Graph
	for _, other := range all {
		if other.IsHidden {
			other.Index = last
			entry.SetGraph(other.Key(), domain.GraphPreference{Index: last, Hidden: true})
			continue
		}
		visible = append(visible, other)
	}

	slices.SortStableFunc(visible, func(a, b *domain.Graph) int {
		return cmp.Compare(placement(entry, a), placement(entry, b))
	})
	for i, v := range visible {
		v.Index = i
		entry.SetGraph(v.Key(), domain.GraphPreference{Index: i})
	}

	c.save(entry)
	c.log.Debug("collapsed %s on %s: %d visible", g.Key(), c.machine.ID, len(visible))
}

// Expand shows g again. With a single hidden graph its index is already
// the one after the visible graphs and is kept; with several hidden graphs
// g is placed right after the visible ones.
func (c *GraphController) Expand(g *domain.Graph) {
	if !g.IsHidden {
		return
	}
	g.IsHidden = false

	visible := 0
	for _, other := range c.graphs.Items() {
		if other != g && !other.IsHidden {
			visible++
		}
	}
	g.Index = visible

	entry := c.deps.Preferences.Entry(c.machine).Clone()
	entry.SetGraph(g.Key(), domain.GraphPreference{Index: g.Index})
	c.save(entry)
}

// Remove asks for confirmation, then disables the metric when it is a
// plugin, disassociates it from the machine and finally drops the graph.
// Any failure keeps the graph. done, if set, reports whether the graph was
// removed. Remove returns false when g is already being removed.
func (c *GraphController) Remove(g *domain.Graph, done func(ok bool)) bool {
	if g.PendingRemoval {
		return false
	}
	metric := g.Metric()
	if metric == nil {
		return false
	}
	if done == nil {
		done = func(bool) {}
	}

	l := c.deps.Loop
	c.deps.Dialogs.Open(removeGraphDialog(metric, c.machine, deferred(l, func(confirmed bool) {
		if !confirmed || g.PendingRemoval || !c.graphs.Contains(g.Key()) {
			done(false)
			return
		}
		g.PendingRemoval = true

		fail := func(step string) {
			g.PendingRemoval = false
			c.deps.Recorder.Action("remove_graph", false)
			c.log.Warn("remove graph %s on %s: %s failed", g.Key(), c.machine.ID, step)
			done(false)
		}

		disassociate := func() {
			c.deps.Metrics.Disassociate(metric, c.machine, deferred(l, func(ok bool) {
				if !ok {
					fail("disassociate")
					return
				}
				c.graphs.Remove(g.Key())
				c.deps.Recorder.Action("remove_graph", true)
				done(true)
			}))
		}

		if !metric.IsPlugin {
			disassociate()
			return
		}
		c.deps.Metrics.DisableMetric(metric, c.machine, deferred(l, func(ok bool) {
			if !ok {
				fail("disable metric")
				return
			}
			disassociate()
		}))
	})))
	return true
}

func (c *GraphController) save(entry domain.ViewPreference) {
	c.deps.Preferences.SetEntry(c.machine, entry)
	if err := c.deps.Preferences.Save(); err != nil {
		c.log.Warn("save preferences for %s: %v", c.machine.ID, err)
	}
}

// placement is the persisted index of g, or its in-memory index
func placement(entry domain.ViewPreference, g *domain.Graph) int {
	if gp, ok := entry.Graph(g.Key()); ok && !gp.Hidden {
		return gp.Index
	}
	return g.Index
}
