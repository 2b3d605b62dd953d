package domain

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Datasource pairs one metric with one machine
type Datasource struct {
	Metric  *Metric
	Machine *Machine
}

// NewDatasource creates a datasource for the pair
func NewDatasource(metric *Metric, machine *Machine) Datasource {
	return Datasource{Metric: metric, Machine: machine}
}

// Key returns a deterministic identity derived from the (metric, machine) pair
func (d Datasource) Key() string {
	// IDs never contain NUL
	hash := sha256.Sum256([]byte(d.Machine.ID + "\x00" + d.Metric.ID))
	return fmt.Sprintf("%x", hash[:8])
}

// Graph is a displayable wrapper around one or more datasources
type Graph struct {
	Title          string       `json:"title"`
	Index          int          `json:"index"`
	IsHidden       bool         `json:"is_hidden"`
	PendingRemoval bool         `json:"pending_removal"`
	Datasources    []Datasource `json:"-"`
}

// NewGraph creates a visible graph over the given datasources
func NewGraph(title string, index int, datasources ...Datasource) *Graph {
	return &Graph{
		Title:       title,
		Index:       index,
		Datasources: datasources,
	}
}

// Key returns the graph identity, derived from its datasources
func (g *Graph) Key() string {
	if len(g.Datasources) == 1 {
		return g.Datasources[0].Key()
	}
	keys := make([]string, len(g.Datasources))
	for i, ds := range g.Datasources {
		keys[i] = ds.Key()
	}
	return strings.Join(keys, "+")
}

// HasDatasource reports whether the graph wraps a datasource with the given key
func (g *Graph) HasDatasource(key string) bool {
	for _, ds := range g.Datasources {
		if ds.Key() == key {
			return true
		}
	}
	return false
}

// Metric returns the metric of the primary datasource
func (g *Graph) Metric() *Metric {
	if len(g.Datasources) == 0 {
		return nil
	}
	return g.Datasources[0].Metric
}
