package domain

import "maps"

// DefaultTimeWindow is used when a machine has no persisted time window
const DefaultTimeWindow = "10m"

// GraphPreference is the persisted placement of a single graph
type GraphPreference struct {
	Index  int  `json:"index" yaml:"index"`
	Hidden bool `json:"hidden" yaml:"hidden"`
}

// ViewPreference is the persisted view state of one machine
type ViewPreference struct {
	TimeWindow string                     `json:"time_window" yaml:"time_window"`
	Graphs     map[string]GraphPreference `json:"graphs" yaml:"graphs"`
}

// NewViewPreference creates an empty entry with the default time window
func NewViewPreference() ViewPreference {
	return ViewPreference{
		TimeWindow: DefaultTimeWindow,
		Graphs:     make(map[string]GraphPreference),
	}
}

// Clone returns a deep copy so callers can read-modify-write safely
func (p ViewPreference) Clone() ViewPreference {
	out := ViewPreference{TimeWindow: p.TimeWindow}
	if p.Graphs != nil {
		out.Graphs = maps.Clone(p.Graphs)
	} else {
		out.Graphs = make(map[string]GraphPreference)
	}
	return out
}

// Graph returns the placement for a graph key
func (p ViewPreference) Graph(key string) (GraphPreference, bool) {
	gp, ok := p.Graphs[key]
	return gp, ok
}

// SetGraph stores the placement for a graph key
func (p *ViewPreference) SetGraph(key string, gp GraphPreference) {
	if p.Graphs == nil {
		p.Graphs = make(map[string]GraphPreference)
	}
	p.Graphs[key] = gp
}
