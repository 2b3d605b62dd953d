package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricHasMachine(t *testing.T) {
	m1 := &Machine{ID: "m1"}
	m2 := &Machine{ID: "m2"}

	tests := []struct {
		name   string
		metric Metric
		want   map[string]bool
	}{
		{
			name:   "built-in applies everywhere",
			metric: Metric{ID: "cpu", BuiltIn: true},
			want:   map[string]bool{"m1": true, "m2": true},
		},
		{
			name:   "custom applies to associated machines",
			metric: Metric{ID: "nginx", IsPlugin: true, Machines: []string{"m2"}},
			want:   map[string]bool{"m1": false, "m2": true},
		},
		{
			name:   "custom without associations applies nowhere",
			metric: Metric{ID: "redis"},
			want:   map[string]bool{"m1": false, "m2": false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want["m1"], tt.metric.HasMachine(m1))
			assert.Equal(t, tt.want["m2"], tt.metric.HasMachine(m2))
			assert.False(t, tt.metric.HasMachine(nil))
		})
	}
}

func TestMetricAssociation(t *testing.T) {
	metric := &Metric{ID: "nginx"}

	assert.True(t, metric.Associate("m1"))
	assert.False(t, metric.Associate("m1"))
	assert.True(t, metric.Associate("m2"))
	assert.Equal(t, []string{"m1", "m2"}, metric.Machines)

	assert.True(t, metric.Disassociate("m1"))
	assert.False(t, metric.Disassociate("m1"))
	assert.Equal(t, []string{"m2"}, metric.Machines)
}

func TestViewPreferenceClone(t *testing.T) {
	orig := NewViewPreference()
	orig.SetGraph("g1", GraphPreference{Index: 0})

	clone := orig.Clone()
	clone.SetGraph("g1", GraphPreference{Index: 5, Hidden: true})
	clone.TimeWindow = "1h"

	gp, ok := orig.Graph("g1")
	assert.True(t, ok)
	assert.Equal(t, 0, gp.Index)
	assert.Equal(t, DefaultTimeWindow, orig.TimeWindow)

	var zero ViewPreference
	c := zero.Clone()
	assert.NotNil(t, c.Graphs)
}
