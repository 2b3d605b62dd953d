package domain

import "slices"

// Metric is a measurable series. Built-in metrics have no association set and
// apply to every machine; custom metrics list the machines they are enabled on.
type Metric struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Unit     string   `json:"unit,omitempty" yaml:"unit,omitempty"`
	IsPlugin bool     `json:"is_plugin" yaml:"is_plugin"`
	BuiltIn  bool     `json:"built_in" yaml:"-"`
	Machines []string `json:"machines,omitempty" yaml:"-"`
}

// Key returns the identity of the metric
func (m *Metric) Key() string {
	return m.ID
}

// HasMachine reports whether the metric applies to the machine
func (m *Metric) HasMachine(machine *Machine) bool {
	if machine == nil {
		return false
	}
	if m.BuiltIn {
		return true
	}
	return slices.Contains(m.Machines, machine.ID)
}

// Associate adds the machine to the association set
func (m *Metric) Associate(machineID string) bool {
	if slices.Contains(m.Machines, machineID) {
		return false
	}
	m.Machines = append(m.Machines, machineID)
	return true
}

// Disassociate removes the machine from the association set
func (m *Metric) Disassociate(machineID string) bool {
	before := len(m.Machines)
	m.Machines = slices.DeleteFunc(m.Machines, func(id string) bool {
		return id == machineID
	})
	return len(m.Machines) != before
}
