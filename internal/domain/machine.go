package domain

import "time"

// Machine represents a monitored machine
type Machine struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Host          string    `json:"host,omitempty"`
	Port          int       `json:"port,omitempty"`
	User          string    `json:"user,omitempty"`
	HasMonitoring bool      `json:"has_monitoring"`
	Probed        bool      `json:"probed"` // monitoring agent or SSH access reachable
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewMachine creates a new machine with default SSH port
func NewMachine(id, name, host string) *Machine {
	now := time.Now()
	return &Machine{
		ID:        id,
		Name:      name,
		Host:      host,
		Port:      22,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Equals reports whether both values refer to the same machine.
// A nil machine is never equal to anything.
func (m *Machine) Equals(other *Machine) bool {
	if m == nil || other == nil {
		return false
	}
	return m.ID == other.ID
}

// Key returns the identity of the machine
func (m *Machine) Key() string {
	return m.ID
}

// DisplayName returns the name, falling back to the ID
func (m *Machine) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}
