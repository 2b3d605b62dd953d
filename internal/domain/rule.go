package domain

// Rule is a monitoring rule attached to a machine
type Rule struct {
	ID        string  `json:"id"`
	MachineID string  `json:"machine_id"`
	Metric    string  `json:"metric"`
	Operator  string  `json:"operator"`
	Value     float64 `json:"value"`
	Action    string  `json:"action,omitempty"`
}

// Key returns the identity of the rule
func (r *Rule) Key() string {
	return r.ID
}

// BelongsTo reports whether the rule is scoped to the given machine
func (r *Rule) BelongsTo(m *Machine) bool {
	return m != nil && r.MachineID == m.ID
}
