// Package domain defines the core types of the monitoring view.
//
// # Core Types
//
// Machine is the monitored resource a view is scoped to. Machines are compared
// by identity through Equals.
//
// Rule and Metric mirror objects owned by external controllers. Built-in
// metrics apply to every machine; custom metrics carry an explicit
// association set and may be backed by an installable plugin.
//
// Datasource pairs one metric with one machine. Its key is a pure function of
// the pair, so two datasources built at different times compare equal.
//
// Graph wraps one or more datasources and carries the view state the user
// controls: display index, hidden flag and the transient removal guard.
//
// ViewPreference is the persisted per-machine entry holding the selected time
// window and the index/hidden placement of every graph.
//
// # Collections
//
// Collection is an ordered identity set. Items are appended and removed by
// key only; duplicate inserts and removals of absent keys are no-ops.
// Observers are notified of every effective change.
//
// # Design Principles
//
// - No database or external dependencies
// - Identity over position: nothing is addressed by slice index
// - Plain value types for anything that is persisted
package domain
