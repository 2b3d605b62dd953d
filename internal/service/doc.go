// Package service implements monview's backend services over the repository.
//
// The services own machines, rules, metrics and the monitoring switch. Every
// change is published on the EventBus, which the monitoring views and the
// SSE hub subscribe to. Calls that reach out to a machine (installing the
// agent, disabling a plugin) run on their own goroutine and report through a
// completion callback.
package service
