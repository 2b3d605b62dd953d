// Package monitoring keeps the rules, metrics and graphs of one machine's
// monitoring view consistent while domain events, persisted preferences and
// user-confirmed actions change them.
//
// All mutation happens on a loop.Loop. Event handlers and the completion
// callbacks handed to collaborators are posted onto the loop, so collaborators
// may invoke them from any goroutine.
package monitoring
