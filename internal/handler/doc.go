// Package handler implements the HTTP API of the monview server.
//
// Every machine can have one loaded monitoring view. ViewManager owns the
// views and runs every view operation on the shared loop, so requests and
// domain events never interleave inside a view.
//
// Views talk to the browser through server-sent events: dialogs, graph
// presentation changes, the metric selector and view snapshots are pushed
// to the clients watching the machine, and the browser answers through the
// REST endpoints (dialog answers, first data, metric choice).
//
// Errors are returned as JSON {error, details} with a status derived from
// the error: unknown machines, graphs and dialogs give 404, actions on a
// machine without a loaded view give 409.
package handler
