// Package repository defines the data access interfaces for monview.
//
// The sqlite subpackage implements the full Repository. The redis
// subpackage implements PreferenceRepository only, for deployments that
// share view preferences between server instances.
//
// # SQLite Implementation
//
// The sqlite implementation uses WAL mode and migrates its schema on
// startup. View preferences are stored as one JSON document per machine,
// so a save replaces the whole entry.
package repository
