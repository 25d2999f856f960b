// Package store persists loader state in SQLite: the serial number
// allocation of each loader id and the history of update sessions.
//
// The schema is created on first open and pinned by schema_version; a
// database written by a different version is rejected with
// ErrSchemaMismatch rather than migrated.
package store
