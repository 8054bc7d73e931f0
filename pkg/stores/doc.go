// Package stores is the artifact registry: a SQLite-backed record of hive
// evaluations, the build artifacts each node produced, and the selection
// bundles built from them.
//
// The schema is managed through embedded golang-migrate migrations and the
// database runs in WAL mode with foreign keys enabled. Recorder is the
// write-side bridge from resolution results to registry rows.
package stores
