// Package cache persists, per remote target, the content hash last pushed
// for every managed resource, so unchanged resources are skipped on
// subsequent runs.
//
// The store is backed by SQLite with schema migrations embedded in the
// binary. Entries are written through as the reconciler applies resources,
// so a crash mid-run leaves the cache consistent with whatever was
// actually applied, never ahead of it. A bypass mode makes every lookup
// report absent (forcing re-upload of everything) while still recording
// writes.
package cache
