package cache

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// Entry is one persisted cache record: the content hash last pushed for a
// resource on one remote target.
type Entry struct {
	TargetID     string    `json:"target_id"`
	ResourceName string    `json:"resource_name"`
	ContentHash  string    `json:"content_hash"`
	LastSeenRun  string    `json:"last_seen_run"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store defines the persistent cache interface. Entries are keyed by
// (target_id, resource_name) so multiple remote targets have independent
// caches. Record and Purge are safe for concurrent use by reconciler
// workers.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Lookup returns the last-pushed content hash for a resource, or
	// ok=false when none is recorded (or the store is bypassed).
	Lookup(ctx context.Context, targetID, name string) (hash string, ok bool, err error)

	// Record stores the content hash pushed for a resource during runID.
	Record(ctx context.Context, targetID, name, hash, runID string) error

	// Purge removes a resource's entry, after a remote delete.
	Purge(ctx context.Context, targetID, name string) error

	// AllKnown returns every resource name with an entry for the target.
	AllKnown(ctx context.Context, targetID string) ([]string, error)
}

// DefaultPath returns the cache database location under the per-user cache
// directory.
func DefaultPath() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "jobforge")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "cache.db"), nil
}
