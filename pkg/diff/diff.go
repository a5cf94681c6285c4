// Package diff classifies rendered resources against the remote system's
// current state and the local content-hash cache, producing the change set
// the reconciler executes.
package diff

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/jobforge/jobforge/pkg/assemble"
	"github.com/jobforge/jobforge/pkg/cache"
	"github.com/jobforge/jobforge/pkg/remote"
	"github.com/jobforge/jobforge/pkg/telemetry"
)

// Item is one rendered resource with its classification inputs resolved.
type Item struct {
	Spec     assemble.ResourceSpec
	Document []byte
	Hash     string
	Exists   bool
}

// ChangeSet is the diff outcome for one resource kind against one target.
// Obsolete lists remote resources that carry the managed marker but are no
// longer declared; unmanaged remote resources are never listed.
type ChangeSet struct {
	Creates   []Item
	Updates   []Item
	Unchanged []Item
	Obsolete  []string
}

// Total returns the number of declared resources in the set.
func (c *ChangeSet) Total() int {
	return len(c.Creates) + len(c.Updates) + len(c.Unchanged)
}

// Engine computes change sets. ExistingOnly restricts the plan to resources
// already present remotely (declared-but-absent resources are dropped
// instead of created).
type Engine struct {
	store        cache.Store
	log          *telemetry.Logger
	ExistingOnly bool
}

// New creates a diff engine backed by the given cache store.
func New(store cache.Store, log *telemetry.Logger) *Engine {
	if log == nil {
		log = telemetry.FromContext(nil)
	}
	return &Engine{store: store, log: log}
}

// Hash returns the content hash of a rendered document.
func Hash(document []byte) string {
	sum := sha256.Sum256(document)
	return hex.EncodeToString(sum[:])
}

// Compute classifies every rendered resource for one target. The cache is
// consulted first: a hash matching the last-pushed hash is unchanged, even
// when the resource is missing from the remote listing (a remotely removed
// resource comes back on the next run after the cache is bypassed or its
// entry purged). Otherwise:
//
//   - not present remotely: create (dropped when ExistingOnly)
//   - present: update
//
// A remote resource counts as obsolete when it is managed and no declared
// resource has its name. Cache lookups that fail degrade to "no cached
// hash" so a damaged cache forces re-upload rather than a failed run.
func (e *Engine) Compute(ctx context.Context, targetID string, items []Item, existing []remote.Resource) (*ChangeSet, error) {
	present := make(map[string]bool, len(existing))
	for _, r := range existing {
		present[r.Name] = true
	}

	declared := make(map[string]bool, len(items))
	set := &ChangeSet{}
	for _, item := range items {
		if item.Hash == "" {
			item.Hash = Hash(item.Document)
		}
		item.Exists = present[item.Spec.Name]
		declared[item.Spec.Name] = true

		cached, ok, err := e.store.Lookup(ctx, targetID, item.Spec.Name)
		if err != nil {
			e.log.WithError(err).Warnf("cache lookup failed for %s, treating as changed", item.Spec.Name)
			ok = false
		}
		if ok && cached == item.Hash {
			set.Unchanged = append(set.Unchanged, item)
			continue
		}

		if !item.Exists {
			if e.ExistingOnly {
				e.log.Debugf("skipping %s: not present remotely", item.Spec.Name)
				continue
			}
			set.Creates = append(set.Creates, item)
			continue
		}
		set.Updates = append(set.Updates, item)
	}

	for _, r := range existing {
		if r.Managed && !declared[r.Name] {
			set.Obsolete = append(set.Obsolete, r.Name)
		}
	}
	sort.Strings(set.Obsolete)

	e.log.Debugf("change set: %d create, %d update, %d unchanged, %d obsolete",
		len(set.Creates), len(set.Updates), len(set.Unchanged), len(set.Obsolete))
	return set, nil
}

// BuildItems renders every spec and hashes the output. Rendering failures
// are returned per resource; successfully rendered specs still make it
// into the result.
func BuildItems(specs []assemble.ResourceSpec, renderFn func(assemble.ResourceSpec) ([]byte, error)) ([]Item, map[string]error) {
	var items []Item
	failed := map[string]error{}
	for _, spec := range specs {
		doc, err := renderFn(spec)
		if err != nil {
			failed[spec.Name] = err
			continue
		}
		items = append(items, Item{Spec: spec, Document: doc, Hash: Hash(doc)})
	}
	return items, failed
}
