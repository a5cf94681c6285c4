// Package reconcile pushes a change set to the remote system through a
// bounded worker pool, recording applied content hashes in the cache as it
// goes.
package reconcile

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobforge/jobforge/pkg/cache"
	"github.com/jobforge/jobforge/pkg/diff"
	"github.com/jobforge/jobforge/pkg/remote"
	"github.com/jobforge/jobforge/pkg/telemetry"
)

// Options controls one reconciliation run.
type Options struct {
	// Workers is the pool width. Zero means one worker per CPU.
	Workers int

	// DeleteObsolete removes managed remote resources that are no longer
	// declared. Unmanaged resources are never touched.
	DeleteObsolete bool

	// Keep lists resource names exempt from obsolete deletion.
	Keep []string
}

// RunResult summarises one reconciliation run. Failed maps resource names
// to their apply errors; a non-empty map with Aborted false means the run
// completed but some resources could not be applied.
type RunResult struct {
	RunID     string
	Applied   int
	Skipped   int
	Deleted   int
	Obsolete  []string
	Failed    map[string]error
	Aborted   bool
	StartedAt time.Time
	Duration  time.Duration
}

// Reconciler applies change sets against one remote client.
type Reconciler struct {
	client remote.Client
	store  cache.Store
	log    *telemetry.Logger

	mu      sync.Mutex
	failed  map[string]error
	applied int
	aborted bool
}

// New creates a reconciler for one remote client and cache store.
func New(client remote.Client, store cache.Store, log *telemetry.Logger) *Reconciler {
	if log == nil {
		log = telemetry.FromContext(nil)
	}
	return &Reconciler{client: client, store: store, log: log}
}

// Apply pushes every create and update in the set, in parallel, then
// deletes obsolete resources when opts requests it. Per-item failures are
// collected and the run continues; a connectivity-class failure stops
// dispatch of remaining work while in-flight calls drain. Applied hashes
// are written through to the cache so an interrupted run resumes where it
// stopped.
func (r *Reconciler) Apply(ctx context.Context, set *diff.ChangeSet, opts Options) (*RunResult, error) {
	result := &RunResult{
		RunID:     uuid.New().String(),
		Skipped:   len(set.Unchanged),
		Obsolete:  set.Obsolete,
		StartedAt: time.Now(),
	}
	r.failed = map[string]error{}
	r.applied = 0
	r.aborted = false

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	work := make([]workItem, 0, len(set.Creates)+len(set.Updates))
	for _, item := range set.Creates {
		work = append(work, workItem{item: item, create: true})
	}
	for _, item := range set.Updates {
		work = append(work, workItem{item: item})
	}
	if len(work) < workers {
		workers = len(work)
	}

	r.log.WithRunID(result.RunID).Infof("reconciling %d resources with %d workers", len(work), workers)

	queue := make(chan workItem, len(work))
	for _, w := range work {
		queue <- w
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range queue {
				if r.stopped(ctx) {
					return
				}
				r.applyOne(ctx, w, result.RunID)
			}
		}()
	}
	wg.Wait()

	result.Applied = r.applied
	result.Failed = r.failed
	result.Aborted = r.aborted

	if r.aborted {
		result.Duration = time.Since(result.StartedAt)
		return result, fmt.Errorf("reconciliation aborted: remote target unreachable")
	}

	if opts.DeleteObsolete {
		deleted, err := r.deleteObsolete(ctx, set.Obsolete, opts.Keep)
		result.Deleted = deleted
		if err != nil {
			result.Duration = time.Since(result.StartedAt)
			return result, err
		}
	}

	result.Duration = time.Since(result.StartedAt)
	return result, nil
}

type workItem struct {
	item   diff.Item
	create bool
}

func (r *Reconciler) applyOne(ctx context.Context, w workItem, runID string) {
	name := w.item.Spec.Name
	log := r.log.WithRunID(runID).WithResource(name)

	var err error
	if w.create {
		log.Debug("creating resource")
		err = r.client.Create(ctx, name, w.item.Document)
	} else {
		log.Debug("updating resource")
		err = r.client.Update(ctx, name, w.item.Document)
	}
	if err != nil {
		if remote.IsConnectivity(err) {
			log.WithError(err).Error("remote target unreachable, stopping dispatch")
			r.mu.Lock()
			r.aborted = true
			r.failed[name] = err
			r.mu.Unlock()
			return
		}
		log.WithError(err).Warn("failed to apply resource")
		r.mu.Lock()
		r.failed[name] = err
		r.mu.Unlock()
		return
	}

	if err := r.store.Record(ctx, r.client.TargetID(), name, w.item.Hash, runID); err != nil {
		// The push succeeded; a cache write failure only costs a
		// redundant upload next run.
		log.WithError(err).Warn("failed to record cache entry")
	}

	r.mu.Lock()
	r.applied++
	r.mu.Unlock()
}

// deleteObsolete removes managed remote resources no longer declared,
// sequentially, purging their cache entries as they go.
func (r *Reconciler) deleteObsolete(ctx context.Context, obsolete, keep []string) (int, error) {
	kept := make(map[string]bool, len(keep))
	for _, name := range keep {
		kept[name] = true
	}

	deleted := 0
	for _, name := range obsolete {
		if kept[name] {
			r.log.Debugf("keeping obsolete resource %s", name)
			continue
		}
		if err := r.client.Delete(ctx, name); err != nil {
			if remote.IsConnectivity(err) {
				return deleted, fmt.Errorf("failed to delete %q: %w", name, err)
			}
			r.log.WithError(err).WithResource(name).Warn("failed to delete obsolete resource")
			r.mu.Lock()
			r.failed[name] = err
			r.mu.Unlock()
			continue
		}
		if err := r.store.Purge(ctx, r.client.TargetID(), name); err != nil {
			r.log.WithError(err).WithResource(name).Warn("failed to purge cache entry")
		}
		deleted++
	}
	return deleted, nil
}

func (r *Reconciler) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}
