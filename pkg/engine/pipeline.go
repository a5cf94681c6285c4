// Package engine wires the full pipeline: load definition roots, assemble
// resource specs, render documents, diff them against the remote state and
// reconcile the difference.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jobforge/jobforge/pkg/assemble"
	"github.com/jobforge/jobforge/pkg/cache"
	"github.com/jobforge/jobforge/pkg/config"
	"github.com/jobforge/jobforge/pkg/defs"
	"github.com/jobforge/jobforge/pkg/diff"
	"github.com/jobforge/jobforge/pkg/expand"
	"github.com/jobforge/jobforge/pkg/reconcile"
	"github.com/jobforge/jobforge/pkg/registry"
	"github.com/jobforge/jobforge/pkg/remote"
	"github.com/jobforge/jobforge/pkg/render"
	"github.com/jobforge/jobforge/pkg/telemetry"
)

// Pipeline runs the definition-to-remote flow for one configuration.
type Pipeline struct {
	cfg       *config.Config
	log       *telemetry.Logger
	renderers *render.Registry
}

// NewPipeline creates a Pipeline with the built-in renderers.
func NewPipeline(cfg *config.Config, log *telemetry.Logger) *Pipeline {
	if log == nil {
		log = telemetry.FromContext(nil)
	}
	return &Pipeline{
		cfg:       cfg,
		log:       log.NewComponentLogger("engine"),
		renderers: render.NewRegistry(),
	}
}

// Renderers exposes the renderer registry so callers can install renderers
// for additional resource kinds.
func (p *Pipeline) Renderers() *render.Registry {
	return p.renderers
}

// LoadSpecs loads every definition root in order and assembles the
// resource specs, optionally filtered by name globs. Macros, defaults and
// templates are scoped per root unless fragment retention is configured.
func (p *Pipeline) LoadSpecs(filters []string) ([]assemble.ResourceSpec, []registry.Warning, error) {
	d := p.cfg.Definitions
	policy := registry.DuplicatePolicy(d.DuplicatePolicy)
	if !registry.ValidDuplicatePolicy(policy) {
		policy = registry.DuplicateAbort
	}

	loader := defs.NewLoader(d.Excludes, p.log)
	store := registry.NewStore(policy, p.log)
	expander := &expand.Expander{Lenient: d.Lenient}
	asm := assemble.New(store, expander, policy, p.log)

	for _, path := range d.Roots {
		decls, err := loader.LoadRoot(defs.Root{Path: path, Recursive: d.Recursive})
		if err != nil {
			return nil, nil, err
		}
		for _, decl := range decls {
			if err := store.Define(decl); err != nil {
				return nil, nil, err
			}
		}
		if err := asm.Assemble(decls, filters); err != nil {
			return nil, nil, err
		}
		if !d.RetainFragments {
			store.ResetFragments()
		}
	}

	warnings := append([]registry.Warning{}, store.Warnings()...)
	warnings = append(warnings, asm.Warnings()...)
	p.log.Infof("assembled %d resource specs from %d roots", len(asm.Specs()), len(d.Roots))
	return asm.Specs(), warnings, nil
}

// RenderItems renders every spec into diff items, grouped by resource
// kind. Rendering failures are per-resource and returned alongside the
// successfully rendered items.
func (p *Pipeline) RenderItems(specs []assemble.ResourceSpec) (map[assemble.ResourceKind][]diff.Item, map[string]error) {
	items, failed := diff.BuildItems(specs, p.renderers.Render)
	byKind := map[assemble.ResourceKind][]diff.Item{}
	for _, item := range items {
		byKind[item.Spec.Kind] = append(byKind[item.Spec.Kind], item)
	}
	return byKind, failed
}

// UpdateOptions controls an Update run.
type UpdateOptions struct {
	// Filters restricts the run to resources whose names match the globs.
	Filters []string

	// DeleteObsolete removes managed remote resources no longer declared.
	DeleteObsolete bool

	// Keep exempts resource names from obsolete deletion.
	Keep []string

	// ExistingOnly drops declared resources not already present remotely.
	ExistingOnly bool
}

// UpdateResult aggregates the reconciliation outcome across resource kinds.
type UpdateResult struct {
	Applied  int
	Skipped  int
	Deleted  int
	Obsolete []string
	Failed   map[string]error
	Warnings []registry.Warning
}

// Update runs the full pipeline against the configured remote target.
// Per-resource failures (render or apply) are collected into the result;
// the returned error is reserved for failures that stop the run.
func (p *Pipeline) Update(ctx context.Context, opts UpdateOptions) (*UpdateResult, error) {
	specs, warnings, err := p.LoadSpecs(opts.Filters)
	if err != nil {
		return nil, err
	}

	byKind, failed := p.RenderItems(specs)
	result := &UpdateResult{Failed: failed, Warnings: warnings}

	store, err := p.openCache(ctx)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	engine := diff.New(store, p.log)
	engine.ExistingOnly = opts.ExistingOnly

	// Every supported kind is diffed, declared or not: a kind whose last
	// definition was removed still has remote managed resources to report
	// (and delete) as obsolete.
	for _, kind := range supportedKinds(byKind) {
		client, err := p.clientFor(kind)
		if err != nil {
			return nil, err
		}
		existing, err := client.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list remote %ss: %w", kind, err)
		}
		set, err := engine.Compute(ctx, client.TargetID(), byKind[kind], existing)
		if err != nil {
			return nil, err
		}

		reconciler := reconcile.New(client, store, p.log)
		run, err := reconciler.Apply(ctx, set, reconcile.Options{
			Workers:        p.cfg.Workers,
			DeleteObsolete: opts.DeleteObsolete,
			Keep:           opts.Keep,
		})
		if run != nil {
			result.Applied += run.Applied
			result.Skipped += run.Skipped
			result.Deleted += run.Deleted
			result.Obsolete = append(result.Obsolete, run.Obsolete...)
			for name, itemErr := range run.Failed {
				result.Failed[name] = itemErr
			}
		}
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// WriteDocuments renders every spec and writes the documents to outputDir,
// one file per resource named <name>.xml. An empty outputDir writes them
// to stdout instead. Nothing touches the remote system or the cache.
func (p *Pipeline) WriteDocuments(filters []string, outputDir string) ([]registry.Warning, map[string]error, error) {
	specs, warnings, err := p.LoadSpecs(filters)
	if err != nil {
		return nil, nil, err
	}
	byKind, failed := p.RenderItems(specs)

	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return warnings, failed, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	for _, kind := range orderedKinds(byKind) {
		for _, item := range byKind[kind] {
			if outputDir == "" {
				fmt.Printf("%s\n", item.Document)
				continue
			}
			path := filepath.Join(outputDir, item.Spec.Name+".xml")
			if err := os.WriteFile(path, item.Document, 0644); err != nil {
				return warnings, failed, fmt.Errorf("failed to write %s: %w", path, err)
			}
			p.log.Debugf("wrote %s", path)
		}
	}
	return warnings, failed, nil
}

// Delete removes the named resources of one kind from the remote target
// and purges their cache entries. Missing resources are reported per name.
func (p *Pipeline) Delete(ctx context.Context, kind assemble.ResourceKind, names []string) (map[string]error, error) {
	client, err := p.clientFor(kind)
	if err != nil {
		return nil, err
	}
	store, err := p.openCache(ctx)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	failed := map[string]error{}
	for _, name := range names {
		if err := client.Delete(ctx, name); err != nil {
			if remote.IsConnectivity(err) {
				return failed, err
			}
			failed[name] = err
			continue
		}
		if err := store.Purge(ctx, client.TargetID(), name); err != nil {
			p.log.WithError(err).WithResource(name).Warn("failed to purge cache entry")
		}
		p.log.Infof("deleted %s %q", kind, name)
	}
	return failed, nil
}

// ListRemote returns the resources of one kind present on the remote
// target, sorted by name.
func (p *Pipeline) ListRemote(ctx context.Context, kind assemble.ResourceKind) ([]remote.Resource, error) {
	client, err := p.clientFor(kind)
	if err != nil {
		return nil, err
	}
	resources, err := client.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].Name < resources[j].Name })
	return resources, nil
}

func (p *Pipeline) clientFor(kind assemble.ResourceKind) (remote.Client, error) {
	cfg := remote.HTTPConfig{
		URL:      p.cfg.Remote.URL,
		User:     p.cfg.Remote.User,
		APIToken: p.cfg.Remote.APIToken,
		Timeout:  p.cfg.Remote.Timeout,
	}
	switch kind {
	case assemble.ResourceView:
		return remote.NewViewClient(cfg)
	default:
		return remote.NewJobClient(cfg)
	}
}

func (p *Pipeline) openCache(ctx context.Context) (cache.Store, error) {
	path := p.cfg.Cache.Path
	if path == "" {
		var err error
		path, err = cache.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve cache path: %w", err)
		}
	}
	store, err := cache.NewSQLiteStore(cache.Config{Path: path, Bypass: p.cfg.Cache.Bypass})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func orderedKinds(byKind map[assemble.ResourceKind][]diff.Item) []assemble.ResourceKind {
	kinds := make([]assemble.ResourceKind, 0, len(byKind))
	for kind := range byKind {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// supportedKinds returns the built-in kinds plus any extra kinds present
// in byKind, in stable order.
func supportedKinds(byKind map[assemble.ResourceKind][]diff.Item) []assemble.ResourceKind {
	kinds := []assemble.ResourceKind{assemble.ResourceJob, assemble.ResourceView}
	known := map[assemble.ResourceKind]bool{assemble.ResourceJob: true, assemble.ResourceView: true}
	for _, kind := range orderedKinds(byKind) {
		if !known[kind] {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}
