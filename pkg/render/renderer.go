// Package render turns ResourceSpecs into the remote system's native XML
// documents.
//
// The engine is generic over the Renderer capability: renderers are looked
// up in a registry keyed by resource kind, selected once per spec, and
// their output is treated as an opaque byte string for hashing and
// diffing. Rendering must be deterministic; identical spec bodies yield
// identical bytes.
package render

import (
	"fmt"

	"github.com/jobforge/jobforge/pkg/assemble"
)

// ManagedMarker is embedded in every rendered document's description so
// remote resources created by this tool can be told apart from
// hand-created ones. Only marked resources are ever candidates for
// obsolete deletion.
const ManagedMarker = "<!-- Managed by jobforge -->"

// Renderer turns one ResourceSpec into document bytes.
type Renderer interface {
	Render(spec assemble.ResourceSpec) ([]byte, error)
}

// Error is a per-resource rendering failure. It excludes the resource from
// the changeset but does not abort the run.
type Error struct {
	Name string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to render %q: %v", e.Name, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Registry maps a resource kind to its Renderer.
type Registry struct {
	renderers map[assemble.ResourceKind]Renderer
}

// NewRegistry creates a registry with the built-in XML renderers for jobs
// and views already registered.
func NewRegistry() *Registry {
	r := &Registry{renderers: map[assemble.ResourceKind]Renderer{}}
	r.Register(assemble.ResourceJob, &JobRenderer{})
	r.Register(assemble.ResourceView, &ViewRenderer{})
	return r
}

// Register installs (or replaces) the renderer for a kind.
func (r *Registry) Register(kind assemble.ResourceKind, renderer Renderer) {
	r.renderers[kind] = renderer
}

// Render selects the renderer for the spec's kind and runs it.
func (r *Registry) Render(spec assemble.ResourceSpec) ([]byte, error) {
	renderer, ok := r.renderers[spec.Kind]
	if !ok {
		return nil, &Error{Name: spec.Name, Err: fmt.Errorf("no renderer registered for kind %q", spec.Kind)}
	}
	doc, err := renderer.Render(spec)
	if err != nil {
		if _, ok := err.(*Error); ok {
			return nil, err
		}
		return nil, &Error{Name: spec.Name, Err: err}
	}
	return doc, nil
}
