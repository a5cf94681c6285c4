package assemble

import (
	"github.com/jobforge/jobforge/pkg/defs"
)

// ResourceKind is the kind of a concrete managed resource.
type ResourceKind string

const (
	ResourceJob  ResourceKind = "job"
	ResourceView ResourceKind = "view"
)

// ResourceSpec is a fully-substituted, concretely-named resource ready for
// rendering. Name is final (post-substitution) and unique within one run
// unless the duplicate policy demotes collisions to warnings.
type ResourceSpec struct {
	Kind   ResourceKind
	Name   string
	Body   map[string]interface{}
	Source defs.SourceRef
}
