package defs

import "fmt"

// Kind identifies what a declaration defines.
type Kind string

const (
	// KindMacro is a named reusable fragment spliced into templates by reference.
	KindMacro Kind = "macro"

	// KindDefaults is a named set of ambient values merged under bodies
	// before expansion.
	KindDefaults Kind = "defaults"

	// KindTemplate is a named body with placeholders, expanded per variable row.
	KindTemplate Kind = "template"

	// KindGroup pairs a template with a matrix of variable rows.
	KindGroup Kind = "group"

	// KindJob is a standalone, concrete job declaration.
	KindJob Kind = "job"

	// KindView is a standalone, concrete view declaration.
	KindView Kind = "view"
)

// ValidKind reports whether k names a known declaration kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindMacro, KindDefaults, KindTemplate, KindGroup, KindJob, KindView:
		return true
	}
	return false
}

// SourceRef records where a declaration came from. Order is the global load
// order across all files of a run; later declarations can override earlier
// ones under the "warn" duplicate policy.
type SourceRef struct {
	File  string
	Order int
}

func (s SourceRef) String() string {
	return fmt.Sprintf("%s#%d", s.File, s.Order)
}

// RawDeclaration is one parsed declaration, immutable once created.
// Body holds the declaration mapping as decoded from YAML, including the
// name field itself.
type RawDeclaration struct {
	Kind   Kind
	Name   string
	Body   map[string]interface{}
	Source SourceRef
}

// StructuralError is a fatal authoring mistake: a malformed declaration, an
// unresolved macro/template/defaults reference, or a cyclic macro chain.
// It aborts the run before any remote call.
type StructuralError struct {
	Message string
	Source  SourceRef
}

func (e *StructuralError) Error() string {
	if e.Source.File != "" {
		return fmt.Sprintf("%s (at %s)", e.Message, e.Source)
	}
	return e.Message
}

// NewStructuralError creates a StructuralError with source context.
func NewStructuralError(source SourceRef, format string, args ...interface{}) *StructuralError {
	return &StructuralError{
		Message: fmt.Sprintf(format, args...),
		Source:  source,
	}
}
