// Package registry implements the indexed store of loaded declarations:
// macros, defaults sets, templates, groups and standalone jobs/views.
//
// The store is threaded through the load sequence and accumulates
// declarations in load order. Name uniqueness inside one table is governed
// by the duplicate policy: "abort" fails the run naming both source
// locations, "warn" keeps the later declaration and records a warning.
package registry

import (
	"fmt"
	"sort"

	"github.com/jobforge/jobforge/pkg/defs"
	"github.com/jobforge/jobforge/pkg/telemetry"
)

// DuplicatePolicy controls what happens when a name is defined twice.
type DuplicatePolicy string

const (
	// DuplicateAbort fails the run on the second definition of a name.
	DuplicateAbort DuplicatePolicy = "abort"

	// DuplicateWarn keeps the later definition and records a warning.
	DuplicateWarn DuplicatePolicy = "warn"
)

// ValidDuplicatePolicy reports whether p is a known policy.
func ValidDuplicatePolicy(p DuplicatePolicy) bool {
	return p == DuplicateAbort || p == DuplicateWarn
}

// Warning is an advisory condition recorded during a run instead of
// aborting it, such as a duplicate demoted under the "warn" policy.
type Warning struct {
	Message string
	Source  defs.SourceRef
}

// DuplicateDefinitionError reports a name defined twice in the same table
// under the "abort" policy.
type DuplicateDefinitionError struct {
	Kind   defs.Kind
	Name   string
	First  defs.SourceRef
	Second defs.SourceRef
}

func (e *DuplicateDefinitionError) Error() string {
	return fmt.Sprintf("duplicate %s %q: defined at %s and again at %s",
		e.Kind, e.Name, e.First, e.Second)
}

// Store accumulates declarations into per-kind tables.
type Store struct {
	policy   DuplicatePolicy
	log      *telemetry.Logger
	tables   map[defs.Kind]map[string]defs.RawDeclaration
	warnings []Warning
}

// NewStore creates an empty Store with the given duplicate policy.
func NewStore(policy DuplicatePolicy, log *telemetry.Logger) *Store {
	if log == nil {
		log = telemetry.FromContext(nil)
	}
	return &Store{
		policy: policy,
		log:    log.NewComponentLogger("registry"),
		tables: map[defs.Kind]map[string]defs.RawDeclaration{},
	}
}

// Define inserts a declaration into its kind's table.
func (s *Store) Define(decl defs.RawDeclaration) error {
	table := s.tables[decl.Kind]
	if table == nil {
		table = map[string]defs.RawDeclaration{}
		s.tables[decl.Kind] = table
	}

	if existing, ok := table[decl.Name]; ok {
		dup := &DuplicateDefinitionError{
			Kind:   decl.Kind,
			Name:   decl.Name,
			First:  existing.Source,
			Second: decl.Source,
		}
		if s.policy == DuplicateAbort {
			return dup
		}
		s.warnings = append(s.warnings, Warning{Message: dup.Error(), Source: decl.Source})
		s.log.Warnf("%s, keeping later definition", dup.Error())
	}
	table[decl.Name] = decl
	return nil
}

// Resolve looks up a declaration by kind and name.
func (s *Store) Resolve(kind defs.Kind, name string) (defs.RawDeclaration, bool) {
	decl, ok := s.tables[kind][name]
	return decl, ok
}

// All returns every declaration of a kind in load order.
func (s *Store) All(kind defs.Kind) []defs.RawDeclaration {
	table := s.tables[kind]
	decls := make([]defs.RawDeclaration, 0, len(table))
	for _, decl := range table {
		decls = append(decls, decl)
	}
	sort.Slice(decls, func(i, j int) bool {
		return decls[i].Source.Order < decls[j].Source.Order
	})
	return decls
}

// Warnings returns the advisory conditions recorded so far.
func (s *Store) Warnings() []Warning {
	return s.warnings
}

// ResetFragments clears the macro, defaults and template tables. It is
// called between definition roots when fragment retention across roots is
// disabled; groups, jobs and views already defined are kept.
func (s *Store) ResetFragments() {
	delete(s.tables, defs.KindMacro)
	delete(s.tables, defs.KindDefaults)
	delete(s.tables, defs.KindTemplate)
}
