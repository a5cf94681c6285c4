// Package assemble materializes concrete resource specifications from the
// declaration store: groups are expanded row by row against their
// referenced template, macros are spliced in by reference, and standalone
// jobs and views are treated as single-row groups with an empty context.
package assemble

import (
	"path"

	"github.com/jobforge/jobforge/pkg/defs"
	"github.com/jobforge/jobforge/pkg/expand"
	"github.com/jobforge/jobforge/pkg/registry"
	"github.com/jobforge/jobforge/pkg/telemetry"
)

// useMacroKey marks a macro reference inside a template body: a mapping
// with this single key is replaced by the named macro's body.
const useMacroKey = "use-macro"

// bookkeeping body fields stripped from assembled specs.
var metaFields = map[string]bool{"id": true, "defaults": true, "kind": true}

// Assembler consumes the declaration store and produces ResourceSpecs.
// It is stateful: Assemble may be called once per definition root, in load
// order, and Specs returns everything accumulated for the run.
type Assembler struct {
	store    *registry.Store
	expander *expand.Expander
	policy   registry.DuplicatePolicy
	log      *telemetry.Logger

	specs    []ResourceSpec
	seen     map[string]int // spec name -> index into specs
	warnings []registry.Warning
}

// New creates an Assembler over the given store.
func New(store *registry.Store, expander *expand.Expander, policy registry.DuplicatePolicy, log *telemetry.Logger) *Assembler {
	if log == nil {
		log = telemetry.FromContext(nil)
	}
	return &Assembler{
		store:    store,
		expander: expander,
		policy:   policy,
		log:      log.NewComponentLogger("assemble"),
		seen:     map[string]int{},
	}
}

// Assemble expands the group, job and view declarations of decls. Other
// kinds are ignored; they are resolved from the store on reference. When
// filters is non-empty, only resources whose final name matches one of the
// glob patterns are kept.
func (a *Assembler) Assemble(decls []defs.RawDeclaration, filters []string) error {
	for _, decl := range decls {
		switch decl.Kind {
		case defs.KindGroup:
			if err := a.assembleGroup(decl, filters); err != nil {
				return err
			}
		case defs.KindJob, defs.KindView:
			if err := a.assembleStandalone(decl, filters); err != nil {
				return err
			}
		}
	}
	return nil
}

// Specs returns every ResourceSpec accumulated so far, in production order.
func (a *Assembler) Specs() []ResourceSpec {
	return a.specs
}

// Warnings returns advisory conditions recorded during assembly.
func (a *Assembler) Warnings() []registry.Warning {
	return a.warnings
}

// assembleGroup produces one ResourceSpec per variable row of the group.
func (a *Assembler) assembleGroup(group defs.RawDeclaration, filters []string) error {
	ref, ok := group.Body["template"].(string)
	if !ok || ref == "" {
		return defs.NewStructuralError(group.Source, "group %q has no template reference", group.Name)
	}
	template, ok := a.store.Resolve(defs.KindTemplate, ref)
	if !ok {
		return defs.NewStructuralError(group.Source, "group %q references unknown template %q", group.Name, ref)
	}

	body, err := a.prepareBody(template)
	if err != nil {
		return err
	}
	ambient, err := a.ambientDefaults(template)
	if err != nil {
		return err
	}
	excludes := excludeRows(group.Body)

	rows, err := variableRows(group)
	if err != nil {
		return err
	}
	for _, row := range rows {
		context := mergeContext(ambient, row)
		if matchesExclude(row, excludes) {
			a.log.Debugf("group %q: excluding combination %v", group.Name, row)
			continue
		}
		if err := a.produce(template, body, context, filters); err != nil {
			return err
		}
	}
	return nil
}

// assembleStandalone treats a job or view declaration as a group with
// exactly one row and an empty context.
func (a *Assembler) assembleStandalone(decl defs.RawDeclaration, filters []string) error {
	body, err := a.prepareBody(decl)
	if err != nil {
		return err
	}
	ambient, err := a.ambientDefaults(decl)
	if err != nil {
		return err
	}
	return a.produce(decl, body, ambient, filters)
}

// produce expands a prepared body against one context and records the
// resulting ResourceSpec, applying the duplicate-name policy.
func (a *Assembler) produce(decl defs.RawDeclaration, body map[string]interface{}, context map[string]string, filters []string) error {
	expanded, err := a.expander.Expand(body, context, decl.Name)
	if err != nil {
		return err
	}
	final := expanded.(map[string]interface{})

	name, _ := final["name"].(string)
	if name == "" {
		return defs.NewStructuralError(decl.Source, "declaration %q expanded to an empty name", decl.Name)
	}
	if len(filters) > 0 && !matchesAny(name, filters) {
		a.log.Debugf("ignoring %s: no filter matches", name)
		return nil
	}

	kind := resourceKind(decl, body)
	spec := ResourceSpec{Kind: kind, Name: name, Body: stripMeta(final), Source: decl.Source}

	if prev, ok := a.seen[name]; ok {
		dup := &registry.DuplicateDefinitionError{
			Kind:   defs.Kind(kind),
			Name:   name,
			First:  a.specs[prev].Source,
			Second: decl.Source,
		}
		if a.policy == registry.DuplicateAbort {
			return dup
		}
		a.warnings = append(a.warnings, registry.Warning{Message: dup.Error(), Source: decl.Source})
		a.log.Warnf("%s, keeping later definition", dup.Error())
		a.specs[prev] = spec
		return nil
	}
	a.seen[name] = len(a.specs)
	a.specs = append(a.specs, spec)
	a.log.Debugf("assembled %s %q", kind, name)
	return nil
}

// prepareBody merges the selected defaults set under the declaration body
// and splices macro references, returning a body ready for expansion.
func (a *Assembler) prepareBody(decl defs.RawDeclaration) (map[string]interface{}, error) {
	merged, err := a.applyDefaults(decl)
	if err != nil {
		return nil, err
	}
	spliced, err := a.spliceMacros(merged, decl.Source, nil)
	if err != nil {
		return nil, err
	}
	return spliced.(map[string]interface{}), nil
}

// applyDefaults merges the declaration's defaults set (the "global" set
// when none is named) under its body. Naming an unknown set is fatal.
func (a *Assembler) applyDefaults(decl defs.RawDeclaration) (map[string]interface{}, error) {
	setName := "global"
	if named, ok := decl.Body["defaults"].(string); ok {
		setName = named
	}
	set, ok := a.store.Resolve(defs.KindDefaults, setName)
	if !ok {
		if setName != "global" {
			return nil, defs.NewStructuralError(decl.Source, "unknown defaults set %q", setName)
		}
		return copyBody(decl.Body), nil
	}

	merged := map[string]interface{}{}
	for key, value := range set.Body {
		if key == "name" || key == "id" {
			continue
		}
		merged[key] = value
	}
	for key, value := range decl.Body {
		merged[key] = value
	}
	return merged, nil
}

// ambientDefaults builds the context contribution of the declaration's
// defaults set: scalar fields stringified for substitution.
func (a *Assembler) ambientDefaults(decl defs.RawDeclaration) (map[string]string, error) {
	setName := "global"
	if named, ok := decl.Body["defaults"].(string); ok {
		setName = named
	}
	set, ok := a.store.Resolve(defs.KindDefaults, setName)
	if !ok {
		if setName != "global" {
			return nil, defs.NewStructuralError(decl.Source, "unknown defaults set %q", setName)
		}
		return map[string]string{}, nil
	}

	context := map[string]string{}
	for key, value := range set.Body {
		if key == "name" || key == "id" {
			continue
		}
		switch value.(type) {
		case map[string]interface{}, []interface{}:
			// Structured defaults merge into bodies, they are not variables.
		default:
			context[key] = expand.Stringify(value)
		}
	}
	return context, nil
}

// spliceMacros replaces every {use-macro: name} reference with the named
// macro's body. The chain argument tracks in-progress resolutions to
// detect cycles.
func (a *Assembler) spliceMacros(body interface{}, source defs.SourceRef, chain []string) (interface{}, error) {
	switch v := body.(type) {
	case map[string]interface{}:
		if name, ok := macroRef(v); ok {
			return a.resolveMacro(name, source, chain)
		}
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			spliced, err := a.spliceMacros(value, source, chain)
			if err != nil {
				return nil, err
			}
			out[key] = spliced
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, item := range v {
			if ref, ok := item.(map[string]interface{}); ok {
				if name, isMacro := macroRef(ref); isMacro {
					resolved, err := a.resolveMacro(name, source, chain)
					if err != nil {
						return nil, err
					}
					// A list-valued macro splices its items inline.
					if items, isList := resolved.([]interface{}); isList {
						out = append(out, items...)
						continue
					}
					out = append(out, resolved)
					continue
				}
			}
			spliced, err := a.spliceMacros(item, source, chain)
			if err != nil {
				return nil, err
			}
			out = append(out, spliced)
		}
		return out, nil
	default:
		return body, nil
	}
}

// resolveMacro returns the spliced body of a macro, recursing into nested
// macro references with cycle detection.
func (a *Assembler) resolveMacro(name string, source defs.SourceRef, chain []string) (interface{}, error) {
	for _, inProgress := range chain {
		if inProgress == name {
			return nil, defs.NewStructuralError(source,
				"cyclic macro reference: %s", formatChain(append(chain, name)))
		}
	}
	macro, ok := a.store.Resolve(defs.KindMacro, name)
	if !ok {
		return nil, defs.NewStructuralError(source, "unknown macro %q", name)
	}
	fragment, ok := macro.Body["body"]
	if !ok {
		return nil, defs.NewStructuralError(macro.Source, "macro %q has no body", name)
	}
	return a.spliceMacros(fragment, macro.Source, append(chain, name))
}

func macroRef(m map[string]interface{}) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	name, ok := m[useMacroKey].(string)
	return name, ok && name != ""
}

func formatChain(chain []string) string {
	out := ""
	for i, name := range chain {
		if i > 0 {
			out += " -> "
		}
		out += name
	}
	return out
}

// variableRows decodes the group's ordered variable matrix. A group without
// rows expands its template once with an empty row.
func variableRows(group defs.RawDeclaration) ([]map[string]string, error) {
	raw, ok := group.Body["vars"]
	if !ok {
		return []map[string]string{{}}, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, defs.NewStructuralError(group.Source, "group %q: vars must be a sequence of mappings", group.Name)
	}
	if len(list) == 0 {
		return []map[string]string{{}}, nil
	}

	rows := make([]map[string]string, 0, len(list))
	for _, item := range list {
		mapping, ok := item.(map[string]interface{})
		if !ok {
			return nil, defs.NewStructuralError(group.Source, "group %q: vars must be a sequence of mappings", group.Name)
		}
		row := make(map[string]string, len(mapping))
		for key, value := range mapping {
			row[key] = expand.Stringify(value)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// excludeRows decodes the group's exclude combination matrix.
func excludeRows(body map[string]interface{}) []map[string]string {
	raw, ok := body["exclude"].([]interface{})
	if !ok {
		return nil
	}
	var out []map[string]string
	for _, item := range raw {
		mapping, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		row := make(map[string]string, len(mapping))
		for key, value := range mapping {
			row[key] = expand.Stringify(value)
		}
		out = append(out, row)
	}
	return out
}

// matchesExclude reports whether a row matches any exclude combination.
// A combination matches when every key it names carries the same value in
// the row; keys absent from the combination are wildcards.
func matchesExclude(row map[string]string, excludes []map[string]string) bool {
	for _, exclude := range excludes {
		if len(exclude) == 0 {
			continue
		}
		matched := true
		for key, want := range exclude {
			if got, ok := row[key]; !ok || got != want {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

func mergeContext(ambient map[string]string, row map[string]string) map[string]string {
	context := make(map[string]string, len(ambient)+len(row))
	for key, value := range ambient {
		context[key] = value
	}
	for key, value := range row {
		context[key] = value
	}
	return context
}

func matchesAny(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

func resourceKind(decl defs.RawDeclaration, body map[string]interface{}) ResourceKind {
	if decl.Kind == defs.KindView {
		return ResourceView
	}
	if kind, ok := body["kind"].(string); ok && ResourceKind(kind) == ResourceView {
		return ResourceView
	}
	return ResourceJob
}

func stripMeta(body map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(body))
	for key, value := range body {
		if metaFields[key] {
			continue
		}
		out[key] = value
	}
	return out
}

func copyBody(body map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(body))
	for key, value := range body {
		out[key] = value
	}
	return out
}
