package defs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jobforge/jobforge/pkg/telemetry"
)

// Root is one definition source path. Non-recursive roots only consume the
// YAML files directly inside them.
type Root struct {
	Path      string
	Recursive bool
}

// Loader discovers definition files under a set of roots and parses them
// into ordered RawDeclarations.
//
// Ordering is load-order-significant: files directly in a directory are
// consumed alphabetically before any subdirectory is descended, and roots
// are consumed in the order given. The same physical file reachable through
// two paths (symlinks) is parsed only once.
type Loader struct {
	excludes []string
	log      *telemetry.Logger

	seen  map[string]bool
	order int
}

// NewLoader creates a Loader with the given exclude rules.
//
// A rule with no path separator is a name pattern matched against any path
// segment at any depth. A rule starting with the separator is matched as an
// absolute path. Any other rule is matched relative to the scan root.
// Patterns support shell-style globbing.
func NewLoader(excludes []string, log *telemetry.Logger) *Loader {
	if log == nil {
		log = telemetry.FromContext(nil)
	}
	return &Loader{
		excludes: excludes,
		log:      log.NewComponentLogger("loader"),
		seen:     map[string]bool{},
	}
}

// LoadRoot discovers and parses all definition files under one root, in
// load order. An unreadable or malformed file is a fatal error.
func (l *Loader) LoadRoot(root Root) ([]RawDeclaration, error) {
	files, err := l.discover(root)
	if err != nil {
		return nil, err
	}

	var decls []RawDeclaration
	for _, file := range files {
		real, err := filepath.EvalSymlinks(file)
		if err != nil {
			real = file
		}
		if l.seen[real] {
			l.log.Warnf("file %q already loaded as %q, skipping duplicate reference", file, real)
			continue
		}
		l.seen[real] = true

		l.log.Debugf("parsing definition file %s", file)
		fileDecls, err := l.parseFile(file)
		if err != nil {
			return nil, err
		}
		decls = append(decls, fileDecls...)
	}
	return decls, nil
}

// discover returns the definition files under root in load order.
func (l *Loader) discover(root Root) ([]string, error) {
	info, err := os.Stat(root.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat definition root %s: %w", root.Path, err)
	}
	if !info.IsDir() {
		return []string{root.Path}, nil
	}
	if l.excluded(root.Path, root.Path) {
		return nil, nil
	}
	return l.walkDir(root.Path, root.Path, root.Recursive)
}

// walkDir lists the YAML files of dir (alphabetical), then descends into
// subdirectories (alphabetical) when recursive. Excluded directories are
// pruned before descent.
func (l *Loader) walkDir(dir, root string, recursive bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition directory %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var files, subdirs []string
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		isDir := entry.IsDir()
		if !isDir && entry.Type()&os.ModeSymlink != 0 {
			if target, err := os.Stat(full); err == nil && target.IsDir() {
				isDir = true
			}
		}
		if isDir {
			subdirs = append(subdirs, full)
			continue
		}
		if isDefinitionFile(entry.Name()) {
			files = append(files, full)
		}
	}

	var result []string
	for _, f := range files {
		if l.excluded(f, root) {
			l.log.Debugf("excluding definition file %s", f)
			continue
		}
		result = append(result, f)
	}
	if !recursive {
		return result, nil
	}
	for _, sub := range subdirs {
		if l.excluded(sub, root) {
			l.log.Debugf("excluding directory %s", sub)
			continue
		}
		nested, err := l.walkDir(sub, root, true)
		if err != nil {
			return nil, err
		}
		result = append(result, nested...)
	}
	return result, nil
}

func isDefinitionFile(name string) bool {
	return strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml")
}

// excluded reports whether path matches any exclude rule relative to root.
func (l *Loader) excluded(path, root string) bool {
	for _, rule := range l.excludes {
		if matchExclude(rule, path, root) {
			return true
		}
	}
	return false
}

func matchExclude(rule, path, root string) bool {
	sep := string(os.PathSeparator)
	switch {
	case !strings.Contains(rule, sep):
		// Simple name pattern: match any path segment at any depth.
		for _, segment := range strings.Split(filepath.Clean(path), sep) {
			if ok, err := filepath.Match(rule, segment); err == nil && ok {
				return true
			}
		}
	case strings.HasPrefix(rule, sep):
		abs, err := filepath.Abs(path)
		if err != nil {
			return false
		}
		if ok, err := filepath.Match(rule, abs); err == nil && ok {
			return true
		}
	default:
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return false
		}
		// Rules may be written relative to the root's parent as well, the
		// way invocations name paths on the command line.
		joined := filepath.Join(filepath.Base(root), rel)
		for _, candidate := range []string{rel, joined, filepath.Join(root, rel)} {
			if ok, err := filepath.Match(rule, candidate); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// parseFile parses one YAML definition file into RawDeclarations.
//
// The topmost collection must be a sequence of single-key mappings:
//
//	- template:
//	    name: build-{env}
//	    ...
func (l *Loader) parseFile(file string) ([]RawDeclaration, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file %s: %w", file, err)
	}

	var doc []map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse definition file %s: %w", file, err)
	}

	var decls []RawDeclaration
	for _, item := range doc {
		if len(item) != 1 {
			return nil, NewStructuralError(SourceRef{File: file},
				"each definition must be a single-key mapping, got %d keys (missing indent?)", len(item))
		}
		for rawKind, rawBody := range item {
			kind := Kind(rawKind)
			if !ValidKind(kind) {
				return nil, NewStructuralError(SourceRef{File: file},
					"unknown declaration kind %q", rawKind)
			}
			body, ok := rawBody.(map[string]interface{})
			if !ok {
				return nil, NewStructuralError(SourceRef{File: file},
					"body of %s declaration must be a mapping", rawKind)
			}
			name, err := declarationName(body)
			if err != nil {
				return nil, NewStructuralError(SourceRef{File: file},
					"%s declaration: %v", rawKind, err)
			}
			decls = append(decls, RawDeclaration{
				Kind:   kind,
				Name:   name,
				Body:   body,
				Source: SourceRef{File: file, Order: l.order},
			})
			l.order++
		}
	}
	return decls, nil
}

// declarationName returns the registry key of a declaration body: its "id"
// when present, otherwise its "name".
func declarationName(body map[string]interface{}) (string, error) {
	if id, ok := body["id"]; ok {
		s, ok := id.(string)
		if !ok {
			return "", fmt.Errorf("id must be a string")
		}
		return s, nil
	}
	name, ok := body["name"]
	if !ok {
		return "", fmt.Errorf("missing name")
	}
	s, ok := name.(string)
	if !ok {
		return "", fmt.Errorf("name must be a string")
	}
	return s, nil
}
