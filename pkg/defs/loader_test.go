package defs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
}

// TestLoadRootSingleFile tests parsing one definition file
func TestLoadRootSingleFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "defs.yaml")
	writeFile(t, file, `
- template:
    name: build-{env}
    timeout: "{t}"
- group:
    name: builds
    template: build-{env}
    vars:
      - env: dev
        t: "10"
`)

	loader := NewLoader(nil, nil)
	decls, err := loader.LoadRoot(Root{Path: file})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decls) != 2 {
		t.Fatalf("expected 2 declarations, got %d", len(decls))
	}
	if decls[0].Kind != KindTemplate || decls[0].Name != "build-{env}" {
		t.Errorf("unexpected first declaration: %+v", decls[0])
	}
	if decls[1].Kind != KindGroup || decls[1].Name != "builds" {
		t.Errorf("unexpected second declaration: %+v", decls[1])
	}
	if decls[0].Source.Order >= decls[1].Source.Order {
		t.Errorf("load order not increasing: %d then %d",
			decls[0].Source.Order, decls[1].Source.Order)
	}
}

// TestLoadRootOrdering tests that files in a directory are consumed
// alphabetically before subdirectories
func TestLoadRootOrdering(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.yaml"), "- job:\n    name: from-b\n")
	writeFile(t, filepath.Join(dir, "a.yaml"), "- job:\n    name: from-a\n")
	writeFile(t, filepath.Join(dir, "sub", "c.yaml"), "- job:\n    name: from-sub\n")
	writeFile(t, filepath.Join(dir, "z.yaml"), "- job:\n    name: from-z\n")

	loader := NewLoader(nil, nil)
	decls, err := loader.LoadRoot(Root{Path: dir, Recursive: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var names []string
	for _, decl := range decls {
		names = append(names, decl.Name)
	}
	want := []string{"from-a", "from-b", "from-z", "from-sub"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, names)
		}
	}
}

// TestLoadRootNonRecursive tests that subdirectories stay untouched
// without the recursive flag
func TestLoadRootNonRecursive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "- job:\n    name: top\n")
	writeFile(t, filepath.Join(dir, "sub", "b.yaml"), "- job:\n    name: nested\n")

	loader := NewLoader(nil, nil)
	decls, err := loader.LoadRoot(Root{Path: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decls) != 1 || decls[0].Name != "top" {
		t.Fatalf("expected only the top-level declaration, got %+v", decls)
	}
}

// TestLoadRootExcludes tests segment, relative and absolute exclude rules
func TestLoadRootExcludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "keep.yaml"), "- job:\n    name: kept\n")
	writeFile(t, filepath.Join(dir, "managed", "a.yaml"), "- job:\n    name: managed-a\n")
	writeFile(t, filepath.Join(dir, "manual", "b.yaml"), "- job:\n    name: manual-b\n")
	writeFile(t, filepath.Join(dir, "other", "c.yaml"), "- job:\n    name: other-c\n")

	// A rule without a separator matches any path segment at any depth.
	loader := NewLoader([]string{"man*"}, nil)
	decls, err := loader.LoadRoot(Root{Path: dir, Recursive: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var names []string
	for _, decl := range decls {
		names = append(names, decl.Name)
	}
	if len(names) != 2 || names[0] != "kept" || names[1] != "other-c" {
		t.Fatalf("expected [kept other-c], got %v", names)
	}

	// A relative rule matches against the scan root.
	loader = NewLoader([]string{filepath.Join("other", "*")}, nil)
	decls, err = loader.LoadRoot(Root{Path: dir, Recursive: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, decl := range decls {
		if decl.Name == "other-c" {
			t.Errorf("relative exclude did not prune other/")
		}
	}
}

// TestLoadRootDuplicateFile tests that the same physical file reachable
// twice is parsed only once
func TestLoadRootDuplicateFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "defs.yaml")
	writeFile(t, file, "- job:\n    name: once\n")

	link := filepath.Join(dir, "link.yaml")
	if err := os.Symlink(file, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	loader := NewLoader(nil, nil)
	decls, err := loader.LoadRoot(Root{Path: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decls) != 1 {
		t.Fatalf("expected 1 declaration, got %d", len(decls))
	}
}

// TestParseFileStructuralErrors tests fatal authoring mistakes
func TestParseFileStructuralErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"multiple keys", "- job:\n    name: a\n  template:\n    name: b\n"},
		{"unknown kind", "- pipeline:\n    name: a\n"},
		{"scalar body", "- job: just-a-string\n"},
		{"missing name", "- job:\n    timeout: 5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			file := filepath.Join(dir, "bad.yaml")
			writeFile(t, file, tt.content)

			loader := NewLoader(nil, nil)
			_, err := loader.LoadRoot(Root{Path: file})
			var structErr *StructuralError
			if !errors.As(err, &structErr) {
				t.Fatalf("expected StructuralError, got %v", err)
			}
		})
	}
}

// TestDeclarationNameIDPrecedence tests that an id field beats the name
// field as the registry key
func TestDeclarationNameIDPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "defs.yaml")
	writeFile(t, file, "- template:\n    id: short\n    name: long-{env}\n")

	loader := NewLoader(nil, nil)
	decls, err := loader.LoadRoot(Root{Path: file})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decls[0].Name != "short" {
		t.Errorf("expected registry key short, got %q", decls[0].Name)
	}
}
