package render

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/jobforge/jobforge/pkg/assemble"
)

// IsManaged reports whether a stored document carries the managed marker.
// The marker lives in escaped description text, so the check matches the
// escaped form.
func IsManaged(document []byte) bool {
	return bytes.Contains(document, []byte(escapeText(ManagedMarker)))
}

const xmlHeader = "<?xml version='1.0' encoding='utf-8'?>\n"

// JobRenderer renders a job spec into a Jenkins-style project document.
type JobRenderer struct{}

func (r *JobRenderer) Render(spec assemble.ResourceSpec) ([]byte, error) {
	return renderDocument(spec, "project")
}

// ViewRenderer renders a view spec into a list-view document.
type ViewRenderer struct{}

func (r *ViewRenderer) Render(spec assemble.ResourceSpec) ([]byte, error) {
	return renderDocument(spec, "hudson.model.ListView")
}

// renderDocument writes the spec body as an XML element tree under root.
// Mapping keys are emitted in sorted order so output is deterministic, and
// the managed marker is appended to the description.
func renderDocument(spec assemble.ResourceSpec, root string) ([]byte, error) {
	body := make(map[string]interface{}, len(spec.Body))
	for key, value := range spec.Body {
		if key == "name" {
			// The name addresses the resource remotely, it is not part of
			// the stored document.
			continue
		}
		body[key] = value
	}
	body["description"] = describeManaged(spec.Body["description"])

	var b strings.Builder
	b.WriteString(xmlHeader)
	if err := writeElement(&b, root, body, 0); err != nil {
		return nil, &Error{Name: spec.Name, Err: err}
	}
	return []byte(b.String()), nil
}

// describeManaged appends the managed marker to a description value.
func describeManaged(desc interface{}) string {
	text, _ := desc.(string)
	if text == "" {
		return ManagedMarker
	}
	return text + "\n\n" + ManagedMarker
}

func writeElement(b *strings.Builder, name string, value interface{}, depth int) error {
	if !validElementName(name) {
		return fmt.Errorf("invalid element name %q", name)
	}
	indent := strings.Repeat("  ", depth)

	switch v := value.(type) {
	case map[string]interface{}:
		if len(v) == 0 {
			fmt.Fprintf(b, "%s<%s/>\n", indent, name)
			return nil
		}
		fmt.Fprintf(b, "%s<%s>\n", indent, name)
		for _, key := range sortedKeys(v) {
			if err := writeElement(b, key, v[key], depth+1); err != nil {
				return err
			}
		}
		fmt.Fprintf(b, "%s</%s>\n", indent, name)
	case []interface{}:
		// A sequence repeats its element once per item.
		for _, item := range v {
			if err := writeElement(b, name, item, depth); err != nil {
				return err
			}
		}
		if len(v) == 0 {
			fmt.Fprintf(b, "%s<%s/>\n", indent, name)
		}
	case nil:
		fmt.Fprintf(b, "%s<%s/>\n", indent, name)
	default:
		fmt.Fprintf(b, "%s<%s>%s</%s>\n", indent, name, escapeText(scalarText(v)), name)
	}
	return nil
}

// scalarText renders a scalar the way the definitions wrote it in YAML.
func scalarText(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(t)
	}
}

func escapeText(s string) string {
	var b strings.Builder
	// xml.EscapeText never fails on a strings.Builder.
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// validElementName accepts the element names the definition YAML can
// produce; anything that would break the document is rejected up front.
func validElementName(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		switch {
		case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_':
		case i > 0 && (c >= '0' && c <= '9' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}
