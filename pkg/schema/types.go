package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// MergeStrategy controls how two layers of the same field are combined.
type MergeStrategy string

const (
	// MergeReplace lets the higher-precedence layer win outright.
	MergeReplace MergeStrategy = "replace"

	// MergeAppend concatenates list values, later layers after earlier ones.
	MergeAppend MergeStrategy = "append"

	// MergePrepend concatenates list values, later layers before earlier ones.
	MergePrepend MergeStrategy = "prepend"

	// MergeUniqueDefault allows at most one layer to set the value; a second
	// definition that differs from the first is a violation.
	MergeUniqueDefault MergeStrategy = "unique-default"
)

// Field declares one typed option.
type Field struct {
	// Type is the cty type constraint for the field. cty.DynamicPseudoType
	// accepts any value shape.
	Type cty.Type

	// Default is the value used when no layer sets the field.
	// cty.NilVal means the field has no default.
	Default cty.Value

	// Merge is the strategy used to combine layered values.
	Merge MergeStrategy

	// Required marks fields that must be set by a default or a layer.
	Required bool
}

// Schema is an explicit mapping from dotted field path to option declaration.
type Schema struct {
	fields       map[string]Field
	openPrefixes []string
}

// New creates an empty schema.
func New() *Schema {
	return &Schema{fields: make(map[string]Field)}
}

// Define registers a field at the given dotted path. Defining a path twice
// replaces the earlier declaration. Returns the schema for chaining.
func (s *Schema) Define(path string, f Field) *Schema {
	if f.Merge == "" {
		f.Merge = MergeReplace
	}
	s.fields[path] = f
	return s
}

// Open declares a namespace whose sub-paths are accepted without explicit
// declarations. Values under an open prefix are untyped and merged with
// MergeReplace. Used for free-form configuration the external build system
// consumes, which the option system passes through rather than models.
func (s *Schema) Open(prefix string) *Schema {
	s.openPrefixes = append(s.openPrefixes, prefix)
	return s
}

// Field returns the declaration at the given path. Paths under an open
// namespace resolve to a synthetic untyped replace field.
func (s *Schema) Field(path string) (Field, bool) {
	if f, ok := s.fields[path]; ok {
		return f, true
	}
	for _, prefix := range s.openPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+".") {
			return Field{Type: cty.DynamicPseudoType, Merge: MergeReplace}, true
		}
	}
	return Field{}, false
}

// Paths returns all declared field paths in sorted order.
func (s *Schema) Paths() []string {
	paths := make([]string, 0, len(s.fields))
	for p := range s.fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Layer is one partial configuration value source. Layers are merged in
// order, later layers taking precedence over earlier ones.
type Layer struct {
	// Name identifies the layer in violation messages (e.g. "defaults",
	// "node:web-01").
	Name string

	// Values maps dotted field paths to values.
	Values map[string]cty.Value
}

// Violation is one constraint failure found during a merge. Violations are
// collected, not thrown: a single merge reports every offending field.
type Violation struct {
	// Layer names the value source the violation originated from, if any.
	Layer string

	// Path is the dotted field path of the offending value.
	Path string

	// Message is the human-readable description.
	Message string
}

// String renders the violation as "<layer>.<path>: <message>" so a human can
// locate the source entry without inspecting internals.
func (v Violation) String() string {
	if v.Layer == "" {
		return fmt.Sprintf("%s: %s", v.Path, v.Message)
	}
	return fmt.Sprintf("%s.%s: %s", v.Layer, v.Path, v.Message)
}
