package schema

import (
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// MergeLayers folds the given layers over the schema's defaults, in order of
// increasing precedence, and returns the merged configuration together with
// every violated constraint. The merged map contains a value for every field
// that has a default or was set by at least one layer.
func MergeLayers(s *Schema, layers []Layer) (map[string]cty.Value, []Violation) {
	merged := make(map[string]cty.Value)
	var violations []Violation

	// Seed with declared defaults.
	for _, path := range s.Paths() {
		f, _ := s.Field(path)
		if f.Default != cty.NilVal {
			merged[path] = f.Default
		}
	}

	// Tracks which layer explicitly set each path, for unique-default checks.
	setBy := make(map[string]string)

	for _, layer := range layers {
		for _, path := range sortedPaths(layer.Values) {
			val := layer.Values[path]

			f, ok := s.Field(path)
			if !ok {
				violations = append(violations, Violation{
					Layer:   layer.Name,
					Path:    path,
					Message: "unknown option",
				})
				continue
			}

			if f.Type != cty.DynamicPseudoType && !val.IsNull() && !val.Type().Equals(f.Type) {
				// Only lossless conversions are accepted (tuple to typed
				// list, object to map). Coercions like number to string are
				// type errors, not conversions.
				conversion := convert.GetConversion(val.Type(), f.Type)
				if conversion == nil {
					violations = append(violations, Violation{
						Layer:   layer.Name,
						Path:    path,
						Message: fmt.Sprintf("expected %s, got %s", f.Type.FriendlyName(), val.Type().FriendlyName()),
					})
					continue
				}
				conv, err := conversion(val)
				if err != nil {
					violations = append(violations, Violation{
						Layer:   layer.Name,
						Path:    path,
						Message: fmt.Sprintf("expected %s: %v", f.Type.FriendlyName(), err),
					})
					continue
				}
				val = conv
			}

			switch f.Merge {
			case MergeAppend, MergePrepend:
				prev, has := merged[path]
				if !has || setBy[path] == "" {
					// Defaults do not accumulate; the first explicit layer
					// starts the list.
					merged[path] = val
					break
				}
				if f.Merge == MergeAppend {
					merged[path] = concatLists(f.Type, prev, val)
				} else {
					merged[path] = concatLists(f.Type, val, prev)
				}

			case MergeUniqueDefault:
				if first, has := setBy[path]; has {
					if !val.RawEquals(merged[path]) {
						violations = append(violations, Violation{
							Layer:   layer.Name,
							Path:    path,
							Message: fmt.Sprintf("conflicts with definition in %s", first),
						})
						continue
					}
				}
				merged[path] = val

			default: // MergeReplace
				merged[path] = val
			}

			setBy[path] = layer.Name
		}
	}

	// Required fields must end up with a value from a default or a layer.
	for _, path := range s.Paths() {
		f, _ := s.Field(path)
		if !f.Required {
			continue
		}
		if v, ok := merged[path]; !ok || v.IsNull() {
			violations = append(violations, Violation{
				Path:    path,
				Message: "required option is not set",
			})
		}
	}

	return merged, violations
}

// concatLists joins two list-shaped values. Null operands contribute no
// elements. The result is typed as declared when the field is a list type,
// and a tuple otherwise.
func concatLists(declared cty.Type, a, b cty.Value) cty.Value {
	elems := make([]cty.Value, 0)
	for _, v := range []cty.Value{a, b} {
		if v == cty.NilVal || v.IsNull() || !v.CanIterateElements() {
			continue
		}
		elems = append(elems, v.AsValueSlice()...)
	}

	if declared.IsListType() {
		if len(elems) == 0 {
			return cty.ListValEmpty(declared.ElementType())
		}
		return cty.ListVal(elems)
	}
	if len(elems) == 0 {
		return cty.EmptyTupleVal
	}
	return cty.TupleVal(elems)
}

func sortedPaths(values map[string]cty.Value) []string {
	paths := make([]string, 0, len(values))
	for p := range values {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
