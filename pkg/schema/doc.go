// Package schema implements the typed option system used to resolve layered
// hive configuration. A Schema maps dotted field paths to typed, defaulted
// option declarations, and MergeLayers folds an ordered sequence of value
// layers into one merged, type-checked configuration.
//
// Values are represented as cty values (github.com/zclconf/go-cty), which
// gives the merge engine a real type system: conversions are checked, lists
// keep their element types, and defaults are first-class values rather than
// ad hoc zero checks.
//
// Merge strategies:
//   - MergeReplace: a higher-precedence layer replaces the value outright.
//   - MergeAppend: list values accumulate, later layers after earlier ones.
//   - MergePrepend: list values accumulate, later layers before earlier ones.
//   - MergeUniqueDefault: at most one layer may set the value; a second
//     conflicting definition is a violation.
//
// MergeLayers is pure: it never mutates its inputs and returns the same
// result for the same schema and layer sequence.
package schema
