package hive

import "github.com/apiary/apiary/pkg/schema"

// View is the read-only window over an already-resolved hive handed to
// introspection functions.
type View struct {
	// Meta is the hive-wide metadata.
	Meta HiveMeta

	// Nodes is the resolved node map.
	Nodes map[string]*ResolvedNode

	// PackageSet is the resolved hive-wide package set, or nil when it
	// could not be resolved.
	PackageSet *PackageSet

	// Schema is the option schema nodes were resolved against.
	Schema *schema.Schema
}

// Introspect invokes fn once with read-only access to the resolved
// structures and returns its result. fn must not retain or mutate the view
// contents.
func Introspect[T any](rh *ResolvedHive, pkgSet *PackageSet, fn func(View) T) T {
	return fn(View{
		Meta:       rh.Hive.Meta,
		Nodes:      rh.Nodes,
		PackageSet: pkgSet,
		Schema:     OptionsSchema(),
	})
}
