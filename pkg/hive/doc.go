// Package hive implements the fleet-configuration compiler core: loading a
// declarative hive description, resolving each named node's configuration
// through layered precedence merging, and packaging caller-selected subsets
// of build artifacts.
//
// Resolution precedence, low to high:
//
//  1. key material validation (assertion-only, contributes no values)
//  2. resolved package set (toolchain, overlay-prepend semantics)
//  3. built-in deployment defaults (targetHost defaults to the node name)
//  4. the hive-wide "defaults" layer
//  5. the node-specific layer
//
// Nodes resolve independently of each other: one node's failure never blocks
// a sibling, and ResolveAll fans the work out across a bounded worker pool.
// Hive-wide structural errors (conflicting meta keys, malformed meta) abort
// before any node is attempted.
package hive
