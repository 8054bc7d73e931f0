// Package policy checks resolved deployment configurations against Rego
// policies evaluated with OPA. A set of built-in policies covers key file
// modes and deployment safety; additional .rego files can be loaded from
// disk and hot-reloaded through an fsnotify watcher.
package policy
