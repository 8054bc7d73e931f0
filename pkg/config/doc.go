// Package config is the configuration frontend: it parses hive descriptions
// written in CUE, validates their shape against registered CUE schemas,
// binds Starlark package-set constructor scripts, and hands the typed
// result to the hive package.
//
// The parser also supplies the path loader the package-set resolver follows
// path references with, so a reference may point at a CUE package-set file
// or a ".star" constructor script.
package config
