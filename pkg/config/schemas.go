package config

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas the parser validates raw hive
// descriptions against before typing them.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	ctx := cuecontext.New()
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema("hive", builtinHiveSchema)
	sr.RegisterSchema("packageSet", builtinPackageSetSchema)
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// ValidateHive validates a raw hive description against the hive schema.
func (sr *SchemaRegistry) ValidateHive(ctx context.Context, raw map[string]interface{}) error {
	return sr.ValidateAgainstSchema(ctx, "hive", raw)
}

// ValidatePackageSet validates a raw package-set struct.
func (sr *SchemaRegistry) ValidatePackageSet(ctx context.Context, raw map[string]interface{}) error {
	return sr.ValidateAgainstSchema(ctx, "packageSet", raw)
}

// Built-in schema definitions

const builtinHiveSchema = `
// Hive schema for hive descriptions. Every top-level key besides the
// reserved ones defines a node.
#PackageSetRef: string | #PackageSet | {starlark: string}

#PackageSet: {
	toolchain?: string
	overlays?: [...string]
	config?: {...}
}

#Meta: {
	name?:         string & =~"^[a-zA-Z0-9_-]+$"
	description?:  string
	machinesFile?: string
	nixpkgs?:      #PackageSetRef
	nodeNixpkgs?: {[string]: #PackageSetRef}
}

meta?:     #Meta
network?:  #Meta
defaults?: {...}
{[!~"^(meta|network|defaults)$"]: {...}}
`

const builtinPackageSetSchema = `
// Package-set schema for standalone package-set files.
toolchain?: string
overlays?: [...string]
config?: {...}
`
