package hive

import (
	"fmt"
	"sort"

	"github.com/apiary/apiary/pkg/schema"
	"github.com/zclconf/go-cty/cty"
)

// Top-level keys with special meaning in a hive description.
const (
	// MetaKey holds hive-wide metadata.
	MetaKey = "meta"

	// LegacyMetaKey is the legacy spelling of MetaKey. At most one of the
	// two may be present.
	LegacyMetaKey = "network"

	// DefaultsKey holds the shared defaults layer applied to every node.
	DefaultsKey = "defaults"
)

// reservedNodeNames are top-level keys that can never name a node.
var reservedNodeNames = map[string]struct{}{
	MetaKey:       {},
	LegacyMetaKey: {},
	DefaultsKey:   {},
}

// IsReservedNodeName reports whether the name is reserved and may not be
// used as a node name.
func IsReservedNodeName(name string) bool {
	_, ok := reservedNodeNames[name]
	return ok
}

// ConfigLayer is one partial configuration value, to be merged with other
// layers by precedence. Values are plain Go values as decoded from the
// configuration frontend.
type ConfigLayer map[string]interface{}

// HiveMeta is the hive-wide metadata block.
type HiveMeta struct {
	// Name identifies the hive; it names the selection output bundle.
	Name string `json:"name" validate:"required"`

	// Description is free-form.
	Description string `json:"description,omitempty"`

	// MachinesFile optionally points at an external machine inventory.
	MachinesFile string `json:"machinesFile,omitempty"`

	// PackageSet is the hive-wide package set reference every node
	// inherits unless overridden.
	PackageSet PackageSetRef `json:"-"`

	// NodePackageSets maps node names to per-node package set overrides.
	NodePackageSets map[string]PackageSetRef `json:"-"`
}

// Hive is the loaded fleet description: metadata, the shared defaults
// layer, and one configuration layer per node. Immutable after Load.
type Hive struct {
	Meta     HiveMeta
	Defaults ConfigLayer
	Nodes    map[string]ConfigLayer
}

// NodeNames returns the declared node names in sorted order.
func (h *Hive) NodeNames() []string {
	names := make([]string, 0, len(h.Nodes))
	for name := range h.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// metaSchema type-checks the scalar hive metadata fields. Package-set
// references are shape-checked separately by ParseRef since constructor
// references are functions, not data.
func metaSchema() *schema.Schema {
	return schema.New().
		Define("name", schema.Field{Type: cty.String, Default: cty.StringVal("hive")}).
		Define("description", schema.Field{Type: cty.String, Default: cty.StringVal("")}).
		Define("machinesFile", schema.Field{Type: cty.String})
}

// Load turns one raw hive description into a typed Hive. The input maps
// top-level keys to values: "meta" (or legacy "network") holds metadata,
// "defaults" the shared layer, and every other key defines a node.
//
// Presence of both metadata spellings is rejected before anything else is
// touched. Structural errors abort the whole hive.
func Load(raw map[string]interface{}) (*Hive, error) {
	metaRaw, hasMeta := raw[MetaKey]
	legacyRaw, hasLegacy := raw[LegacyMetaKey]
	if hasMeta && hasLegacy {
		return nil, NewConflictingMetaKeys()
	}

	// Violations name the spelling the input actually used.
	metaLabel := MetaKey
	if hasLegacy {
		metaRaw = legacyRaw
		metaLabel = LegacyMetaKey
	}

	meta, err := loadMeta(metaRaw, metaLabel)
	if err != nil {
		return nil, err
	}

	h := &Hive{
		Meta:  meta,
		Nodes: make(map[string]ConfigLayer),
	}

	if d, ok := raw[DefaultsKey]; ok {
		layer, ok := d.(map[string]interface{})
		if !ok {
			return nil, NewMalformedMeta([]schema.Violation{{
				Path:    DefaultsKey,
				Message: fmt.Sprintf("defaults layer must be a struct, got %T", d),
			}})
		}
		h.Defaults = ConfigLayer(layer)
	}

	// Every unrecognized top-level key is a node definition.
	for name, v := range raw {
		if IsReservedNodeName(name) {
			continue
		}
		layer, ok := v.(map[string]interface{})
		if !ok {
			return nil, NewMalformedMeta([]schema.Violation{{
				Path:    name,
				Message: fmt.Sprintf("node definition must be a struct, got %T", v),
			}})
		}
		h.Nodes[name] = ConfigLayer(layer)
	}

	return h, nil
}

// loadMeta validates and types the metadata block. metaLabel is the top-level
// spelling the block was found under.
func loadMeta(raw interface{}, metaLabel string) (HiveMeta, error) {
	meta := HiveMeta{
		Name:            "hive",
		PackageSet:      LiteralRef(&PackageSet{}),
		NodePackageSets: make(map[string]PackageSetRef),
	}
	if raw == nil {
		return meta, nil
	}

	block, ok := raw.(map[string]interface{})
	if !ok {
		return meta, NewMalformedMeta([]schema.Violation{{
			Path:    metaLabel,
			Message: fmt.Sprintf("metadata must be a struct, got %T", raw),
		}})
	}

	// Package-set references carry functions; split them off before the
	// scalar fields go through the option schema.
	scalars := make(map[string]cty.Value)
	var violations []schema.Violation
	for key, v := range block {
		switch key {
		case "nixpkgs", "nodeNixpkgs":
			continue
		default:
			val, err := schema.FromGo(v)
			if err != nil {
				violations = append(violations, schema.Violation{
					Layer:   metaLabel,
					Path:    key,
					Message: err.Error(),
				})
				continue
			}
			scalars[key] = val
		}
	}

	merged, mergeViolations := schema.MergeLayers(metaSchema(), []schema.Layer{
		{Name: metaLabel, Values: scalars},
	})
	violations = append(violations, mergeViolations...)
	if len(violations) > 0 {
		return meta, NewMalformedMeta(violations)
	}

	meta.Name = merged["name"].AsString()
	meta.Description = merged["description"].AsString()
	if v, ok := merged["machinesFile"]; ok && !v.IsNull() {
		meta.MachinesFile = v.AsString()
	}

	if v, ok := block["nixpkgs"]; ok {
		ref, err := ParseRef(v, metaLabel+".nixpkgs")
		if err != nil {
			return meta, err
		}
		meta.PackageSet = ref
	}

	if v, ok := block["nodeNixpkgs"]; ok {
		entries, ok := v.(map[string]interface{})
		if !ok {
			return meta, NewMalformedMeta([]schema.Violation{{
				Layer:   metaLabel,
				Path:    "nodeNixpkgs",
				Message: fmt.Sprintf("must be a mapping of node name to package set reference, got %T", v),
			}})
		}
		for node, entry := range entries {
			ref, err := ParseRef(entry, fmt.Sprintf("%s.nodeNixpkgs.%s", metaLabel, node))
			if err != nil {
				return meta, err
			}
			meta.NodePackageSets[node] = ref
		}
	}

	return meta, nil
}

// ParseRef interprets a raw value as a package-set reference: a string is a
// path, a function a constructor, a struct a literal, and an existing
// reference passes through. Anything else is rejected with the context
// label so the offending field is identifiable.
func ParseRef(v interface{}, contextLabel string) (PackageSetRef, error) {
	switch t := v.(type) {
	case PackageSetRef:
		return t, nil
	case string:
		return PathRef(t), nil
	case ConstructorFunc:
		return ConstructorRef(t), nil
	case func(map[string]interface{}) (*PackageSet, error):
		return ConstructorRef(t), nil
	case *PackageSet:
		return LiteralRef(t), nil
	case map[string]interface{}:
		ps, err := decodePackageSet(t)
		if err != nil {
			return PackageSetRef{}, NewInvalidPackageSetRef(contextLabel, err)
		}
		return LiteralRef(ps), nil
	default:
		return PackageSetRef{}, NewInvalidPackageSetRef(contextLabel,
			fmt.Errorf("unsupported value of type %T", v))
	}
}

// decodePackageSet decodes a literal package-set struct.
func decodePackageSet(raw map[string]interface{}) (*PackageSet, error) {
	ps := &PackageSet{}
	for key, v := range raw {
		switch key {
		case "toolchain":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("toolchain must be a string, got %T", v)
			}
			ps.Toolchain = s
		case "overlays":
			items, ok := v.([]interface{})
			if !ok {
				return nil, fmt.Errorf("overlays must be a list, got %T", v)
			}
			for i, item := range items {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("overlays[%d] must be a string, got %T", i, item)
				}
				ps.Overlays = append(ps.Overlays, s)
			}
		case "config":
			cfg, ok := v.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("config must be a struct, got %T", v)
			}
			ps.Config = cfg
		default:
			return nil, fmt.Errorf("unknown package set field %q", key)
		}
	}
	return ps, nil
}
