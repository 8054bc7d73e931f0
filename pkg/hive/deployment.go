package hive

import (
	"fmt"
	"sort"

	"github.com/apiary/apiary/pkg/schema"
	"github.com/zclconf/go-cty/cty"
)

// KeySpec describes one piece of per-node key material. Exactly one of
// Text, KeyFile, and KeyCommand must be set; this is checked at validation
// time, not construction time, so all offending keys are reported together.
// Key material is delivered out of band and never ends up in persisted
// build output.
type KeySpec struct {
	// Text is literal key material.
	Text *string `json:"text,omitempty"`

	// KeyFile is a path to read key material from.
	KeyFile *string `json:"keyFile,omitempty"`

	// KeyCommand is a command whose output is the key material.
	KeyCommand []string `json:"keyCommand,omitempty" validate:"omitempty,min=1"`

	// DestDir is the directory the key is placed in on the node.
	DestDir string `json:"destDir" validate:"required"`

	// User owns the deployed key.
	User string `json:"user" validate:"required"`

	// Group owns the deployed key.
	Group string `json:"group" validate:"required"`

	// Permissions is the octal file mode of the deployed key.
	Permissions string `json:"permissions" validate:"required"`
}

// DeploymentOptions is the per-node deployment configuration, resolved from
// the layered merge. JSON-serializable for external tooling.
type DeploymentOptions struct {
	// TargetHost is the host to deploy to; defaults to the node name.
	TargetHost string `json:"targetHost" validate:"required"`

	// TargetPort optionally overrides the connection port.
	TargetPort *uint `json:"targetPort,omitempty"`

	// TargetUser is the user to deploy as.
	TargetUser string `json:"targetUser" validate:"required"`

	// AllowLocalDeployment permits building and activating on the local
	// machine instead of a remote target.
	AllowLocalDeployment bool `json:"allowLocalDeployment"`

	// Tags are ordered free-form labels used for node selection.
	Tags []string `json:"tags"`

	// Keys maps key names to their material specifications.
	Keys map[string]KeySpec `json:"keys,omitempty"`

	// ReplaceUnknownProfiles controls whether an unrecognized profile on
	// the target is replaced during activation.
	ReplaceUnknownProfiles bool `json:"replaceUnknownProfiles"`
}

// Option paths used in the hive schema.
const (
	optTargetHost             = "deployment.targetHost"
	optTargetPort             = "deployment.targetPort"
	optTargetUser             = "deployment.targetUser"
	optAllowLocal             = "deployment.allowLocalDeployment"
	optTags                   = "deployment.tags"
	optKeys                   = "deployment.keys"
	optReplaceUnknownProfiles = "deployment.replaceUnknownProfiles"

	optToolchain = "packages.toolchain"
	optOverlays  = "packages.overlays"
	optPkgConfig = "packages.config"
)

// OptionsSchema declares every option the resolver understands: deployment
// options, the package/toolchain channel, and an open "config" namespace
// that passes free-form node configuration through to the build system.
func OptionsSchema() *schema.Schema {
	return schema.New().
		Define(optTargetHost, schema.Field{Type: cty.String}).
		Define(optTargetPort, schema.Field{Type: cty.Number}).
		Define(optTargetUser, schema.Field{Type: cty.String, Default: cty.StringVal("root")}).
		Define(optAllowLocal, schema.Field{Type: cty.Bool, Default: cty.False}).
		Define(optTags, schema.Field{
			Type:    cty.List(cty.String),
			Merge:   schema.MergeAppend,
			Default: cty.ListValEmpty(cty.String),
		}).
		Define(optKeys, schema.Field{Type: cty.DynamicPseudoType}).
		Define(optReplaceUnknownProfiles, schema.Field{Type: cty.Bool, Default: cty.True}).
		Define(optToolchain, schema.Field{Type: cty.String}).
		Define(optOverlays, schema.Field{
			Type:    cty.List(cty.String),
			Merge:   schema.MergeAppend,
			Default: cty.ListValEmpty(cty.String),
		}).
		Define(optPkgConfig, schema.Field{Type: cty.DynamicPseudoType}).
		Open("config")
}

// flattenLayer converts a raw configuration layer into schema layer values,
// flattening nested structs into dotted paths. Recursion stops at declared
// fields, so structured values like the keys mapping stay whole.
func flattenLayer(s *schema.Schema, name string, raw ConfigLayer) (schema.Layer, error) {
	layer := schema.Layer{Name: name, Values: make(map[string]cty.Value)}
	if err := flattenInto(s, layer.Values, "", map[string]interface{}(raw)); err != nil {
		return layer, err
	}
	return layer, nil
}

func flattenInto(s *schema.Schema, out map[string]cty.Value, prefix string, raw map[string]interface{}) error {
	for key, v := range raw {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		if _, declared := s.Field(path); !declared {
			if nested, ok := v.(map[string]interface{}); ok {
				if err := flattenInto(s, out, path, nested); err != nil {
					return err
				}
				continue
			}
		}

		val, err := schema.FromGo(v)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		out[path] = val
	}
	return nil
}

// deploymentFromMerged extracts DeploymentOptions from a merged
// configuration. Shape problems in the keys mapping are reported as
// violations rather than errors so they aggregate with the rest of the
// node's validation output.
func deploymentFromMerged(node string, merged map[string]cty.Value) (*DeploymentOptions, []schema.Violation) {
	var violations []schema.Violation

	d := &DeploymentOptions{
		TargetHost:             stringAt(merged, optTargetHost, node),
		TargetUser:             stringAt(merged, optTargetUser, "root"),
		AllowLocalDeployment:   boolAt(merged, optAllowLocal, false),
		ReplaceUnknownProfiles: boolAt(merged, optReplaceUnknownProfiles, true),
		Tags:                   stringSliceAt(merged, optTags),
	}

	if v, ok := merged[optTargetPort]; ok && !v.IsNull() {
		port, acc := v.AsBigFloat().Uint64()
		if acc != 0 || port > 65535 {
			violations = append(violations, schema.Violation{
				Layer:   node,
				Path:    optTargetPort,
				Message: "must be an unsigned integer port number",
			})
		} else {
			p := uint(port)
			d.TargetPort = &p
		}
	}

	keys, keyViolations := decodeKeys(node, merged[optKeys])
	d.Keys = keys
	violations = append(violations, keyViolations...)

	return d, violations
}

// decodeKeys decodes the deployment.keys mapping.
func decodeKeys(node string, v cty.Value) (map[string]KeySpec, []schema.Violation) {
	if v == cty.NilVal || v.IsNull() {
		return nil, nil
	}

	if !v.Type().IsObjectType() && !v.Type().IsMapType() {
		return nil, []schema.Violation{{
			Layer:   node,
			Path:    optKeys,
			Message: "must be a mapping of key name to key spec",
		}}
	}

	keys := make(map[string]KeySpec)
	var violations []schema.Violation

	for it := v.ElementIterator(); it.Next(); {
		kv, ev := it.Element()
		name := kv.AsString()
		spec, vs := decodeKeySpec(node, name, ev)
		violations = append(violations, vs...)
		if len(vs) == 0 {
			keys[name] = spec
		}
	}

	return keys, violations
}

func decodeKeySpec(node, name string, v cty.Value) (KeySpec, []schema.Violation) {
	path := optKeys + "." + name
	spec := KeySpec{
		DestDir:     "/run/keys",
		User:        "root",
		Group:       "root",
		Permissions: "0600",
	}

	if v.IsNull() || !v.Type().IsObjectType() && !v.Type().IsMapType() {
		return spec, []schema.Violation{{
			Layer:   node,
			Path:    path,
			Message: "key spec must be a struct",
		}}
	}

	var violations []schema.Violation
	badField := func(field, msg string) {
		violations = append(violations, schema.Violation{
			Layer:   node,
			Path:    path + "." + field,
			Message: msg,
		})
	}

	for it := v.ElementIterator(); it.Next(); {
		fk, fv := it.Element()
		field := fk.AsString()
		switch field {
		case "text":
			if s, ok := optionalString(fv); ok {
				spec.Text = s
			} else {
				badField(field, "must be a string or null")
			}
		case "keyFile":
			if s, ok := optionalString(fv); ok {
				spec.KeyFile = s
			} else {
				badField(field, "must be a path string or null")
			}
		case "keyCommand":
			if fv.IsNull() {
				break
			}
			if !fv.CanIterateElements() {
				badField(field, "must be a list of command words")
				break
			}
			var cmd []string
			ok := true
			for _, el := range fv.AsValueSlice() {
				if el.IsNull() || el.Type() != cty.String {
					ok = false
					break
				}
				cmd = append(cmd, el.AsString())
			}
			if !ok {
				badField(field, "must be a list of command words")
				break
			}
			spec.KeyCommand = cmd
		case "destDir":
			if s, ok := requiredString(fv); ok {
				spec.DestDir = s
			} else {
				badField(field, "must be a string")
			}
		case "user":
			if s, ok := requiredString(fv); ok {
				spec.User = s
			} else {
				badField(field, "must be a string")
			}
		case "group":
			if s, ok := requiredString(fv); ok {
				spec.Group = s
			} else {
				badField(field, "must be a string")
			}
		case "permissions":
			if s, ok := requiredString(fv); ok {
				spec.Permissions = s
			} else {
				badField(field, "must be a string")
			}
		default:
			badField(field, "unknown key spec field")
		}
	}

	return spec, violations
}

// ValidateKeys checks the exactly-one-source invariant for every key of one
// node. Violations are collected, not thrown, so a single resolution pass
// reports every offending key at once.
func ValidateKeys(node string, keys map[string]KeySpec) []schema.Violation {
	names := make([]string, 0, len(keys))
	for name := range keys {
		names = append(names, name)
	}
	sort.Strings(names)

	var violations []schema.Violation
	for _, name := range names {
		spec := keys[name]
		sources := 0
		if spec.Text != nil {
			sources++
		}
		if spec.KeyFile != nil {
			sources++
		}
		if len(spec.KeyCommand) > 0 {
			sources++
		}
		if sources != 1 {
			violations = append(violations, schema.Violation{
				Layer:   node,
				Path:    optKeys + "." + name,
				Message: "exactly one of text, keyCommand, keyFile must be set",
			})
		}
	}
	return violations
}

func optionalString(v cty.Value) (*string, bool) {
	if v.IsNull() {
		return nil, true
	}
	if v.Type() != cty.String {
		return nil, false
	}
	s := v.AsString()
	return &s, true
}

func requiredString(v cty.Value) (string, bool) {
	if v.IsNull() || v.Type() != cty.String {
		return "", false
	}
	return v.AsString(), true
}

func stringAt(merged map[string]cty.Value, path, fallback string) string {
	if v, ok := merged[path]; ok && !v.IsNull() && v.Type() == cty.String {
		return v.AsString()
	}
	return fallback
}

func boolAt(merged map[string]cty.Value, path string, fallback bool) bool {
	if v, ok := merged[path]; ok && !v.IsNull() && v.Type() == cty.Bool {
		return v.True()
	}
	return fallback
}

func stringSliceAt(merged map[string]cty.Value, path string) []string {
	v, ok := merged[path]
	if !ok || v.IsNull() || !v.CanIterateElements() {
		return nil
	}
	out := make([]string, 0, v.LengthInt())
	for _, el := range v.AsValueSlice() {
		if !el.IsNull() && el.Type() == cty.String {
			out = append(out, el.AsString())
		}
	}
	return out
}
