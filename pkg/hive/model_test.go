package hive

import (
	"errors"
	"reflect"
	"testing"
)

func TestLoadConflictingMetaKeys(t *testing.T) {
	_, err := Load(map[string]interface{}{
		MetaKey:       map[string]interface{}{"name": "a"},
		LegacyMetaKey: map[string]interface{}{"name": "b"},
	})
	if !errors.Is(err, NewConflictingMetaKeys()) {
		t.Fatalf("Load() error = %v, want conflicting meta keys", err)
	}
}

func TestLoadLegacyMetaKey(t *testing.T) {
	h, err := Load(map[string]interface{}{
		LegacyMetaKey: map[string]interface{}{"name": "legacy"},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if h.Meta.Name != "legacy" {
		t.Errorf("Meta.Name = %q, want legacy", h.Meta.Name)
	}
}

func TestLoadDefaultName(t *testing.T) {
	h, err := Load(map[string]interface{}{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if h.Meta.Name != "hive" {
		t.Errorf("Meta.Name = %q, want hive", h.Meta.Name)
	}
}

func TestLoadMetaFields(t *testing.T) {
	h, err := Load(map[string]interface{}{
		MetaKey: map[string]interface{}{
			"name":         "prod",
			"description":  "production fleet",
			"machinesFile": "/etc/machines",
		},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if h.Meta.Name != "prod" {
		t.Errorf("Name = %q", h.Meta.Name)
	}
	if h.Meta.Description != "production fleet" {
		t.Errorf("Description = %q", h.Meta.Description)
	}
	if h.Meta.MachinesFile != "/etc/machines" {
		t.Errorf("MachinesFile = %q", h.Meta.MachinesFile)
	}
}

func TestLoadMalformedMeta(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]interface{}
	}{
		{
			name: "metadata not a struct",
			raw:  map[string]interface{}{MetaKey: "oops"},
		},
		{
			name: "name not a string",
			raw:  map[string]interface{}{MetaKey: map[string]interface{}{"name": 42}},
		},
		{
			name: "defaults not a struct",
			raw:  map[string]interface{}{DefaultsKey: []interface{}{"nope"}},
		},
		{
			name: "node not a struct",
			raw:  map[string]interface{}{"web": "just a string"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.raw)
			var he *Error
			if !errors.As(err, &he) {
				t.Fatalf("Load() error = %v, want *Error", err)
			}
			if he.Code != CodeMalformedMeta {
				t.Errorf("Code = %s, want %s", he.Code, CodeMalformedMeta)
			}
			if !IsStructural(err) {
				t.Error("malformed metadata should classify as structural")
			}
		})
	}
}

func TestLoadMalformedMetaReportsLegacySpelling(t *testing.T) {
	_, err := Load(map[string]interface{}{
		LegacyMetaKey: map[string]interface{}{"name": 42},
	})

	var he *Error
	if !errors.As(err, &he) {
		t.Fatalf("Load() error = %v, want *Error", err)
	}
	if he.Code != CodeMalformedMeta {
		t.Fatalf("Code = %s, want %s", he.Code, CodeMalformedMeta)
	}
	if len(he.Violations) == 0 {
		t.Fatal("expected violations")
	}
	for _, v := range he.Violations {
		if v.Layer != LegacyMetaKey {
			t.Errorf("violation layer = %q, want the spelling the input used (%q)", v.Layer, LegacyMetaKey)
		}
	}
}

func TestLoadNodeNames(t *testing.T) {
	h, err := Load(map[string]interface{}{
		MetaKey:     map[string]interface{}{"name": "prod"},
		DefaultsKey: map[string]interface{}{},
		"web":       map[string]interface{}{},
		"db":        map[string]interface{}{},
		"cache":     map[string]interface{}{},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := []string{"cache", "db", "web"}
	if got := h.NodeNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("NodeNames() = %v, want %v", got, want)
	}
}

func TestIsReservedNodeName(t *testing.T) {
	for _, name := range []string{MetaKey, LegacyMetaKey, DefaultsKey} {
		if !IsReservedNodeName(name) {
			t.Errorf("IsReservedNodeName(%q) = false, want true", name)
		}
	}
	if IsReservedNodeName("web") {
		t.Error("IsReservedNodeName(web) = true, want false")
	}
}

func TestLoadNodePackageSetOverrides(t *testing.T) {
	h, err := Load(map[string]interface{}{
		MetaKey: map[string]interface{}{
			"name":    "prod",
			"nixpkgs": "channels/stable.cue",
			"nodeNixpkgs": map[string]interface{}{
				"web": map[string]interface{}{"toolchain": "unstable"},
			},
		},
		"web": map[string]interface{}{},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if h.Meta.PackageSet.String() != "path(channels/stable.cue)" {
		t.Errorf("PackageSet = %s, want path ref", h.Meta.PackageSet)
	}
	if _, ok := h.Meta.NodePackageSets["web"]; !ok {
		t.Error("missing nodeNixpkgs override for web")
	}
}

func TestParseRef(t *testing.T) {
	ctor := ConstructorFunc(func(map[string]interface{}) (*PackageSet, error) {
		return &PackageSet{}, nil
	})

	tests := []struct {
		name    string
		value   interface{}
		want    string
		wantErr bool
	}{
		{name: "path string", value: "sets/base.cue", want: "path(sets/base.cue)"},
		{name: "constructor", value: ctor, want: "constructor"},
		{name: "literal pointer", value: &PackageSet{Toolchain: "stable"}, want: "literal"},
		{
			name:  "literal struct",
			value: map[string]interface{}{"toolchain": "stable", "overlays": []interface{}{"a"}},
			want:  "literal",
		},
		{
			name:    "unknown literal field",
			value:   map[string]interface{}{"channel": "stable"},
			wantErr: true,
		},
		{name: "unsupported type", value: 42, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseRef(tt.value, "meta.nixpkgs")
			if tt.wantErr {
				if !IsInvalidRef(err) {
					t.Fatalf("ParseRef() error = %v, want invalid ref", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRef() error = %v", err)
			}
			if ref.String() != tt.want {
				t.Errorf("ref = %s, want %s", ref, tt.want)
			}
		})
	}
}
