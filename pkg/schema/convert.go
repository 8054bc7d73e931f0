package schema

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// FromGo converts a plain Go value, as produced by decoding CUE or JSON into
// interface{}, to a cty value. Maps become objects, slices become tuples,
// and nil becomes a typeless null.
func FromGo(v interface{}) (cty.Value, error) {
	switch t := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case cty.Value:
		return t, nil
	case string:
		return cty.StringVal(t), nil
	case bool:
		return cty.BoolVal(t), nil
	case int:
		return cty.NumberIntVal(int64(t)), nil
	case int64:
		return cty.NumberIntVal(t), nil
	case uint64:
		return cty.NumberUIntVal(t), nil
	case float64:
		return cty.NumberFloatVal(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return cty.NumberIntVal(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return cty.NilVal, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return cty.NumberFloatVal(f), nil
	case []interface{}:
		if len(t) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, len(t))
		for i, e := range t {
			ev, err := FromGo(e)
			if err != nil {
				return cty.NilVal, fmt.Errorf("index %d: %w", i, err)
			}
			elems[i] = ev
		}
		return cty.TupleVal(elems), nil
	case map[string]interface{}:
		if len(t) == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, len(t))
		for k, e := range t {
			ev, err := FromGo(e)
			if err != nil {
				return cty.NilVal, fmt.Errorf("key %q: %w", k, err)
			}
			attrs[k] = ev
		}
		return cty.ObjectVal(attrs), nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported value of type %T", v)
	}
}

// ToGo converts a cty value back to a plain Go value suitable for JSON
// serialization. Integral numbers come back as int64, everything else as
// float64.
func ToGo(v cty.Value) (interface{}, error) {
	if v == cty.NilVal || v.IsNull() {
		return nil, nil
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if i, acc := bf.Int64(); acc == big.Exact {
			return i, nil
		}
		f, _ := bf.Float64()
		return f, nil
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		out := make([]interface{}, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			gv, err := ToGo(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, gv)
		}
		return out, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]interface{}, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			kv, ev := it.Element()
			gv, err := ToGo(ev)
			if err != nil {
				return nil, err
			}
			out[kv.AsString()] = gv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported cty type %s", ty.FriendlyName())
	}
}

// ToGoMap converts a merged path->value configuration to nested Go maps,
// expanding dotted paths into nested objects. The result is JSON-compatible
// and deterministic under encoding/json (map keys serialize sorted).
func ToGoMap(merged map[string]cty.Value) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	for path, val := range merged {
		gv, err := ToGo(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		insertPath(out, path, gv)
	}
	return out, nil
}

// insertPath writes value at the dotted path, creating intermediate maps.
func insertPath(m map[string]interface{}, path string, value interface{}) {
	cur := m
	for {
		i := strings.Index(path, ".")
		if i < 0 {
			cur[path] = value
			return
		}
		head, rest := path[:i], path[i+1:]
		next, ok := cur[head].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[head] = next
		}
		cur = next
		path = rest
	}
}
