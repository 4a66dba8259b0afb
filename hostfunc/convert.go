package hostfunc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"sort"
	"strings"

	"go.starlark.net/starlark"
)

// maxDepth bounds nesting, which also stops self-referencing lists.
const maxDepth = 64

var errTooDeep = errors.New("value nested too deeply")

// ToGo converts a Starlark value to a plain Go value. Ints become int64,
// or *big.Int when they do not fit; floats stay float64. Lists, tuples and
// dicts with string keys become []any and map[string]any.
func ToGo(v starlark.Value) (any, error) {
	return toGo(v, 0)
}

func toGo(v starlark.Value, depth int) (any, error) {
	if depth > maxDepth {
		return nil, errTooDeep
	}
	switch v := v.(type) {
	case nil, starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(v), nil
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i, nil
		}
		return v.BigInt(), nil
	case starlark.Float:
		f := float64(v)
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, fmt.Errorf("cannot convert non-finite float %s", v)
		}
		return f, nil
	case starlark.String:
		return string(v), nil
	case starlark.Bytes:
		return string(v), nil
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", item[0].Type())
			}
			x, err := toGo(item[1], depth+1)
			if err != nil {
				return nil, err
			}
			out[string(key)] = x
		}
		return out, nil
	case starlark.Indexable:
		out := make([]any, v.Len())
		for i := range out {
			x, err := toGo(v.Index(i), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot convert %s to a host value", v.Type())
	}
}

// FromGo converts a Go value to a Starlark value. Integer kinds become int,
// json.Number keeps its integer or float form, and anything else is taken
// through its JSON encoding.
func FromGo(x any) (starlark.Value, error) {
	return fromGo(x, 0)
}

func fromGo(x any, depth int) (starlark.Value, error) {
	if depth > maxDepth {
		return nil, errTooDeep
	}
	switch x := x.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return x, nil
	case bool:
		return starlark.Bool(x), nil
	case string:
		return starlark.String(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int32:
		return starlark.MakeInt64(int64(x)), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case uint:
		return starlark.MakeUint(x), nil
	case uint64:
		return starlark.MakeUint64(x), nil
	case *big.Int:
		return starlark.MakeBigInt(x), nil
	case float32:
		return starlark.Float(x), nil
	case float64:
		return starlark.Float(x), nil
	case json.Number:
		return fromNumber(x)
	case []any:
		elems := make([]starlark.Value, len(x))
		for i, e := range x {
			v, err := fromGo(e, depth+1)
			if err != nil {
				return nil, err
			}
			elems[i] = v
		}
		return starlark.NewList(elems), nil
	case []string:
		elems := make([]starlark.Value, len(x))
		for i, e := range x {
			elems[i] = starlark.String(e)
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		d := starlark.NewDict(len(x))
		for _, k := range sortedKeys(x) {
			v, err := fromGo(x[k], depth+1)
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), v); err != nil {
				return nil, err
			}
		}
		return d, nil
	case map[string]string:
		d := starlark.NewDict(len(x))
		for _, k := range sortedKeys(x) {
			if err := d.SetKey(starlark.String(k), starlark.String(x[k])); err != nil {
				return nil, err
			}
		}
		return d, nil
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("result not serializable: %w", err)
		}
		var generic any
		if err := DecodeJSON(bytes.NewReader(data), &generic); err != nil {
			return nil, err
		}
		return fromGo(generic, depth+1)
	}
}

func fromNumber(n json.Number) (starlark.Value, error) {
	s := n.String()
	if strings.ContainsAny(s, ".eE") {
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", s, err)
		}
		return starlark.Float(f), nil
	}
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return starlark.MakeBigInt(i), nil
}

// DecodeJSON reads exactly one JSON document into v. Numbers decode as
// json.Number so integers keep their precision.
func DecodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
