package wasmext

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.starlark.net/starlark"

	"github.com/caffeineduck/goplug/plugin"
)

// Extension exposes each supported export as a builtin. Integer parameters
// take Starlark ints, float parameters take ints or floats. A single result
// is returned as is, several as a tuple, none as None.
func (m *Module) Extension(ctx context.Context) plugin.ExtensionFunc {
	return func(*starlark.Thread) (starlark.StringDict, error) {
		members := make(starlark.StringDict, len(m.funcs))
		for name, def := range m.funcs {
			members[name] = m.builtin(ctx, name, def)
		}
		return members, nil
	}
}

func (m *Module) builtin(ctx context.Context, name string, def api.FunctionDefinition) *starlark.Builtin {
	params := def.ParamTypes()
	results := def.ResultTypes()

	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s.%s: keyword arguments not supported", m.name, b.Name())
		}
		if len(args) != len(params) {
			return nil, fmt.Errorf("%s.%s: got %d arguments, want %d", m.name, b.Name(), len(args), len(params))
		}

		stack := make([]uint64, len(params))
		for i, t := range params {
			v, err := encode(t, args[i])
			if err != nil {
				return nil, fmt.Errorf("%s.%s: argument %d: %w", m.name, b.Name(), i+1, err)
			}
			stack[i] = v
		}

		fn := m.inst.ExportedFunction(name)
		if fn == nil {
			return nil, fmt.Errorf("%s.%s: export missing", m.name, b.Name())
		}
		out, err := fn.Call(ctx, stack...)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", m.name, b.Name(), err)
		}

		switch len(results) {
		case 0:
			return starlark.None, nil
		case 1:
			return decode(results[0], out[0]), nil
		default:
			tuple := make(starlark.Tuple, len(results))
			for i, t := range results {
				tuple[i] = decode(t, out[i])
			}
			return tuple, nil
		}
	})
}

func encode(t api.ValueType, v starlark.Value) (uint64, error) {
	switch t {
	case api.ValueTypeI32:
		n, err := starlark.AsInt32(v)
		if err != nil {
			return 0, err
		}
		return api.EncodeI32(int32(n)), nil
	case api.ValueTypeI64:
		i, ok := v.(starlark.Int)
		if !ok {
			return 0, fmt.Errorf("got %s, want int", v.Type())
		}
		n, ok := i.Int64()
		if !ok {
			return 0, fmt.Errorf("%s out of range for i64", i)
		}
		return api.EncodeI64(n), nil
	case api.ValueTypeF32:
		f, ok := starlark.AsFloat(v)
		if !ok {
			return 0, fmt.Errorf("got %s, want float", v.Type())
		}
		return api.EncodeF32(float32(f)), nil
	case api.ValueTypeF64:
		f, ok := starlark.AsFloat(v)
		if !ok {
			return 0, fmt.Errorf("got %s, want float", v.Type())
		}
		return api.EncodeF64(f), nil
	default:
		return 0, fmt.Errorf("unsupported type %s", api.ValueTypeName(t))
	}
}

func decode(t api.ValueType, raw uint64) starlark.Value {
	switch t {
	case api.ValueTypeI32:
		return starlark.MakeInt(int(api.DecodeI32(raw)))
	case api.ValueTypeI64:
		return starlark.MakeInt64(int64(raw))
	case api.ValueTypeF32:
		return starlark.Float(api.DecodeF32(raw))
	case api.ValueTypeF64:
		return starlark.Float(api.DecodeF64(raw))
	default:
		return starlark.None
	}
}
