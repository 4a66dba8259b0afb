package hostfunc

import (
	"context"
	"fmt"

	"go.starlark.net/starlark"

	"github.com/caffeineduck/goplug/plugin"
)

// Extension exposes every function in the registry as a builtin of one
// plugin extension module. The member set is taken from the registry each
// time the module loads, so functions registered later appear on reload.
//
//	registry := hostfunc.NewRegistry()
//	hostfunc.NewKV(hostfunc.DefaultKVConfig()).Register(registry)
//	bridge.RegisterExtension("host", registry.Extension(ctx))
//
// The script then calls host.kv_set("tool", 3) or host.kv_set(key="tool", value=3).
func (r *Registry) Extension(ctx context.Context) plugin.ExtensionFunc {
	return func(*starlark.Thread) (starlark.StringDict, error) {
		names := r.List()
		members := make(starlark.StringDict, len(names))
		for _, name := range names {
			members[name] = r.builtin(ctx, name)
		}
		return members, nil
	}
}

func (r *Registry) builtin(ctx context.Context, name string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		fn, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("%s: no longer registered", name)
		}

		params := r.Params(name)
		if len(args) > len(params) {
			return nil, fmt.Errorf("%s: got %d positional arguments, want at most %d", name, len(args), len(params))
		}

		goArgs := make(map[string]any, len(args)+len(kwargs))
		for i, v := range args {
			x, err := ToGo(v)
			if err != nil {
				return nil, fmt.Errorf("%s: argument %s: %w", name, params[i], err)
			}
			goArgs[params[i]] = x
		}
		for _, kv := range kwargs {
			// The interpreter only passes string keyword names.
			key := string(kv[0].(starlark.String))
			if _, dup := goArgs[key]; dup {
				return nil, fmt.Errorf("%s: got multiple values for argument %s", name, key)
			}
			x, err := ToGo(kv[1])
			if err != nil {
				return nil, fmt.Errorf("%s: argument %s: %w", name, key, err)
			}
			goArgs[key] = x
		}

		result, err := fn(ctx, goArgs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return FromGo(result)
	})
}
