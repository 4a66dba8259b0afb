package main

import (
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/starlark"

	"github.com/caffeineduck/goplug/hostfunc"
)

// parseArgs decodes command-line arguments as JSON, keeping integers exact.
// An argument that is not valid JSON is passed as a string.
func parseArgs(raw []string) []any {
	out := make([]any, len(raw))
	for i, s := range raw {
		var v any
		if err := hostfunc.DecodeJSON(strings.NewReader(s), &v); err != nil {
			v = s
		}
		out[i] = v
	}
	return out
}

// toStarlarkArgs converts positional and keyword arguments for Bridge.Call.
// Keyword arguments are passed in sorted key order.
func toStarlarkArgs(args []any, kwargs map[string]any) (starlark.Tuple, []starlark.Tuple, error) {
	positional := make(starlark.Tuple, len(args))
	for i, a := range args {
		v, err := hostfunc.FromGo(a)
		if err != nil {
			return nil, nil, fmt.Errorf("argument %d: %w", i, err)
		}
		positional[i] = v
	}

	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var named []starlark.Tuple
	for _, k := range keys {
		v, err := hostfunc.FromGo(kwargs[k])
		if err != nil {
			return nil, nil, fmt.Errorf("argument %s: %w", k, err)
		}
		named = append(named, starlark.Tuple{starlark.String(k), v})
	}
	return positional, named, nil
}

// toJSON converts a result for JSON output. Values with no JSON form, such
// as functions, are rendered with their Starlark repr.
func toJSON(v starlark.Value) any {
	if v == nil {
		return nil
	}
	out, err := hostfunc.ToGo(v)
	if err != nil {
		return v.String()
	}
	return out
}
