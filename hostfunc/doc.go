// Package hostfunc provides host functions that scripts call through a
// plugin extension module.
//
// Host functions are plain Go functions taking a map of named arguments.
// A [Registry] collects them and [Registry.Extension] turns the whole set
// into one extension module. Arguments arrive as plain Go values (ints as
// int64, floats as float64, lists as []any, dicts as map[string]any), and
// results are converted back by [FromGo].
//
// # Registry
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("tool_offset", func(ctx context.Context, args map[string]any) (any, error) {
//	    return offsets[args["tool"].(int64)], nil
//	}, "tool")
//	bridge.RegisterExtension("host", registry.Extension(ctx))
//
// # Built-in Capabilities
//
// Key-value storage via [KV], backed by a [MemoryStore] or a [SQLiteStore].
// Entries live outside the interpreter, so they survive module reloads.
//
//	store, _ := hostfunc.NewSQLiteStore("state.db")
//	hostfunc.NewKV(hostfunc.KVConfig{Store: store}).Register(registry)
//
// Filesystem access through explicit mounts via [FS] and [Mount].
//
//	fs := hostfunc.NewFS([]hostfunc.Mount{
//	    {VirtualPath: "/data", HostPath: "./input", Mode: hostfunc.MountReadOnly},
//	})
//	fs.Register(registry)
//
// Outbound HTTP limited to allowed hosts via [HTTP] and [HTTPConfig].
//
//	hostfunc.NewHTTP(hostfunc.HTTPConfig{AllowedHosts: []string{"api.example.com"}}).Register(registry)
//
// # Security Model
//
// Nothing is reachable unless registered. HTTP is limited to allowed hosts,
// file access to mounted paths with per-mount permissions, and every
// capability has size limits.
package hostfunc
