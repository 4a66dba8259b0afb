// Package goplug embeds a Starlark interpreter in a Go host and lets the host
// drive a single script module: load it once, call its functions, probe
// what it defines, evaluate code in its namespace and reload it when the
// file changes.
//
// # Overview
//
// The module is executed into a root namespace that lives as long as the
// process. Native extensions registered before the first load are bound in
// that namespace and can also be loaded with load().
//
// # Basic Usage
//
//	b := plugin.Instance(plugin.WithLogger(logger))
//	b.Setup("/etc/machine/scripts", "remap", true)
//
//	registry := hostfunc.NewRegistry()
//	hostfunc.NewKV(hostfunc.DefaultKVConfig()).Register(registry)
//	b.RegisterExtension("host", registry.Extension(ctx))
//
//	if err := b.Initialize(false); err != nil {
//	    log.Print(b.LastException())
//	}
//	v, err := b.Call("", "on_tool_change", starlark.Tuple{starlark.MakeInt(3)}, nil)
//
// # Extensions
//
//	// Starlark library modules
//	fn, _ := plugin.StandardExtension("json")
//	b.RegisterExtension("json", fn)
//
//	// Functions exported by a WebAssembly module
//	rt, _ := wasmext.New(ctx)
//	mod, _ := rt.LoadFile(ctx, "fastmath", "fastmath.wasm")
//	b.RegisterExtension("fastmath", mod.Extension(ctx))
//
// See the [plugin], [hostfunc], [wasmext] and [config] packages for detailed
// API documentation, and cmd/goplug for the command-line host.
package goplug
