// Package wasmext turns WebAssembly modules into plugin extensions.
//
// A [Runtime] wraps a wazero runtime with WASI preview1 instantiated. Each
// loaded [Module] exposes its exported functions whose parameters and
// results are all numeric (i32, i64, f32, f64) as Starlark builtins:
//
//	rt, _ := wasmext.New(ctx, wasmext.WithDiskCache(""))
//	defer rt.Close(ctx)
//	mod, _ := rt.LoadFile(ctx, "kinematics", "kinematics.wasm")
//	bridge.RegisterExtension("kinematics", mod.Extension(ctx))
//
// Scripts then call kinematics.forward(1.5, 0.25).
package wasmext
