// Package plugin embeds a Starlark interpreter in a host process and exposes
// a small call surface over a single script module.
//
// # Overview
//
// The [Bridge] is a process-wide singleton. It runs one entry module in a
// root namespace that persists for the life of the process, reloads the
// module when its modification time moves forward, and converts every
// interpreter failure into an [*Error] carrying a formatted
// [ScriptException].
//
// # Basic Usage
//
//	b := plugin.Instance(plugin.WithLogger(logger))
//	if err := b.Setup("/etc/machine/scripts", "remap", true); err != nil {
//	    log.Fatal(err)
//	}
//	ext, _ := plugin.StandardExtension("json")
//	b.RegisterExtension("json", ext)
//	if err := b.Initialize(false); err != nil {
//	    log.Fatal(b.LastException())
//	}
//
//	v, err := b.Call("", "on_tool_change", starlark.Tuple{starlark.MakeInt(3)}, nil)
//	if plugin.StatusOf(err) == plugin.StatusException {
//	    log.Print(b.LastException())
//	}
//
// # Lifecycle
//
// The host calls Setup, then RegisterExtension any number of times, then
// Initialize(false) exactly once. Afterwards EvaluateString, Call and
// IsCallable may be used freely; with reload-on-change enabled each of them
// first checks the entry module on disk.
//
// # Root Namespace
//
// EvaluateString and Call share one root namespace, but each executed chunk
// (the entry module, every reload, every EvaluateString) compiles its
// top-level names into its own globals. A function keeps reading the
// bindings of the chunk that defined it:
//
//	limit = 10
//	def get_limit():
//	    return limit
//
// After EvaluateString("limit = 99") the root namespace holds 99 but
// get_limit() still returns 10. A function body also cannot name a global
// that no chunk has bound yet; that is a resolve error.
//
// Pass changing values as arguments, or keep mutable state in a shared
// container and mutate it in place:
//
//	settings = {"limit": 10}
//	def get_limit():
//	    return settings["limit"]
//
// EvaluateString(`settings["limit"] = 99`) is then seen by get_limit.
// Functions defined by a later chunk look earlier names up in the root
// namespace at call time, so they do see rebindings.
//
// # Concurrency
//
// The bridge does no locking. Hosts that call it from more than one
// goroutine must serialize access themselves.
package plugin
