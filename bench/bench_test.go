// Package bench measures the cost of crossing the host/script boundary.
//
// Benchmarks: go test -bench=. -benchmem ./bench/
package bench

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"go.starlark.net/starlark"

	"github.com/caffeineduck/goplug/hostfunc"
	"github.com/caffeineduck/goplug/internal/host"
	"github.com/caffeineduck/goplug/plugin"
)

const benchModule = `
counter = {"n": 0}

def noop():
    pass

def add(a, b):
    return a + b

def work():
    return sum([i * i for i in range(1000)])

def bump():
    counter["n"] += 1
    return counter["n"]

def store(v):
    host.kv_set("k", v)
`

func newBridge(b *testing.B, reload bool) *plugin.Bridge {
	b.Helper()
	dir := b.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bench.star"), []byte(benchModule), 0o644); err != nil {
		b.Fatal(err)
	}

	br := plugin.New(plugin.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err := br.Setup(dir, "bench", reload); err != nil {
		b.Fatal(err)
	}

	registry := hostfunc.NewRegistry()
	hostfunc.NewKV(hostfunc.DefaultKVConfig()).Register(registry)
	if err := br.RegisterExtension("host", registry.Extension(context.Background())); err != nil {
		b.Fatal(err)
	}
	if err := br.Initialize(false); err != nil {
		b.Fatal(err)
	}
	return br
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func BenchmarkColdStart(b *testing.B) {
	for i := 0; i < b.N; i++ {
		newBridge(b, false)
	}
}

// =============================================================================
// CALLS
// =============================================================================

func BenchmarkCall_Noop(b *testing.B) {
	br := newBridge(b, false)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := br.Call("", "noop", nil, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCall_Args(b *testing.B) {
	br := newBridge(b, false)
	args := starlark.Tuple{starlark.MakeInt(2), starlark.MakeInt(3)}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := br.Call("", "add", args, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCall_Computation(b *testing.B) {
	br := newBridge(b, false)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := br.Call("", "work", nil, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCall_HostFunction(b *testing.B) {
	br := newBridge(b, false)
	args := starlark.Tuple{starlark.String("v")}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := br.Call("", "store", args, nil); err != nil {
			b.Fatal(err)
		}
	}
}

// Reload-on-access adds a stat per call.
func BenchmarkCall_ReloadOnAccess(b *testing.B) {
	br := newBridge(b, true)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := br.Call("", "noop", nil, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRunner_Call(b *testing.B) {
	r := host.NewRunner(newBridge(b, false))
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.Call(ctx, "", "noop", nil, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRunner_CallParallel(b *testing.B) {
	r := host.NewRunner(newBridge(b, false))
	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := r.Call(ctx, "", "bump", nil, nil); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// =============================================================================
// EVALUATION AND PROBES
// =============================================================================

func BenchmarkEvaluateString_Expression(b *testing.B) {
	br := newBridge(b, false)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := br.EvaluateString("add(1, 2)"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEvaluateString_Statement(b *testing.B) {
	br := newBridge(b, false)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := br.EvaluateString("x = add(1, 2)"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkIsCallable(b *testing.B) {
	br := newBridge(b, false)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		br.IsCallable("host", "kv_get")
	}
}

func BenchmarkFormatException(b *testing.B) {
	br := newBridge(b, false)
	_, err := br.EvaluateString("1 // 0")
	if err == nil {
		b.Fatal("expected error")
	}
	var perr *plugin.Error
	if !errors.As(err, &perr) {
		b.Fatalf("unexpected error type %T", err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		plugin.FormatException(perr.Err)
	}
}
