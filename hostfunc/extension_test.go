package hostfunc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.starlark.net/starlark"

	"github.com/caffeineduck/goplug/plugin"
)

func startWithHost(t *testing.T, registry *Registry, src string) *plugin.Bridge {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main"+plugin.ModuleExt), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	b := plugin.New(plugin.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err := b.RegisterExtension("host", registry.Extension(context.Background())); err != nil {
		t.Fatal(err)
	}
	if err := b.Setup(dir, "main", false); err != nil {
		t.Fatal(err)
	}
	if err := b.Initialize(false); err != nil {
		t.Fatalf("Initialize: %v\n%s", err, b.LastException())
	}
	return b
}

func TestExtensionKVRoundTrip(t *testing.T) {
	registry := NewRegistry()
	NewKV(DefaultKVConfig()).Register(registry)

	b := startWithHost(t, registry, `
host.kv_set("tool", {"id": 3, "tags": ["drill", "hss"]})
tool = host.kv_get("tool")
fallback = host.kv_get(key = "nope", default = "none")
`)

	v, err := b.EvaluateString("tool['id'] + 1")
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "4" {
		t.Errorf("tool['id'] + 1 = %s", v)
	}

	v, err = b.EvaluateString("tool['tags'][1]")
	if err != nil {
		t.Fatal(err)
	}
	if v != starlark.String("hss") {
		t.Errorf("tags[1] = %s", v)
	}

	if v, _ := b.Lookup("fallback"); v != starlark.String("none") {
		t.Errorf("fallback = %v", v)
	}
}

func TestExtensionCustomFunc(t *testing.T) {
	registry := NewRegistry()
	registry.Register("greet", func(ctx context.Context, args map[string]any) (any, error) {
		name, _ := args["name"].(string)
		return "Hello, " + name + "!", nil
	}, "name")

	b := startWithHost(t, registry, "msg = host.greet('machine')\n")
	if v, _ := b.Lookup("msg"); v != starlark.String("Hello, machine!") {
		t.Errorf("msg = %v", v)
	}
}

func TestExtensionErrorBecomesException(t *testing.T) {
	registry := NewRegistry()
	registry.Register("explode", func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("spindle stalled")
	})

	b := startWithHost(t, registry, "def run():\n    return host.explode()\n")

	_, err := b.Call("", "run", nil, nil)
	if plugin.StatusOf(err) != plugin.StatusException {
		t.Fatalf("status = %s, want EXCEPTION", plugin.StatusOf(err))
	}
	if !strings.Contains(b.LastException(), "explode: spindle stalled") {
		t.Errorf("LastException = %q", b.LastException())
	}
}

func TestExtensionTooManyPositional(t *testing.T) {
	registry := NewRegistry()
	RegisterTime(registry)

	b := startWithHost(t, registry, "now = host.time_now()\n")
	if v, ok := b.Lookup("now"); !ok || v.Type() != "float" {
		t.Errorf("now = %v", v)
	}

	if _, err := b.EvaluateString("host.time_now(1)"); err == nil {
		t.Error("expected error for unexpected positional argument")
	}
}

func TestToGoFromGo(t *testing.T) {
	dict := starlark.NewDict(1)
	dict.SetKey(starlark.String("axes"), starlark.NewList([]starlark.Value{starlark.String("x"), starlark.MakeInt(2)}))

	x, err := ToGo(dict)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := x.(map[string]any)
	if !ok {
		t.Fatalf("ToGo = %#v", x)
	}
	axes := m["axes"].([]any)
	if axes[0] != "x" || axes[1] != int64(2) {
		t.Errorf("axes = %#v", axes)
	}

	back, err := FromGo(m)
	if err != nil {
		t.Fatal(err)
	}
	if back.String() != `{"axes": ["x", 2]}` {
		t.Errorf("FromGo = %s", back)
	}

	if v, _ := ToGo(starlark.None); v != nil {
		t.Errorf("ToGo(None) = %v", v)
	}
	if v, _ := FromGo(nil); v != starlark.None {
		t.Errorf("FromGo(nil) = %v", v)
	}
}

func TestConversionKeepsNumberTypes(t *testing.T) {
	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)

	tests := []struct {
		name string
		in   starlark.Value
		goV  any
	}{
		{"small int", starlark.MakeInt(7), int64(7)},
		{"int past float precision", starlark.MakeInt64(9007199254740993), int64(9007199254740993)},
		{"negative int", starlark.MakeInt64(-42), int64(-42)},
		{"big int", starlark.MakeBigInt(huge), huge},
		{"whole float", starlark.Float(2.0), 2.0},
		{"fraction", starlark.Float(0.125), 0.125},
		{"bool", starlark.True, true},
		{"bytes", starlark.Bytes("G0"), "G0"},
		{"tuple", starlark.Tuple{starlark.MakeInt(1), starlark.Float(1)}, []any{int64(1), 1.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, err := ToGo(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(x, tt.goV) {
				t.Fatalf("ToGo = %#v (%T), want %#v (%T)", x, x, tt.goV, tt.goV)
			}

			back, err := FromGo(x)
			if err != nil {
				t.Fatal(err)
			}
			want := tt.in
			switch v := tt.in.(type) {
			case starlark.Bytes:
				want = starlark.String(v)
			case starlark.Tuple:
				want = starlark.NewList(v)
			}
			if back.Type() != want.Type() || back.String() != want.String() {
				t.Errorf("round trip = %s %s, want %s %s", back.Type(), back, want.Type(), want)
			}
		})
	}
}

func TestFromGoJSONNumbers(t *testing.T) {
	var doc any
	if err := DecodeJSON(strings.NewReader(`{"n": 9007199254740993, "f": 2.0, "e": 1e3, "big": 18446744073709551616}`), &doc); err != nil {
		t.Fatal(err)
	}
	v, err := FromGo(doc)
	if err != nil {
		t.Fatal(err)
	}
	d := v.(*starlark.Dict)

	want := map[string]string{
		"n":   "int 9007199254740993",
		"f":   "float 2.0",
		"e":   "float 1000.0",
		"big": "int 18446744073709551616",
	}
	for key, w := range want {
		got, _, _ := d.Get(starlark.String(key))
		if s := got.Type() + " " + got.String(); s != w {
			t.Errorf("%s = %s, want %s", key, s, w)
		}
	}
}

func TestConversionErrors(t *testing.T) {
	intKeyed := starlark.NewDict(1)
	intKeyed.SetKey(starlark.MakeInt(1), starlark.None)

	cyclic := starlark.NewList(nil)
	cyclic.Append(cyclic)

	for name, v := range map[string]starlark.Value{
		"non-string key": intKeyed,
		"self reference": cyclic,
		"function":       starlark.NewBuiltin("f", nil),
		"infinity":       starlark.Float(math.Inf(1)),
	} {
		if _, err := ToGo(v); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	if err := DecodeJSON(strings.NewReader(`1 2`), new(any)); err == nil {
		t.Error("expected trailing data to be rejected")
	}
	if _, err := FromGo(make(chan int)); err == nil {
		t.Error("expected channel to be rejected")
	}
}

func TestExtensionIntegersStayExact(t *testing.T) {
	registry := NewRegistry()
	registry.Register("echo", func(_ context.Context, args map[string]any) (any, error) {
		return args["v"], nil
	}, "v")
	NewKV(DefaultKVConfig()).Register(registry)

	b := startWithHost(t, registry, `
n = host.echo(9007199254740993)
f = host.echo(2.0)
host.kv_set("count", 9007199254740993)
stored = host.kv_get("count")
`)
	for name, want := range map[string]string{
		"n":      "int 9007199254740993",
		"f":      "float 2.0",
		"stored": "int 9007199254740993",
	} {
		v, _ := b.Lookup(name)
		if got := v.Type() + " " + v.String(); got != want {
			t.Errorf("%s = %s, want %s", name, got, want)
		}
	}
}
