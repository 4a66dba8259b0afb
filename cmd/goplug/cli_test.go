package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/caffeineduck/goplug/plugin"
)

const toolsModule = `
limit = 10

def twice(n):
    return n * 2

def describe(tool, unit="mm"):
    return {"tool": tool, "unit": unit}

def boom():
    fail("tool jammed")

def greet():
    print("hello from tools")
`

func TestMain(m *testing.M) {
	// Every command gets a fresh interpreter.
	openBridge = plugin.New
	os.Exit(m.Run())
}

// resetFlags restores every flag to its default so state does not leak
// between executions of the shared command tree.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// executeCommand returns stdout only; logs and cobra's error line go to a
// separate buffer.
func executeCommand(root *cobra.Command, args ...string) (string, error) {
	resetFlags(root)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(new(bytes.Buffer))
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writeTools(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tools.star"), []byte(toolsModule), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestCLIHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedPhrases := []string{
		"goplug",
		"Starlark",
		"run",
		"eval",
		"call",
		"check",
		"repl",
		"watch",
		"serve",
		"--module",
		"--wasm",
	}

	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("help output should contain %q", phrase)
		}
	}
}

func TestCLIServeHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "serve", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{"--addr", "/eval", "/call", "/callable", "/metrics", "/health"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("serve help output should contain %q", phrase)
		}
	}
}

func TestCLIReplHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "repl", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{"--history", "Command history", "Multi-line"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("repl help output should contain %q", phrase)
		}
	}
}

func TestCLIRun(t *testing.T) {
	dir := writeTools(t)
	output, err := executeCommand(rootCmd, "--dir", dir, "-m", "tools", "run")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, output)
	}
	if !strings.Contains(output, "tools: ready") {
		t.Errorf("expected ready status, got %q", output)
	}
}

func TestCLIRunWithCall(t *testing.T) {
	dir := writeTools(t)
	output, err := executeCommand(rootCmd, "--dir", dir, "-m", "tools", "run", "--call", "twice", "21")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, output)
	}
	if strings.TrimSpace(output) != "42" {
		t.Errorf("expected 42, got %q", output)
	}
}

func TestCLIEval(t *testing.T) {
	dir := writeTools(t)
	output, err := executeCommand(rootCmd, "--dir", dir, "-m", "tools", "eval", "-c", "twice(limit)")
	if err != nil {
		t.Fatalf("eval failed: %v\n%s", err, output)
	}
	if strings.TrimSpace(output) != "20" {
		t.Errorf("expected 20, got %q", output)
	}
}

func TestCLIEvalStdin(t *testing.T) {
	dir := writeTools(t)
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetIn(strings.NewReader("limit + 1\n"))
	rootCmd.SetArgs([]string{"--dir", dir, "-m", "tools", "eval"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("eval failed: %v\n%s", err, buf.String())
	}
	if strings.TrimSpace(buf.String()) != "11" {
		t.Errorf("expected 11, got %q", buf.String())
	}
}

func TestCLIEvalWithStandardExtension(t *testing.T) {
	dir := writeTools(t)
	output, err := executeCommand(rootCmd, "--dir", dir, "-m", "tools", "--ext", "json", "eval", "-c", `json.encode(describe("drill"))`)
	if err != nil {
		t.Fatalf("eval failed: %v\n%s", err, output)
	}
	if !strings.Contains(output, `{\"tool\":\"drill\",\"unit\":\"mm\"}`) {
		t.Errorf("unexpected output %q", output)
	}
}

func TestCLICallKwargsJSON(t *testing.T) {
	dir := writeTools(t)
	output, err := executeCommand(rootCmd, "--dir", dir, "-m", "tools",
		"call", "describe", "saw", "--kwargs", `{"unit":"in"}`, "--json")
	if err != nil {
		t.Fatalf("call failed: %v\n%s", err, output)
	}
	if strings.TrimSpace(output) != `{"tool":"saw","unit":"in"}` {
		t.Errorf("unexpected output %q", output)
	}
}

func TestCLICallException(t *testing.T) {
	dir := writeTools(t)
	_, err := executeCommand(rootCmd, "--dir", dir, "-m", "tools", "call", "boom")
	if err == nil {
		t.Fatal("expected error from boom")
	}
	if plugin.StatusOf(err) != plugin.StatusException {
		t.Errorf("expected EXCEPTION, got %s", plugin.StatusOf(err))
	}
	if !strings.Contains(err.Error(), "tool jammed") {
		t.Errorf("expected exception text in error, got %q", err.Error())
	}
}

func TestCLICallPrint(t *testing.T) {
	dir := writeTools(t)
	output, err := executeCommand(rootCmd, "--dir", dir, "-m", "tools", "call", "greet")
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if !strings.Contains(output, "hello from tools") {
		t.Errorf("expected script print in output, got %q", output)
	}
}

func TestCLICheck(t *testing.T) {
	dir := writeTools(t)
	tests := []struct {
		target string
		want   string
	}{
		{"twice", "true"},
		{"limit", "false"},
		{"missing", "false"},
	}
	for _, tc := range tests {
		output, err := executeCommand(rootCmd, "--dir", dir, "-m", "tools", "check", tc.target)
		if err != nil {
			t.Fatalf("check %s failed: %v", tc.target, err)
		}
		if strings.TrimSpace(output) != tc.want {
			t.Errorf("check %s = %q, want %s", tc.target, output, tc.want)
		}
	}
}

func TestCLICheckExtensionMember(t *testing.T) {
	dir := writeTools(t)
	output, err := executeCommand(rootCmd, "--dir", dir, "-m", "tools", "--ext", "math", "check", "math.sqrt")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if strings.TrimSpace(output) != "true" {
		t.Errorf("expected math.sqrt callable, got %q", output)
	}
}

func TestCLIKVPersistsAcrossRuns(t *testing.T) {
	dir := writeTools(t)
	dbPath := filepath.Join(t.TempDir(), "kv.db")

	if _, err := executeCommand(rootCmd, "--dir", dir, "-m", "tools", "--kv-path", dbPath,
		"eval", "-c", `host.kv_set("tool", "drill")`); err != nil {
		t.Fatalf("kv_set failed: %v", err)
	}

	output, err := executeCommand(rootCmd, "--dir", dir, "-m", "tools", "--kv-path", dbPath,
		"eval", "-c", `host.kv_get("tool")`)
	if err != nil {
		t.Fatalf("kv_get failed: %v", err)
	}
	if strings.TrimSpace(output) != `"drill"` {
		t.Errorf("expected \"drill\", got %q", output)
	}
}

func TestCLIConfigFile(t *testing.T) {
	dir := writeTools(t)
	cfgPath := filepath.Join(t.TempDir(), "goplug.yaml")
	cfg := "module:\n  dir: " + dir + "\n  name: tools\nextensions:\n  standard: [math]\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	output, err := executeCommand(rootCmd, "--config", cfgPath, "eval", "-c", "math.floor(2.5)")
	if err != nil {
		t.Fatalf("eval failed: %v\n%s", err, output)
	}
	if strings.TrimSpace(output) != "2" {
		t.Errorf("expected 2, got %q", output)
	}
}

func TestCLIErrors(t *testing.T) {
	dir := writeTools(t)
	tests := []struct {
		name string
		args []string
	}{
		{"no module", []string{"run"}},
		{"missing module file", []string{"--dir", dir, "-m", "absent", "run"}},
		{"unknown extension", []string{"--dir", dir, "-m", "tools", "--ext", "yaml", "run"}},
		{"bad wasm spec", []string{"--dir", dir, "-m", "tools", "--wasm", "nopath", "run"}},
		{"bad mount", []string{"--dir", dir, "-m", "tools", "--mount", "nocolon", "run"}},
		{"call before args", []string{"--dir", dir, "-m", "tools", "call"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := executeCommand(rootCmd, tc.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSplitTarget(t *testing.T) {
	tests := []struct {
		in, module, function string
	}{
		{"twice", "", "twice"},
		{"math.sqrt", "math", "sqrt"},
		{"a.b.c", "a.b", "c"},
	}
	for _, tc := range tests {
		m, f := splitTarget(tc.in)
		if m != tc.module || f != tc.function {
			t.Errorf("splitTarget(%q) = (%q, %q), want (%q, %q)", tc.in, m, f, tc.module, tc.function)
		}
	}
}

func TestParseWASM(t *testing.T) {
	w, err := parseWASM("add=./add.wasm")
	if err != nil {
		t.Fatalf("parseWASM failed: %v", err)
	}
	if w.Name != "add" || w.Path != "./add.wasm" {
		t.Errorf("unexpected result %+v", w)
	}
	for _, bad := range []string{"add", "=x.wasm", "add="} {
		if _, err := parseWASM(bad); err == nil {
			t.Errorf("parseWASM(%q) should fail", bad)
		}
	}
}
