package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInitializeReady(t *testing.T) {
	b, _ := startModule(t, "limit = 10\ndef twice(n):\n    return n * 2\n")
	if b.State() != StateReady {
		t.Fatalf("State = %s, want ready", b.State())
	}
	names := strings.Join(b.Names(), ",")
	if names != "limit,twice" {
		t.Errorf("Names = %s", names)
	}
	if v, ok := b.Lookup("limit"); !ok || mustInt(t, v) != 10 {
		t.Errorf("Lookup(limit) = %v, %v", v, ok)
	}
}

func TestInitializeWithoutSetup(t *testing.T) {
	b := newTestBridge(t)
	if err := b.Initialize(false); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if b.State() != StateUninitialized {
		t.Errorf("State = %s", b.State())
	}
}

func TestInitializeTwice(t *testing.T) {
	b, _ := startModule(t, "x = 1\n")
	err := b.Initialize(false)
	if !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if b.State() != StateReady {
		t.Errorf("State = %s, want ready", b.State())
	}
}

func TestReloadBeforeStart(t *testing.T) {
	b := newTestBridge(t)
	if err := b.Initialize(true); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestInitializeScriptFailure(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "main", "partial = 1\nfail('bad config')\nnever = 2\n")

	b := newTestBridge(t)
	if err := b.Setup(dir, "main", false); err != nil {
		t.Fatal(err)
	}
	err := b.Initialize(false)
	if StatusOf(err) != StatusException {
		t.Fatalf("status = %s, want EXCEPTION", StatusOf(err))
	}
	if b.State() != StateFailed {
		t.Errorf("State = %s, want failed", b.State())
	}
	if !strings.HasPrefix(b.LastError(), "initialize: module '"+b.ModulePath()+"' init failed: \n") {
		t.Errorf("LastError = %q", b.LastError())
	}
	if !strings.Contains(b.LastException(), "bad config") {
		t.Errorf("LastException = %q", b.LastException())
	}
	if _, ok := b.Lookup("partial"); !ok {
		t.Error("bindings made before the failure should remain")
	}
	if _, ok := b.Lookup("never"); ok {
		t.Error("bindings after the failure should not exist")
	}
}

func TestInitializeSyntaxError(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "main", "def broken(:\n")

	b := newTestBridge(t)
	if err := b.Setup(dir, "main", false); err != nil {
		t.Fatal(err)
	}
	err := b.Initialize(false)
	var perr *Error
	if !errors.As(err, &perr) || perr.Exception == nil {
		t.Fatalf("expected *Error with exception, got %v", err)
	}
	if perr.Exception.Kind != KindSyntaxError {
		t.Errorf("Kind = %q, want SyntaxError", perr.Exception.Kind)
	}
}

// =============================================================================
// RELOAD
// =============================================================================

func TestReloadOnAccess(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "main", "version = 1\ngeneration = probe.loads\n")

	b := newTestBridge(t)
	p := &probe{}
	b.RegisterExtension("probe", p.init)
	if err := b.Setup(dir, "main", true); err != nil {
		t.Fatal(err)
	}
	if err := b.Initialize(false); err != nil {
		t.Fatal(err)
	}

	// Unchanged file: no reload.
	v, err := b.EvaluateString("version")
	if err != nil {
		t.Fatal(err)
	}
	if mustInt(t, v) != 1 || p.loads != 1 {
		t.Fatalf("version=%s loads=%d, want 1/1", v, p.loads)
	}

	writeModule(t, dir, "main", "version = 2\ngeneration = probe.loads\n")
	touchAhead(t, path, 5*time.Second)

	v, err = b.EvaluateString("version")
	if err != nil {
		t.Fatal(err)
	}
	if mustInt(t, v) != 2 {
		t.Errorf("version = %s, want 2", v)
	}
	if gen, _ := b.Lookup("generation"); mustInt(t, gen) != 2 {
		t.Errorf("generation = %s, want 2", gen)
	}
	if p.loads != 2 {
		t.Errorf("loads = %d, want 2", p.loads)
	}
	if b.State() != StateReady {
		t.Errorf("State = %s", b.State())
	}
}

func TestReloadDisabled(t *testing.T) {
	b, path := startModule(t, "version = 1\n")
	writeModule(t, filepath.Dir(path), "main", "version = 2\n")
	touchAhead(t, path, 5*time.Second)

	v, err := b.EvaluateString("version")
	if err != nil {
		t.Fatal(err)
	}
	if mustInt(t, v) != 1 {
		t.Errorf("version = %s, want 1 with reload disabled", v)
	}

	// An explicit Reload still picks the change up.
	if err := b.Reload(); err != nil {
		t.Fatal(err)
	}
	if v, _ := b.Lookup("version"); mustInt(t, v) != 2 {
		t.Errorf("version = %s after Reload, want 2", v)
	}
}

func TestReloadFailureNotRetried(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "main", "version = 1\n")

	b := newTestBridge(t)
	p := &probe{}
	b.RegisterExtension("probe", p.init)
	if err := b.Setup(dir, "main", true); err != nil {
		t.Fatal(err)
	}
	if err := b.Initialize(false); err != nil {
		t.Fatal(err)
	}

	writeModule(t, dir, "main", "version = 2\nfail('half written')\n")
	touchAhead(t, path, 10*time.Second)

	_, err := b.EvaluateString("version")
	if StatusOf(err) != StatusException {
		t.Fatalf("status = %s, want EXCEPTION from the reload", StatusOf(err))
	}
	if b.State() != StateFailed {
		t.Fatalf("State = %s, want failed", b.State())
	}
	wantMtime := b.ModTime()
	if wantMtime.Before(time.Now().Truncate(time.Second)) {
		t.Errorf("ModTime %v should have advanced to the broken file's mtime", wantMtime)
	}

	// Same mtime: no second attempt, evaluation sees the partial namespace.
	v, err := b.EvaluateString("version")
	if err != nil {
		t.Fatalf("EvaluateString while failed: %v", err)
	}
	if mustInt(t, v) != 2 {
		t.Errorf("version = %s, want 2", v)
	}
	if p.loads != 2 {
		t.Errorf("loads = %d, want 2 (no retry)", p.loads)
	}

	// Call refuses while failed.
	if _, err := b.Call("", "anything", nil, nil); !errors.Is(err, ErrNotReady) {
		t.Errorf("Call while failed: expected ErrNotReady, got %v", err)
	}

	// Fixing the file recovers.
	writeModule(t, dir, "main", "version = 3\n")
	touchAhead(t, path, 20*time.Second)
	if b.IsCallable("", "version") {
		t.Error("an int is not callable")
	}
	if b.State() != StateReady {
		t.Errorf("State = %s after fix, want ready", b.State())
	}
	if v, _ := b.Lookup("version"); mustInt(t, v) != 3 {
		t.Errorf("version = %s, want 3", v)
	}
}

func TestReloadStatError(t *testing.T) {
	b, path := startModule(t, "x = 1\n")
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	err := b.Reload()
	if !errors.Is(err, ErrPath) {
		t.Fatalf("expected ErrPath, got %v", err)
	}
	if !strings.HasPrefix(b.LastError(), "reload: stat(") {
		t.Errorf("LastError = %q", b.LastError())
	}
	if b.State() != StateReady {
		t.Errorf("State = %s, a stat failure must not change state", b.State())
	}
}

func TestReloadNotStarted(t *testing.T) {
	b := newTestBridge(t)
	if err := b.Reload(); err != nil {
		t.Errorf("Reload on an idle bridge should be a no-op, got %v", err)
	}
}
