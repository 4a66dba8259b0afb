package plugin

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.starlark.net/starlark"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"nil", nil, StatusOK},
		{"foreign", errors.New("disk full"), StatusError},
		{"operational", &Error{Op: "setup", Kind: ErrPath}, StatusError},
		{"exception", &Error{Op: "call", Kind: ErrScript, Exception: &ScriptException{Kind: "EvalError"}}, StatusException},
		{"not callable", &Error{Op: "call", Kind: ErrNotCallable, Exception: &ScriptException{Kind: KindTypeError}}, StatusNotCallable},
		{"wrapped", fmt.Errorf("host: %w", &Error{Op: "call", Kind: ErrNotReady}), StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusOf(tt.err); got != tt.want {
				t.Errorf("StatusOf = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("stat failed")
	err := &Error{Op: "setup", Kind: ErrPath, Msg: "setup: stat(x) returned stat failed", Err: cause}

	if !errors.Is(err, ErrPath) {
		t.Error("expected errors.Is(err, ErrPath)")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is(err, cause)")
	}
	if err.Error() != "setup: stat(x) returned stat failed" {
		t.Errorf("Error() = %q", err.Error())
	}
	if got := (&Error{Op: "call", Kind: ErrNotReady}).Error(); got != "call: module not ready" {
		t.Errorf("Error() without message = %q", got)
	}
}

func TestFormatException(t *testing.T) {
	if FormatException(nil) != nil {
		t.Error("nil error should format to nil")
	}

	exc := FormatException(errors.New("plain"))
	if exc.Kind != "Error" || exc.Message != "plain" {
		t.Errorf("plain error = %+v", exc)
	}

	exc = FormatException(starlark.NoSuchAttrError("int has no .foo field"))
	if exc.Kind != KindKeyError {
		t.Errorf("NoSuchAttrError kind = %q", exc.Kind)
	}

	thread := &starlark.Thread{Name: "test"}
	_, err := starlark.ExecFileOptions(DefaultFileOptions(), thread, "t.star", "def f():\n    return 1 // 0\nf()\n", nil)
	exc = FormatException(err)
	if exc.Kind != KindEvalError {
		t.Errorf("eval kind = %q", exc.Kind)
	}
	if !strings.Contains(exc.Traceback, "in f") || !strings.Contains(exc.String(), "division by zero") {
		t.Errorf("traceback = %q", exc.Traceback)
	}

	_, err = starlark.ExecFileOptions(DefaultFileOptions(), thread, "t.star", "x = (\n", nil)
	if exc = FormatException(err); exc.Kind != KindSyntaxError {
		t.Errorf("syntax kind = %q", exc.Kind)
	}

	_, err = starlark.ExecFileOptions(DefaultFileOptions(), thread, "t.star", "x = y\n", nil)
	if exc = FormatException(err); exc.Kind != KindResolve || !strings.Contains(exc.Message, "undefined: y") {
		t.Errorf("resolve = %+v", exc)
	}
}

func TestScriptExceptionString(t *testing.T) {
	e := &ScriptException{Kind: KindKeyError, Message: "'x'"}
	if e.String() != "KeyError: 'x'" {
		t.Errorf("String() = %q", e.String())
	}
	e.Traceback = "Traceback (most recent call last):\n  t.star:1:1: in <toplevel>\nError: boom"
	if e.String() != e.Traceback {
		t.Errorf("String() should prefer the traceback")
	}
}
