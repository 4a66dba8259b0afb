package plugin

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// EvaluateString runs code in the root namespace. A chunk consisting of a
// single expression yields its value; anything else is executed for effect
// and yields None. Bindings persist across calls.
//
// Evaluation is allowed while the module is Failed, so the namespace left by
// a broken load can still be inspected and patched.
func (b *Bridge) EvaluateString(code string) (v starlark.Value, err error) {
	const op = "run_string"
	start := time.Now()

	_, span := b.tracer.Start(context.Background(), "plugin.EvaluateString",
		trace.WithAttributes(attribute.String("goplug.module", b.moduleName)),
	)
	defer func() {
		b.finish(span, op, err, start)
	}()

	if err := b.checkReload(); err != nil {
		return nil, err
	}
	if b.globals == nil {
		return nil, b.fail(op, ErrNotReady, nil, "run_string(%s): interpreter not initialized", code)
	}

	v, execErr := b.exec(code)
	if execErr != nil {
		return nil, b.raise(op, ErrScript, execErr, "run_string(%s): \n", code)
	}
	return v, nil
}

func (b *Bridge) exec(code string) (v starlark.Value, err error) {
	defer recoverPanic(&err)

	b.rearm()
	f, err := b.fileOptions().Parse("<string>", code, 0)
	if err != nil {
		return nil, err
	}
	if expr := soleExpr(f); expr != nil {
		return starlark.EvalExprOptions(b.fileOptions(), b.thread, expr, b.globals)
	}
	if err := starlark.ExecREPLChunk(f, b.thread, b.globals); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func soleExpr(f *syntax.File) syntax.Expr {
	if len(f.Stmts) == 1 {
		if stmt, ok := f.Stmts[0].(*syntax.ExprStmt); ok {
			return stmt.X
		}
	}
	return nil
}

// Call invokes function with the given arguments. An empty module looks the
// function up in the root namespace; otherwise module names a value in the
// root namespace (an extension module or a struct) whose member is called.
func (b *Bridge) Call(module, function string, args starlark.Tuple, kwargs []starlark.Tuple) (v starlark.Value, err error) {
	const op = "call"
	start := time.Now()

	_, span := b.tracer.Start(context.Background(), "plugin.Call",
		trace.WithAttributes(
			attribute.String("goplug.module", b.moduleName),
			attribute.String("goplug.target", qualified(module, function)),
		),
	)
	defer func() {
		b.finish(span, op, err, start)
	}()

	if err := b.checkReload(); err != nil {
		return nil, err
	}
	if b.state != StateReady || function == "" {
		return nil, b.fail(op, ErrNotReady, nil, "call(%s): module %s not ready", qualified(module, function), b.state)
	}

	fn, lookupErr := b.resolve(module, function)
	if lookupErr != nil {
		return nil, b.raise(op, ErrScript, lookupErr, "call(%s): \n", qualified(module, function))
	}
	if _, ok := fn.(starlark.Callable); !ok {
		exc := &ScriptException{
			Kind:    KindTypeError,
			Message: fmt.Sprintf("'%s' object is not callable", fn.Type()),
		}
		return nil, b.raise(op, ErrNotCallable, exc, "call(%s): \n", qualified(module, function))
	}

	v, callErr := b.invoke(fn, args, kwargs)
	if callErr != nil {
		return nil, b.raise(op, ErrScript, callErr, "call(%s): \n", qualified(module, function))
	}
	return v, nil
}

func (b *Bridge) invoke(fn starlark.Value, args starlark.Tuple, kwargs []starlark.Tuple) (v starlark.Value, err error) {
	defer recoverPanic(&err)

	b.rearm()
	return starlark.Call(b.thread, fn, args, kwargs)
}

// IsCallable reports whether function resolves to something invocable.
// A missing name is simply false. Any other lookup failure is recorded in
// LastException and logged, and also reported as false.
func (b *Bridge) IsCallable(module, function string) bool {
	start := time.Now()
	defer func() {
		b.metrics.observe("is_callable", StatusOK, time.Since(start))
	}()

	_ = b.checkReload()

	if b.state != StateReady || function == "" {
		return false
	}

	result := false
	v, err := b.resolve(module, function)
	if err != nil {
		if !isNotFound(err) {
			b.lastException = FormatException(err).String()
			b.logger.Warn("is_callable: unexpected exception",
				"target", qualified(module, function),
				"exception", b.lastException,
			)
		}
	} else {
		_, result = v.(starlark.Callable)
	}

	if b.cfg.verbose {
		verdict := "FALSE"
		if result {
			verdict = "TRUE"
		}
		b.logger.Debug(fmt.Sprintf("is_callable(%s) = %s", qualified(module, function), verdict))
	}
	return result
}

// resolve looks a name up in the root namespace or in the namespace of the
// value bound to module.
func (b *Bridge) resolve(module, name string) (v starlark.Value, err error) {
	defer recoverPanic(&err)

	if module == "" {
		v, ok := b.globals[name]
		if !ok {
			return nil, &ScriptException{Kind: KindKeyError, Message: fmt.Sprintf("'%s'", name)}
		}
		return v, nil
	}

	sub, ok := b.globals[module]
	if !ok {
		return nil, &ScriptException{Kind: KindKeyError, Message: fmt.Sprintf("'%s'", module)}
	}

	switch ns := sub.(type) {
	case *starlarkstruct.Module:
		v, ok := ns.Members[name]
		if !ok {
			return nil, &ScriptException{Kind: KindKeyError, Message: fmt.Sprintf("'%s.%s'", module, name)}
		}
		return v, nil
	case starlark.HasAttrs:
		v, err := ns.Attr(name)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, &ScriptException{Kind: KindKeyError, Message: fmt.Sprintf("'%s.%s'", module, name)}
		}
		return v, nil
	default:
		return nil, &ScriptException{
			Kind:    KindTypeError,
			Message: fmt.Sprintf("'%s' (%s) has no namespace", module, sub.Type()),
		}
	}
}

func qualified(module, function string) string {
	if module == "" {
		return function
	}
	return module + "." + function
}
