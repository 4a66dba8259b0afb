package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.starlark.net/starlark"
)

// Initialize starts the interpreter and executes the entry module.
//
// With reload false it performs the one cold start of the process: the
// extension table is frozen, the module directory is put on the load()
// search path and the root namespace is created. A second cold start fails
// with ErrAlreadyStarted. With reload true the entry module is executed again
// in the existing root namespace.
//
// A script failure leaves the module Failed with whatever the namespace
// holds at that point; nothing is rolled back.
func (b *Bridge) Initialize(reload bool) (err error) {
	const op = "initialize"
	start := time.Now()

	_, span := b.tracer.Start(context.Background(), "plugin.Initialize",
		trace.WithAttributes(
			attribute.String("goplug.module", b.moduleName),
			attribute.Bool("goplug.reload", reload),
		),
	)
	defer func() {
		b.finish(span, op, err, start)
	}()

	if !reload {
		if b.started {
			return b.fail(op, ErrAlreadyStarted, nil, "initialize: interpreter already started")
		}
		if b.modulePath == "" {
			return b.fail(op, ErrConfig, nil, "initialize: no module set up")
		}
		b.startRuntime()
	} else if !b.started {
		return b.fail(op, ErrNotReady, nil, "initialize: reload requested before the interpreter started")
	}

	if execErr := b.execModule(); execErr != nil {
		b.setState(StateFailed)
		return b.raise(op, ErrScript, execErr, "initialize: module '%s' init failed: \n", b.modulePath)
	}

	b.setState(StateReady)
	return nil
}

func (b *Bridge) startRuntime() {
	b.started = true
	b.frozen = true

	searchPath := append([]string{filepath.Dir(b.modulePath)}, b.cfg.searchPath...)
	b.loader = newLoader(searchPath, b.fileOptions(), b.print)
	b.thread = &starlark.Thread{
		Name:  b.programName,
		Print: b.print,
		Load:  b.loader.load,
	}
	b.live.Store(b.thread)
	b.globals = make(starlark.StringDict)

	b.logger.Info("interpreter started",
		"program", b.programName,
		"search_path", searchPath,
		"extensions", b.Extensions(),
	)
}

// execModule imports the extensions and runs the entry file with the root
// namespace acting as both globals and locals.
func (b *Bridge) execModule() (err error) {
	defer recoverPanic(&err)

	b.rearm()
	b.loader.reset()
	if err := b.importExtensions(); err != nil {
		return err
	}

	src, err := os.ReadFile(b.modulePath)
	if err != nil {
		return &ScriptException{Kind: KindIOError, Message: err.Error()}
	}

	f, err := b.fileOptions().Parse(b.modulePath, src, 0)
	if err != nil {
		return err
	}
	return starlark.ExecREPLChunk(f, b.thread, b.globals)
}

// Reload re-executes the entry module if its modification time moved past
// the recorded one. The new time is recorded before executing, so a broken
// module is not retried until it changes again.
func (b *Bridge) Reload() error {
	if b.modulePath == "" || !b.started {
		return nil
	}

	info, err := os.Stat(b.modulePath)
	if err != nil {
		b.logger.Error("reload: stat failed", "path", b.modulePath, "error", err)
		return b.fail("reload", ErrPath, err, "reload: stat(%s) returned %v", b.modulePath, err)
	}

	mtime := info.ModTime().Truncate(time.Second)
	if !mtime.After(b.modTime) {
		return nil
	}
	b.modTime = mtime

	err = b.Initialize(true)
	b.metrics.reload(err)
	if err != nil {
		b.logger.Error("reload: module failed", "module", b.moduleName, "error", err)
		return err
	}
	b.logger.Info("module reloaded", "module", b.moduleName, "mtime", mtime)
	return nil
}

// checkReload runs the reload-on-access policy.
func (b *Bridge) checkReload() error {
	if !b.reloadOnAccess {
		return nil
	}
	return b.Reload()
}

func (b *Bridge) setState(s State) {
	b.state = s
	b.metrics.setState(s)
}

func (b *Bridge) finish(span trace.Span, op string, err error, start time.Time) {
	status := StatusOf(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status.String())
	}
	span.SetAttributes(attribute.String("goplug.status", status.String()))
	span.End()
	b.metrics.observe(op, status, time.Since(start))
}

func recoverPanic(err *error) {
	if r := recover(); r != nil {
		*err = &ScriptException{Kind: KindPanic, Message: fmt.Sprint(r)}
	}
}
