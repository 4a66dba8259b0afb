package plugin

import (
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Status is the result taxonomy reported to the host.
type Status int

const (
	// StatusOK means the operation succeeded.
	StatusOK Status = iota
	// StatusException means the script raised; both LastException and LastError are set.
	StatusException
	// StatusError means an operational failure; only LastError is set.
	StatusError
	// StatusNotCallable means the resolved name exists but cannot be invoked.
	StatusNotCallable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusException:
		return "EXCEPTION"
	case StatusError:
		return "ERROR"
	case StatusNotCallable:
		return "NOTCALLABLE"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Error kinds. Every *Error wraps exactly one of these, so callers can use errors.Is.
var (
	ErrConfig         = errors.New("configuration error")
	ErrPath           = errors.New("path error")
	ErrRegistration   = errors.New("registration error")
	ErrNotReady       = errors.New("module not ready")
	ErrAlreadyStarted = errors.New("interpreter already started")
	ErrNotCallable    = errors.New("not callable")
	ErrScript         = errors.New("script exception")
)

// Error is returned by every failing Bridge operation.
type Error struct {
	// Op is the bridge operation that failed (e.g. "setup", "call").
	Op string

	// Kind is one of the Err* sentinels.
	Kind error

	// Msg is the operational message, the same text stored in LastError.
	Msg string

	// Exception is the formatted script exception, nil for operational failures.
	Exception *ScriptException

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Op + ": " + e.Kind.Error()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Status maps the error onto the host status taxonomy.
func (e *Error) Status() Status {
	switch {
	case errors.Is(e.Kind, ErrNotCallable):
		return StatusNotCallable
	case e.Exception != nil:
		return StatusException
	default:
		return StatusError
	}
}

// StatusOf returns the status code for an error returned by the bridge.
// A nil error is StatusOK; errors not produced by the bridge are StatusError.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Status()
	}
	return StatusError
}

// Exception kinds produced by the bridge itself rather than the interpreter.
const (
	KindKeyError    = "KeyError"
	KindTypeError   = "TypeError"
	KindImportError = "ImportError"
	KindIOError     = "IOError"
	KindSyntaxError = "SyntaxError"
	KindResolve     = "ResolveError"
	KindEvalError   = "EvalError"
	KindPanic       = "Panic"
)

// ScriptException is an interpreter-side failure translated for the host.
type ScriptException struct {
	// Kind is the exception class, e.g. "EvalError" or "SyntaxError".
	Kind string `json:"kind"`

	// Message is the exception message.
	Message string `json:"message"`

	// Traceback is the Starlark backtrace, empty when the failure has no call stack.
	Traceback string `json:"traceback,omitempty"`
}

// String renders the full traceback when there is one, else "Kind: Message".
func (e *ScriptException) String() string {
	if e.Traceback != "" {
		return e.Traceback
	}
	return e.Kind + ": " + e.Message
}

// Error lets a ScriptException travel as an error through the interpreter.
func (e *ScriptException) Error() string {
	return e.String()
}

// FormatException translates an error raised while driving the interpreter
// into a ScriptException. It never returns nil for a non-nil error.
func FormatException(err error) *ScriptException {
	if err == nil {
		return nil
	}

	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		kind := KindEvalError
		if cause := errors.Unwrap(evalErr); cause != nil {
			var inner *ScriptException
			if errors.As(cause, &inner) {
				kind = inner.Kind
			}
		}
		return &ScriptException{
			Kind:      kind,
			Message:   evalErr.Msg,
			Traceback: evalErr.Backtrace(),
		}
	}

	var exc *ScriptException
	if errors.As(err, &exc) {
		return exc
	}

	var syntaxErr syntax.Error
	if errors.As(err, &syntaxErr) {
		return &ScriptException{
			Kind:    KindSyntaxError,
			Message: fmt.Sprintf("%s: %s", syntaxErr.Pos, syntaxErr.Msg),
		}
	}

	var resolveErrs resolve.ErrorList
	if errors.As(err, &resolveErrs) {
		lines := make([]string, 0, len(resolveErrs))
		for _, e := range resolveErrs {
			lines = append(lines, fmt.Sprintf("%s: %s", e.Pos, e.Msg))
		}
		return &ScriptException{
			Kind:    KindResolve,
			Message: strings.Join(lines, "\n"),
		}
	}

	var attrErr starlark.NoSuchAttrError
	if errors.As(err, &attrErr) {
		return &ScriptException{Kind: KindKeyError, Message: string(attrErr)}
	}

	return &ScriptException{Kind: "Error", Message: err.Error()}
}

// isNotFound reports whether err is a plain "name not found" lookup failure.
func isNotFound(err error) bool {
	var attrErr starlark.NoSuchAttrError
	if errors.As(err, &attrErr) {
		return true
	}
	var exc *ScriptException
	return errors.As(err, &exc) && exc.Kind == KindKeyError
}
