package plugin

import (
	"fmt"

	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// ExtensionFunc builds the members of a native extension module. It runs on
// every load and reload of the entry module, before the module executes.
type ExtensionFunc func(thread *starlark.Thread) (starlark.StringDict, error)

type extension struct {
	name string
	init ExtensionFunc
}

// RegisterExtension appends a native extension. The extension is bound in the
// root namespace under name and can also be loaded with load("name", ...).
//
// Extensions must be registered before the first Initialize; the table is
// frozen once the interpreter has started.
func (b *Bridge) RegisterExtension(name string, fn ExtensionFunc) error {
	const op = "register"

	if b.frozen {
		return b.fail(op, ErrRegistration, nil, "cannot extend extension table with module '%s': interpreter already started", name)
	}
	if name == "" || fn == nil {
		return b.fail(op, ErrRegistration, nil, "cannot extend extension table with module '%s': name and init function required", name)
	}
	for _, ext := range b.extensions {
		if ext.name == name {
			return b.fail(op, ErrRegistration, nil, "cannot extend extension table with module '%s': already registered", name)
		}
	}

	b.extensions = append(b.extensions, extension{name: name, init: fn})
	b.logger.Debug("extension registered", "extension", name)
	return nil
}

// Extensions returns the registered extension names in registration order.
func (b *Bridge) Extensions() []string {
	names := make([]string, len(b.extensions))
	for i, ext := range b.extensions {
		names[i] = ext.name
	}
	return names
}

// importExtensions runs every extension init and binds the resulting modules
// into the root namespace.
func (b *Bridge) importExtensions() error {
	for _, ext := range b.extensions {
		members, err := ext.init(b.thread)
		if err != nil {
			return &ScriptException{
				Kind:    KindImportError,
				Message: fmt.Sprintf("extension '%s': %v", ext.name, err),
			}
		}
		if members == nil {
			members = starlark.StringDict{}
		}
		b.globals[ext.name] = &starlarkstruct.Module{Name: ext.name, Members: members}
		b.loader.bind(ext.name, members)
	}
	return nil
}

// StandardExtension returns the init function of one of the Starlark library
// modules: "json", "math" or "time".
func StandardExtension(name string) (ExtensionFunc, error) {
	var mod *starlarkstruct.Module
	switch name {
	case "json":
		mod = starlarkjson.Module
	case "math":
		mod = starlarkmath.Module
	case "time":
		mod = starlarktime.Module
	default:
		return nil, fmt.Errorf("unknown standard extension %q (expected json, math or time)", name)
	}
	return func(*starlark.Thread) (starlark.StringDict, error) {
		return mod.Members, nil
	}, nil
}

// StandardExtensionNames lists the names accepted by StandardExtension.
func StandardExtensionNames() []string {
	return []string{"json", "math", "time"}
}
