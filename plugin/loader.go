package plugin

import (
	"fmt"
	"os"
	"path/filepath"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// loader resolves load() statements. Registered extensions win; any other
// name is a file looked up along the search path, executed once per load
// generation and cached.
type loader struct {
	searchPath []string
	opts       *syntax.FileOptions
	print      func(*starlark.Thread, string)

	extensions map[string]starlark.StringDict
	cache      map[string]*loadEntry
}

// loadEntry is nil in the cache while its file is executing.
type loadEntry struct {
	globals starlark.StringDict
	err     error
}

func newLoader(searchPath []string, opts *syntax.FileOptions, printFn func(*starlark.Thread, string)) *loader {
	return &loader{
		searchPath: searchPath,
		opts:       opts,
		print:      printFn,
		extensions: make(map[string]starlark.StringDict),
		cache:      make(map[string]*loadEntry),
	}
}

func (l *loader) bind(name string, members starlark.StringDict) {
	l.extensions[name] = members
}

// reset drops cached files so the next load re-reads them from disk.
func (l *loader) reset() {
	l.cache = make(map[string]*loadEntry)
}

func (l *loader) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	if members, ok := l.extensions[module]; ok {
		return members, nil
	}

	path, err := l.find(module)
	if err != nil {
		return nil, err
	}

	e, ok := l.cache[path]
	if ok {
		if e == nil {
			return nil, fmt.Errorf("cycle in load graph involving %s", module)
		}
		return e.globals, e.err
	}

	l.cache[path] = nil
	globals, err := l.exec(path, module)
	l.cache[path] = &loadEntry{globals: globals, err: err}
	return globals, err
}

func (l *loader) exec(path, module string) (starlark.StringDict, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	predeclared := make(starlark.StringDict, len(l.extensions))
	for name, members := range l.extensions {
		predeclared[name] = &starlarkstruct.Module{Name: name, Members: members}
	}

	thread := &starlark.Thread{
		Name:  "load " + module,
		Print: l.print,
		Load:  l.load,
	}
	return starlark.ExecFileOptions(l.opts, thread, path, src, predeclared)
}

func (l *loader) find(module string) (string, error) {
	name := module
	if filepath.Ext(name) == "" {
		name += ModuleExt
	}
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("cannot load %s: %w", module, err)
		}
		return name, nil
	}
	for _, dir := range l.searchPath {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("cannot load %s: not found in search path %v", module, l.searchPath)
}
