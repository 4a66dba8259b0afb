package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

const (
	DefaultMaxFileSize   = 10 << 20 // 10MB
	DefaultMaxWriteSize  = 10 << 20 // 10MB
	DefaultMaxPathLength = 4096
)

// MountMode defines the permission level for a mount point.
type MountMode int

const (
	// MountReadOnly allows only read operations.
	MountReadOnly MountMode = iota
	// MountReadWrite allows writing to files that already exist.
	MountReadWrite
	// MountReadWriteCreate additionally allows creating files and directories.
	MountReadWriteCreate
)

// ParseMountMode accepts "ro", "rw" and "rwc".
func ParseMountMode(s string) (MountMode, error) {
	switch s {
	case "ro", "":
		return MountReadOnly, nil
	case "rw":
		return MountReadWrite, nil
	case "rwc":
		return MountReadWriteCreate, nil
	default:
		return 0, fmt.Errorf("unknown mount mode %q (expected ro, rw or rwc)", s)
	}
}

// Mount maps a virtual path seen by scripts onto a host directory.
type Mount struct {
	VirtualPath string
	HostPath    string
	Mode        MountMode
}

// ParseMount parses "virtual:host[:mode]", e.g. "/data:./input:ro".
func ParseMount(spec string) (Mount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return Mount{}, fmt.Errorf("invalid mount %q (expected virtual:host[:ro|rw|rwc])", spec)
	}
	mode := ""
	if len(parts) == 3 {
		mode = parts[2]
	}
	m, err := ParseMountMode(mode)
	if err != nil {
		return Mount{}, err
	}
	return Mount{VirtualPath: parts[0], HostPath: parts[1], Mode: m}, nil
}

type fsConfig struct {
	maxFileSize   int64
	maxWriteSize  int64
	maxPathLength int
}

// FSOption configures an FS.
type FSOption func(*fsConfig)

// WithMaxFileSize caps how many bytes fs_read returns.
func WithMaxFileSize(n int64) FSOption {
	return func(c *fsConfig) { c.maxFileSize = n }
}

// WithMaxWriteSize caps the content accepted by fs_write.
func WithMaxWriteSize(n int64) FSOption {
	return func(c *fsConfig) { c.maxWriteSize = n }
}

// WithMaxPathLength caps virtual path length.
func WithMaxPathLength(n int) FSOption {
	return func(c *fsConfig) { c.maxPathLength = n }
}

// FS gives scripts file access restricted to explicit mounts.
type FS struct {
	mounts []Mount
	cfg    fsConfig
}

// NewFS normalizes the mounts. Mounts whose host path cannot be made
// absolute are dropped.
func NewFS(mounts []Mount, opts ...FSOption) *FS {
	cfg := fsConfig{
		maxFileSize:   DefaultMaxFileSize,
		maxWriteSize:  DefaultMaxWriteSize,
		maxPathLength: DefaultMaxPathLength,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	normalized := make([]Mount, 0, len(mounts))
	for _, m := range mounts {
		hp, err := filepath.Abs(m.HostPath)
		if err != nil {
			continue
		}
		normalized = append(normalized, Mount{
			VirtualPath: "/" + strings.Trim(m.VirtualPath, "/"),
			HostPath:    hp,
			Mode:        m.Mode,
		})
	}
	return &FS{mounts: normalized, cfg: cfg}
}

// Register adds the fs_* functions to r.
func (f *FS) Register(r *Registry) {
	r.Register("fs_read", f.Read, "path")
	r.Register("fs_write", f.Write, "path", "content")
	r.Register("fs_list", f.List, "path")
	r.Register("fs_exists", f.Exists, "path")
	r.Register("fs_mkdir", f.Mkdir, "path")
	r.Register("fs_remove", f.Remove, "path")
	r.Register("fs_stat", f.Stat, "path")
}

// resolve maps a virtual path to a host path under its mount.
func (f *FS) resolve(virtualPath string) (string, *Mount, error) {
	if len(virtualPath) > f.cfg.maxPathLength {
		return "", nil, errors.New("path exceeds max length")
	}
	vp := filepath.Clean("/" + strings.TrimPrefix(virtualPath, "/"))

	for i := range f.mounts {
		m := &f.mounts[i]
		if vp != m.VirtualPath && !strings.HasPrefix(vp, m.VirtualPath+"/") && m.VirtualPath != "/" {
			continue
		}
		rel := strings.TrimPrefix(vp, m.VirtualPath)
		hostPath := filepath.Join(m.HostPath, rel)
		if hostPath != m.HostPath && !strings.HasPrefix(hostPath, m.HostPath+string(filepath.Separator)) {
			return "", nil, errors.New("permission denied: path escape attempt")
		}
		return hostPath, m, nil
	}
	return "", nil, errors.New("permission denied: path not in any mount")
}

func pathArg(args map[string]any) (string, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return "", errors.New("path required")
	}
	return path, nil
}

func (f *FS) Read(_ context.Context, args map[string]any) (any, error) {
	path, err := pathArg(args)
	if err != nil {
		return nil, err
	}
	hostPath, _, err := f.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(hostPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("file not found: " + path)
		}
		return nil, errors.New("read error: " + err.Error())
	}
	if info.Size() > f.cfg.maxFileSize {
		return nil, fmt.Errorf("file exceeds max size (%d bytes)", f.cfg.maxFileSize)
	}

	data, err := os.ReadFile(hostPath)
	if err != nil {
		return nil, errors.New("read error: " + err.Error())
	}
	return string(data), nil
}

func (f *FS) Write(_ context.Context, args map[string]any) (any, error) {
	path, err := pathArg(args)
	if err != nil {
		return nil, err
	}
	content, ok := args["content"].(string)
	if !ok {
		return nil, errors.New("content required")
	}
	if int64(len(content)) > f.cfg.maxWriteSize {
		return nil, fmt.Errorf("content exceeds max size (%d bytes)", f.cfg.maxWriteSize)
	}

	hostPath, m, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	if m.Mode == MountReadOnly {
		return nil, errors.New("permission denied: read-only mount")
	}
	if _, statErr := os.Stat(hostPath); os.IsNotExist(statErr) && m.Mode != MountReadWriteCreate {
		return nil, errors.New("permission denied: cannot create new files")
	}

	if err := os.WriteFile(hostPath, []byte(content), 0o644); err != nil {
		return nil, errors.New("write error: " + err.Error())
	}
	return "ok", nil
}

func (f *FS) List(_ context.Context, args map[string]any) (any, error) {
	path, err := pathArg(args)
	if err != nil {
		return nil, err
	}
	hostPath, _, err := f.resolve(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(hostPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("directory not found: " + path)
		}
		return nil, errors.New("list error: " + err.Error())
	}

	result := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		item := map[string]any{"name": e.Name(), "is_dir": e.IsDir()}
		if info, err := e.Info(); err == nil {
			item["size"] = info.Size()
		}
		result = append(result, item)
	}
	return result, nil
}

// Exists reports false for paths outside every mount.
func (f *FS) Exists(_ context.Context, args map[string]any) (any, error) {
	path, err := pathArg(args)
	if err != nil {
		return nil, err
	}
	hostPath, _, err := f.resolve(path)
	if err != nil {
		return false, nil
	}
	_, err = os.Stat(hostPath)
	return err == nil, nil
}

func (f *FS) Mkdir(_ context.Context, args map[string]any) (any, error) {
	path, err := pathArg(args)
	if err != nil {
		return nil, err
	}
	hostPath, m, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	if m.Mode != MountReadWriteCreate {
		return nil, errors.New("permission denied: cannot create directories")
	}
	if err := os.MkdirAll(hostPath, 0o755); err != nil {
		return nil, errors.New("mkdir error: " + err.Error())
	}
	return "ok", nil
}

func (f *FS) Remove(_ context.Context, args map[string]any) (any, error) {
	path, err := pathArg(args)
	if err != nil {
		return nil, err
	}
	hostPath, m, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	if m.Mode == MountReadOnly {
		return nil, errors.New("permission denied: read-only mount")
	}
	if hostPath == m.HostPath {
		return nil, errors.New("permission denied: cannot remove mount root")
	}

	if err := os.Remove(hostPath); err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, errors.New("file not found: " + path)
		case errors.Is(err, syscall.ENOTEMPTY), errors.Is(err, syscall.EEXIST):
			return nil, errors.New("directory not empty: " + path)
		default:
			return nil, errors.New("remove error: " + err.Error())
		}
	}
	return "ok", nil
}

func (f *FS) Stat(_ context.Context, args map[string]any) (any, error) {
	path, err := pathArg(args)
	if err != nil {
		return nil, err
	}
	hostPath, _, err := f.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(hostPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("file not found: " + path)
		}
		return nil, errors.New("stat error: " + err.Error())
	}
	return map[string]any{
		"name":     info.Name(),
		"size":     info.Size(),
		"is_dir":   info.IsDir(),
		"mod_time": info.ModTime().Unix(),
	}, nil
}
