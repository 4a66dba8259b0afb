package hostfunc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

const (
	DefaultMaxKeySize   = 256
	DefaultMaxValueSize = 64 << 10 // 64KB
	DefaultMaxEntries   = 10000
)

// KVConfig bounds what scripts may store.
type KVConfig struct {
	MaxKeySize   int
	MaxValueSize int
	MaxEntries   int

	// Store holds the entries. Defaults to a fresh MemoryStore.
	Store Store
}

// DefaultKVConfig returns the default limits backed by memory.
func DefaultKVConfig() KVConfig {
	return KVConfig{
		MaxKeySize:   DefaultMaxKeySize,
		MaxValueSize: DefaultMaxValueSize,
		MaxEntries:   DefaultMaxEntries,
	}
}

// Store persists KV entries. Values are JSON documents.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Has(ctx context.Context, key string) (bool, error)
	Len(ctx context.Context) (int, error)
}

// KV exposes a Store to scripts as kv_get, kv_set, kv_delete and kv_keys.
// Values survive module reloads because they live outside the interpreter.
type KV struct {
	cfg   KVConfig
	store Store

	// mu makes the entry-limit check and the write atomic.
	mu sync.Mutex
}

func NewKV(cfg KVConfig) *KV {
	defaults := DefaultKVConfig()
	if cfg.MaxKeySize == 0 {
		cfg.MaxKeySize = defaults.MaxKeySize
	}
	if cfg.MaxValueSize == 0 {
		cfg.MaxValueSize = defaults.MaxValueSize
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = defaults.MaxEntries
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	return &KV{cfg: cfg, store: store}
}

// Register adds the kv_* functions to r.
func (kv *KV) Register(r *Registry) {
	r.Register("kv_get", kv.Get, "key", "default")
	r.Register("kv_set", kv.Set, "key", "value")
	r.Register("kv_delete", kv.Delete, "key")
	r.Register("kv_keys", kv.Keys)
}

func (kv *KV) Get(ctx context.Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, errors.New("key required")
	}

	raw, found, err := kv.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("kv get: %w", err)
	}
	if !found {
		return args["default"], nil
	}

	var val any
	if err := DecodeJSON(bytes.NewReader(raw), &val); err != nil {
		return nil, fmt.Errorf("kv get: corrupt value for %q: %w", key, err)
	}
	return val, nil
}

func (kv *KV) Set(ctx context.Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok || key == "" {
		return nil, errors.New("key required")
	}
	val, ok := args["value"]
	if !ok {
		return nil, errors.New("value required")
	}
	if len(key) > kv.cfg.MaxKeySize {
		return nil, fmt.Errorf("key exceeds max size (%d bytes)", kv.cfg.MaxKeySize)
	}

	raw, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("value not serializable: %w", err)
	}
	if len(raw) > kv.cfg.MaxValueSize {
		return nil, fmt.Errorf("value exceeds max size (%d bytes)", kv.cfg.MaxValueSize)
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()

	exists, err := kv.store.Has(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("kv set: %w", err)
	}
	if !exists {
		n, err := kv.store.Len(ctx)
		if err != nil {
			return nil, fmt.Errorf("kv set: %w", err)
		}
		if n >= kv.cfg.MaxEntries {
			return nil, fmt.Errorf("too many entries (max %d)", kv.cfg.MaxEntries)
		}
	}

	if err := kv.store.Set(ctx, key, raw); err != nil {
		return nil, fmt.Errorf("kv set: %w", err)
	}
	return "ok", nil
}

func (kv *KV) Delete(ctx context.Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, errors.New("key required")
	}
	if err := kv.store.Delete(ctx, key); err != nil {
		return nil, fmt.Errorf("kv delete: %w", err)
	}
	return "ok", nil
}

func (kv *KV) Keys(ctx context.Context, _ map[string]any) (any, error) {
	keys, err := kv.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	return keys, nil
}

// MemoryStore keeps entries in a map. Contents are lost on exit.
type MemoryStore struct {
	data map[string][]byte
	mu   sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	val, ok := s.data[key]
	s.mu.RUnlock()
	return val, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Has(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	_, ok := s.data[key]
	s.mu.RUnlock()
	return ok, nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data), nil
}
