// Package store implements the Storage facade (C12): atomic
// read-modify-write over named, JSON-encoded collections, with an
// in-memory cache backed by one file per collection on disk. Grounded
// on the teacher's market-data store (cache-then-disk, JSON sidecar),
// generalized from OHLCV bars to arbitrary named collections.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/atlas-desktop/sector-deliberation-engine/pkg/utils"
)

// Collection names, matching spec.md §6's persistence layout.
const (
	CollectionSectors         = "sectors"
	CollectionAgents          = "agents"
	CollectionDiscussions     = "discussions"
	CollectionExecutionLogs   = "executionLogs"
	CollectionUserAccount     = "userAccount"
	CollectionSimulationRules = "simulation_rules"
)

// KeyedStore is the concrete Storage facade. Every named collection is
// guarded by the same mutex: within one process there is a single
// writer at a time, so "atomic read-modify-write" reduces to
// lock-read-mutate-write-unlock. Retries model transient disk failures,
// not concurrent-writer conflicts (there are none within a process).
type KeyedStore struct {
	mu      sync.Mutex
	logger  *zap.Logger
	dataDir string
	cache   map[string]json.RawMessage
	retry   utils.RetryConfig
}

// NewKeyedStore creates a store rooted at dataDir, creating it if
// necessary.
func NewKeyedStore(logger *zap.Logger, dataDir string) (*KeyedStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &KeyedStore{
		logger:  logger.Named("store"),
		dataDir: dataDir,
		cache:   make(map[string]json.RawMessage),
		retry:   utils.DefaultRetryConfig(),
	}, nil
}

func (s *KeyedStore) path(name string) string {
	return filepath.Join(s.dataDir, name+".json")
}

// loadLocked returns the current raw bytes for name, reading through
// to disk on a cache miss. Caller must hold s.mu.
func (s *KeyedStore) loadLocked(name string) (json.RawMessage, error) {
	if raw, ok := s.cache[name]; ok {
		return raw, nil
	}
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			raw := json.RawMessage("[]")
			s.cache[name] = raw
			return raw, nil
		}
		return nil, fmt.Errorf("read collection %s: %w", name, err)
	}
	raw := json.RawMessage(data)
	s.cache[name] = raw
	return raw, nil
}

func (s *KeyedStore) persistLocked(name string, raw json.RawMessage) error {
	_, err := utils.Retry(s.retry, func() (struct{}, error) {
		return struct{}{}, os.WriteFile(s.path(name), raw, 0o644)
	})
	if err != nil {
		return fmt.Errorf("persist collection %s: %w", name, err)
	}
	s.cache[name] = raw
	return nil
}

// ReadRaw returns the current raw JSON for a collection.
func (s *KeyedStore) ReadRaw(name string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(name)
}

// WriteRaw performs an atomic read-modify-write: fn receives the
// current raw snapshot and returns the new value to persist.
func (s *KeyedStore) WriteRaw(name string, fn func(json.RawMessage) (json.RawMessage, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.loadLocked(name)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	return s.persistLocked(name, next)
}

// ReadCollection returns the named collection decoded as T (a slice or
// map type).
func ReadCollection[T any](s *KeyedStore, name string) (T, error) {
	var out T
	raw, err := s.ReadRaw(name)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("unmarshal collection %s: %w", name, err)
	}
	return out, nil
}

// WriteCollection performs a typed atomic read-modify-write: fn
// receives the current typed snapshot and returns the value to persist.
func WriteCollection[T any](s *KeyedStore, name string, fn func(T) (T, error)) (T, error) {
	var result T
	err := s.WriteRaw(name, func(raw json.RawMessage) (json.RawMessage, error) {
		var current T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &current); err != nil {
				return nil, fmt.Errorf("unmarshal collection %s: %w", name, err)
			}
		}
		next, err := fn(current)
		if err != nil {
			return nil, err
		}
		result = next
		out, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("marshal collection %s: %w", name, err)
		}
		return out, nil
	})
	return result, err
}

// ClearCache drops the in-memory cache, forcing the next read to hit disk.
func (s *KeyedStore) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]json.RawMessage)
}
