package corridor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Source produces corridor documents. Fetch returns ErrNotFound for unknown keys.
type Source interface {
	Fetch(ctx context.Context, key string) (*Corridor, error)
	FetchAll(ctx context.Context) ([]*Corridor, error)
}

// Store serves corridors by key. Entries are whole immutable values, so a
// reload replaces a corridor atomically and readers never observe a geometry
// paired with another version's distance table.
type Store struct {
	src    Source
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Corridor
}

func NewStore(src Source, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{src: src, logger: logger, cache: make(map[string]*Corridor)}
}

// Get returns the corridor for key, loading it from the source on first use.
func (s *Store) Get(ctx context.Context, key string) (*Corridor, error) {
	s.mu.RLock()
	c, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return c, nil
	}
	if s.src == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	c, err := s.src.Fetch(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("load corridor %s: %w", key, err)
	}

	s.mu.Lock()
	// another caller may have loaded it meanwhile; keep the first
	if existing, ok := s.cache[key]; ok {
		c = existing
	} else {
		s.cache[key] = c
	}
	s.mu.Unlock()
	s.logger.Info("corridor loaded", zap.String("corridor", key), zap.Int("points", len(c.Geometry)), zap.Float64("length_m", c.LengthMeters))
	return c, nil
}

// Put installs c directly, replacing any cached version.
func (s *Store) Put(c *Corridor) {
	s.mu.Lock()
	s.cache[c.Key] = c
	s.mu.Unlock()
}

// Preload loads every corridor the source knows about.
func (s *Store) Preload(ctx context.Context) (int, error) {
	return s.Reload(ctx)
}

// Reload replaces the whole cache with a fresh read of the source.
func (s *Store) Reload(ctx context.Context) (int, error) {
	if s.src == nil {
		return 0, nil
	}
	all, err := s.src.FetchAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("reload corridors: %w", err)
	}
	fresh := make(map[string]*Corridor, len(all))
	for _, c := range all {
		fresh[c.Key] = c
	}
	s.mu.Lock()
	s.cache = fresh
	s.mu.Unlock()
	s.logger.Info("corridors reloaded", zap.Int("count", len(fresh)))
	return len(fresh), nil
}

// Invalidate drops key so the next Get reloads it.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
}

// Keys lists the cached corridor keys.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.cache))
	for k := range s.cache {
		keys = append(keys, k)
	}
	return keys
}
