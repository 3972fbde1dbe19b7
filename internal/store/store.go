// Package store holds the authoritative in-process record of open positions.
// Memory is the source of truth while the process runs; the position
// repository is a write-through recovery cache consulted only at boot and by
// operators. The reconciler may overwrite entries wholesale when the
// exchange disagrees.
package store

import (
	"context"
	"fmt"
	"sync"

	"cryptoMultiBot/internal/domain"
	"cryptoMultiBot/internal/ports"
)

// Config holds the dependencies for the position store.
type Config struct {
	Repo   ports.PositionRepository // Optional; nil disables persistence
	Logger ports.Logger
}

// Store is the in-memory position map with per-symbol action locks.
type Store struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position

	lockMu  sync.Mutex
	symLock map[string]*sync.Mutex

	repo   ports.PositionRepository
	logger ports.Logger
}

// NewStore creates an empty position store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for position store")
	}
	return &Store{
		positions: make(map[string]*domain.Position),
		symLock:   make(map[string]*sync.Mutex),
		repo:      cfg.Repo,
		logger:    cfg.Logger.With(map[string]interface{}{"component": "position_store"}),
	}, nil
}

// Hydrate loads all persisted open positions into memory, called once at boot
// before any runner starts.
func (s *Store) Hydrate(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	positions, err := s.repo.FindAllOpen(ctx)
	if err != nil {
		return fmt.Errorf("hydrating position store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pos := range positions {
		p := *pos
		s.positions[p.Symbol] = &p
	}
	s.logger.Info(ctx, "Position store hydrated", map[string]interface{}{"count": len(positions)})
	return nil
}

// Lock acquires the action lock for a symbol. At most one open/close/adjust
// may be in flight per symbol; locks for different symbols are independent.
func (s *Store) Lock(symbol string) {
	s.symbolLock(symbol).Lock()
}

// Unlock releases the action lock for a symbol.
func (s *Store) Unlock(symbol string) {
	s.symbolLock(symbol).Unlock()
}

func (s *Store) symbolLock(symbol string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.symLock[symbol]
	if !ok {
		l = &sync.Mutex{}
		s.symLock[symbol] = l
	}
	return l
}

// Get returns a copy of the position for a symbol, or false when flat.
func (s *Store) Get(symbol string) (*domain.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[symbol]
	if !ok {
		return nil, false
	}
	p := *pos
	return &p, true
}

// All returns copies of every tracked position.
func (s *Store) All() []*domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		p := *pos
		out = append(out, &p)
	}
	return out
}

// Count returns the number of tracked positions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// Upsert stores the position and writes it through to the repository.
// The memory update always wins: a persistence failure is returned but the
// position stays tracked, since the exchange already holds it.
func (s *Store) Upsert(ctx context.Context, pos *domain.Position) error {
	p := *pos
	s.mu.Lock()
	s.positions[p.Symbol] = &p
	s.mu.Unlock()

	if s.repo == nil {
		return nil
	}
	if pos.ID == 0 {
		id, err := s.repo.Create(ctx, pos)
		if err != nil {
			return fmt.Errorf("persisting position for %s: %w", pos.Symbol, err)
		}
		pos.ID = id
		s.mu.Lock()
		s.positions[pos.Symbol].ID = id
		s.mu.Unlock()
		return nil
	}
	if err := s.repo.Update(ctx, pos); err != nil {
		return fmt.Errorf("updating position for %s: %w", pos.Symbol, err)
	}
	return nil
}

// Remove deletes the position for a symbol from memory and the repository.
// Removing an untracked symbol is a no-op.
func (s *Store) Remove(ctx context.Context, symbol string) error {
	s.mu.Lock()
	_, existed := s.positions[symbol]
	delete(s.positions, symbol)
	s.mu.Unlock()

	if s.repo == nil || !existed {
		return nil
	}
	if err := s.repo.Remove(ctx, symbol); err != nil {
		return fmt.Errorf("removing persisted position for %s: %w", symbol, err)
	}
	return nil
}

// UpdateUnrealizedPnL refreshes the mark-to-market PnL for a symbol in
// memory only; the derived value is never persisted.
func (s *Store) UpdateUnrealizedPnL(symbol string, pnl float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[symbol]
	if !ok {
		return false
	}
	pos.UnrealizedPnL = pnl
	return true
}
