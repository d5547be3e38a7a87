package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/matchbook/internal/domain"
)

// EscrowStore is the in-memory reference implementation of
// domain.EscrowStore, backing dev mode and the service test suites.
type EscrowStore struct {
	mu      sync.RWMutex
	records map[string]domain.EscrowRecord
}

var _ domain.EscrowStore = (*EscrowStore)(nil)

// NewEscrowStore creates an empty escrow store.
func NewEscrowStore() *EscrowStore {
	return &EscrowStore{records: make(map[string]domain.EscrowRecord)}
}

// Insert adds a fresh record; ErrAlreadyExists when the key is taken.
func (s *EscrowStore) Insert(_ context.Context, rec domain.EscrowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.MatchID]; ok {
		return domain.ErrAlreadyExists
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.records[rec.MatchID] = rec
	return nil
}

// Get returns the record; ErrNotFound when absent.
func (s *EscrowStore) Get(_ context.Context, matchID string) (domain.EscrowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[matchID]
	if !ok {
		return domain.EscrowRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// Update overwrites an existing record; ErrNotFound when absent.
func (s *EscrowStore) Update(_ context.Context, rec domain.EscrowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.MatchID]; !ok {
		return domain.ErrNotFound
	}
	rec.UpdatedAt = time.Now().UTC()
	s.records[rec.MatchID] = rec
	return nil
}

// Delete removes the record, freeing the key; ErrNotFound when absent.
func (s *EscrowStore) Delete(_ context.Context, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[matchID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.records, matchID)
	return nil
}
