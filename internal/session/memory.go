package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"humanproof_gateway/internal/model"
)

type memoryEntry struct {
	session   *model.ProofSession
	expiresAt time.Time
}

// MemoryStore — процессное хранилище сессий с фоновой очисткой
// просроченных записей
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	ttl     time.Duration
	logger  *zap.Logger
	stop    chan struct{}
	done    chan struct{}
}

func NewMemoryStore(ttl time.Duration, logger *zap.Logger) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		ttl:     ttl,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) janitor() {
	defer close(s.done)

	interval := s.ttl / 10
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			expired := 0
			for id, e := range s.entries {
				if now.After(e.expiresAt) {
					delete(s.entries, id)
					expired++
				}
			}
			s.mu.Unlock()
			if expired > 0 {
				s.logger.Debug("expired sessions removed", zap.Int("count", expired))
			}
		}
	}
}

func (s *MemoryStore) Put(_ context.Context, id string, sess *model.ProofSession) error {
	cp := *sess
	s.mu.Lock()
	s.entries[id] = &memoryEntry{
		session:   &cp,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.ProofSession, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, ErrNotFound
	}
	cp := *e.session
	return &cp, nil
}

func (s *MemoryStore) CompareAndSwapStatus(_ context.Context, id string, from, to model.SessionStatus, apply func(*model.ProofSession)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || time.Now().After(e.expiresAt) {
		return ErrNotFound
	}
	if e.session.Status != from {
		return ErrStatusConflict
	}

	e.session.Status = to
	now := time.Now()
	e.session.UpdatedAt = &now
	if apply != nil {
		apply(e.session)
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error {
	close(s.stop)
	<-s.done
	return nil
}
