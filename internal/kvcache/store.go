package kvcache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/loomworks/loom/internal/logger"
	"github.com/loomworks/loom/internal/model"
)

var (
	// ErrShapeMismatch reports a live session id being reused against a
	// model with a different cache geometry.
	ErrShapeMismatch = errors.New("kvcache: entry shape does not match requested shape")

	// ErrOverCapacity reports an entry whose allocation alone would exceed
	// the store's byte budget.
	ErrOverCapacity = errors.New("kvcache: entry larger than store byte budget")
)

// Store maps session ids to cache entries under a capacity policy: at most
// MaxSessions live entries and at most MaxBytes of aggregate slab memory,
// either limit disabled when zero. Violating a limit evicts the
// least-recently-touched entries until both hold again.
type Store struct {
	mu          sync.Mutex
	entries     map[string]*Entry
	maxSessions int
	maxBytes    int64
	bytes       int64
	log         logger.Logger
}

// NewStore creates a store with the given limits. maxSessions <= 0 and
// maxBytes <= 0 each mean unlimited.
func NewStore(maxSessions int, maxBytes int64, log logger.Logger) *Store {
	if log == nil {
		log = logger.Default()
	}
	return &Store{
		entries:     make(map[string]*Entry),
		maxSessions: maxSessions,
		maxBytes:    maxBytes,
		log:         log.WithGroup("kvcache"),
	}
}

// GetOrCreate returns the entry for sessionID, creating a bounded one if
// none exists. An existing entry whose shape differs from shape is a
// mismatch error: the caller swapped models under a live session id.
func (s *Store) GetOrCreate(sessionID string, shape model.Shape, maxTokens int) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[sessionID]; ok {
		if e.shape != shape {
			return nil, fmt.Errorf("session %s: have %+v, want %+v: %w", sessionID, e.shape, shape, ErrShapeMismatch)
		}
		e.lastUsed = time.Now()
		return e, nil
	}

	if maxTokens < 1 {
		maxTokens = 1
	}
	need := int64(maxTokens) * shape.BytesPerToken()
	if s.maxBytes > 0 && need > s.maxBytes {
		return nil, fmt.Errorf("session %s: %d bytes over budget %d: %w", sessionID, need, s.maxBytes, ErrOverCapacity)
	}

	e := newEntry(sessionID, shape, maxTokens)
	s.entries[sessionID] = e
	s.bytes += e.Bytes()
	s.evictLocked()

	s.log.Debug("created cache entry",
		"session", sessionID,
		"max_tokens", maxTokens,
		"bytes", e.Bytes(),
		"sessions", len(s.entries),
		"total_bytes", s.bytes)
	return e, nil
}

// Touch updates the recency of sessionID's entry, if present.
func (s *Store) Touch(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[sessionID]; ok {
		e.lastUsed = time.Now()
	}
}

// Remove evicts sessionID's entry explicitly.
func (s *Store) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[sessionID]; ok {
		delete(s.entries, sessionID)
		s.bytes -= e.Bytes()
	}
}

// Reset discards the cached history of sessionID's entry, if present. The
// entry itself stays resident.
func (s *Store) Reset(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[sessionID]; ok {
		e.Reset()
		e.lastUsed = time.Now()
	}
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Bytes returns the aggregate slab memory of all live entries.
func (s *Store) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// evictLocked removes least-recently-touched entries until both capacity
// limits hold. Entry counts stay small, so a linear scan per eviction is
// fine.
func (s *Store) evictLocked() {
	for s.overLocked() {
		var victim *Entry
		for _, e := range s.entries {
			if victim == nil || e.lastUsed.Before(victim.lastUsed) {
				victim = e
			}
		}
		if victim == nil {
			return
		}
		delete(s.entries, victim.id)
		s.bytes -= victim.Bytes()
		s.log.Debug("evicted cache entry",
			"session", victim.id,
			"bytes", victim.Bytes(),
			"sessions", len(s.entries),
			"total_bytes", s.bytes)
	}
}

func (s *Store) overLocked() bool {
	if s.maxSessions > 0 && len(s.entries) > s.maxSessions {
		return true
	}
	if s.maxBytes > 0 && s.bytes > s.maxBytes {
		return true
	}
	return false
}
