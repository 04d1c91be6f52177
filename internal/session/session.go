// Package session serializes ledger work per user within the process.
package session

import "sync"

type Session struct {
	processing sync.Mutex
}

type Store struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[int64]*Session)}
}

func (s *Store) Get(userID int64) *Session {
	s.mu.RLock()

	sess, ok := s.sessions[userID]
	s.mu.RUnlock()

	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok = s.sessions[userID]; ok {
		return sess
	}

	sess = &Session{}
	s.sessions[userID] = sess

	return sess
}

// Lock blocks until the user's session is free and returns its release func.
func (s *Store) Lock(userID int64) func() {
	sess := s.Get(userID)
	sess.processing.Lock()
	return sess.processing.Unlock
}
