package server

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"oidcrp/profile"
)

// Session is a logged-in local session. Profile holds the encoded profile.
type Session struct {
	ID        string
	SID       string
	Profile   []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// InMemoryStore keeps local sessions and indexes them by provider session id.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	bySID    map[string]map[string]struct{}
	now      func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]Session),
		bySID:    make(map[string]map[string]struct{}),
		now:      time.Now,
	}
}

// NewID generates a random identifier.
func (s *InMemoryStore) NewID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString([]byte(s.now().String()))
	}
	return hex.EncodeToString(buf)
}

// SaveSession stores or replaces a session and indexes it under its SID.
func (s *InMemoryStore) SaveSession(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.sessions[sess.ID]; ok && old.SID != sess.SID {
		s.unindex(old)
	}
	s.sessions[sess.ID] = sess
	if sess.SID != "" {
		ids, ok := s.bySID[sess.SID]
		if !ok {
			ids = make(map[string]struct{})
			s.bySID[sess.SID] = ids
		}
		ids[sess.ID] = struct{}{}
	}
}

// SaveProfile encodes p and stores it as the session's profile.
func (s *InMemoryStore) SaveProfile(id, sid string, p *profile.Profile, ttl time.Duration) error {
	data, err := profile.Marshal(p)
	if err != nil {
		return err
	}
	now := s.now()
	s.SaveSession(Session{ID: id, SID: sid, Profile: data, CreatedAt: now, ExpiresAt: now.Add(ttl)})
	return nil
}

// GetSession retrieves a live session by ID. Expired sessions are dropped.
func (s *InMemoryStore) GetSession(id string) (Session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return Session{}, false
	}
	if s.now().After(sess.ExpiresAt) {
		s.DeleteSession(id)
		return Session{}, false
	}
	return sess, true
}

// LoadProfile decodes the profile of a live session.
func (s *InMemoryStore) LoadProfile(id string) (*profile.Profile, bool, error) {
	sess, ok := s.GetSession(id)
	if !ok {
		return nil, false, nil
	}
	p, err := profile.Unmarshal(sess.Profile)
	if err != nil {
		return nil, true, err
	}
	return p, true, nil
}

// DeleteSession removes a session.
func (s *InMemoryStore) DeleteSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		s.unindex(sess)
		delete(s.sessions, id)
	}
}

// DeleteBySID removes every session bound to sid and returns their IDs.
func (s *InMemoryStore) DeleteBySID(sid string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.bySID[sid]
	removed := make([]string, 0, len(ids))
	for id := range ids {
		delete(s.sessions, id)
		removed = append(removed, id)
	}
	delete(s.bySID, sid)
	return removed
}

// Count reports the number of stored sessions.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep drops expired sessions.
func (s *InMemoryStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			s.unindex(sess)
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

func (s *InMemoryStore) unindex(sess Session) {
	if sess.SID == "" {
		return
	}
	if ids, ok := s.bySID[sess.SID]; ok {
		delete(ids, sess.ID)
		if len(ids) == 0 {
			delete(s.bySID, sess.SID)
		}
	}
}
