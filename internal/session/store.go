package session

import (
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultTTL is the inactivity timeout after which a session is dropped.
const DefaultTTL = 30 * time.Minute

// Store keeps live sessions in memory. Entries expire after ttl without a
// write. Lock serializes turns for one key.
type Store struct {
	cache *cache.Cache

	lockMu sync.Mutex
	locks  map[Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates a store whose sessions expire after ttl of inactivity.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cleanup := ttl / 2
	if cleanup > 10*time.Minute {
		cleanup = 10 * time.Minute
	}
	return &Store{
		cache: cache.New(ttl, cleanup),
		locks: make(map[Key]*keyLock),
	}
}

// Lock acquires exclusive access to key and returns the release func. The
// per-key mutex is dropped once nobody holds or waits for it.
func (s *Store) Lock(key Key) func() {
	s.lockMu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.lockMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.lockMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.lockMu.Unlock()
	}
}

// Get returns a copy of the live session for key. Callers must hold the
// key's lock to write it back.
func (s *Store) Get(key Key) (Session, bool) {
	v, ok := s.cache.Get(key.String())
	if !ok {
		return Session{}, false
	}
	return v.(Session), true
}

// Put stores sess and restarts its inactivity timer.
func (s *Store) Put(sess Session) {
	s.cache.Set(sess.Key.String(), sess, cache.DefaultExpiration)
}

func (s *Store) Delete(key Key) {
	s.cache.Delete(key.String())
}

// List returns a snapshot of all live sessions ordered by key.
func (s *Store) List() []Session {
	items := s.cache.Items()
	out := make([]Session, 0, len(items))
	for _, it := range items {
		if sess, ok := it.Object.(Session); ok {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return s.cache.ItemCount()
}
