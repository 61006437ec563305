package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutGetDelete(t *testing.T) {
	s := NewStore(time.Minute)
	key := Key{User: "u1", Scope: "g1"}

	_, ok := s.Get(key)
	assert.False(t, ok)

	s.Put(Session{ID: "a", Key: key, State: Started})
	got, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)

	// copies are independent of the stored value
	got.State = AwaitingBody
	again, _ := s.Get(key)
	assert.Equal(t, Started, again.State)

	s.Delete(key)
	_, ok = s.Get(key)
	assert.False(t, ok)
}

func TestStore_Expiry(t *testing.T) {
	s := NewStore(30 * time.Millisecond)
	key := Key{User: "u1"}
	s.Put(Session{ID: "a", Key: key})

	assert.Eventually(t, func() bool {
		_, ok := s.Get(key)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestStore_List(t *testing.T) {
	s := NewStore(time.Minute)
	s.Put(Session{ID: "b", Key: Key{User: "u2", Scope: "g"}})
	s.Put(Session{ID: "a", Key: Key{User: "u1", Scope: "g"}})

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, 2, s.Len())
}

func TestStore_LockSerializesKey(t *testing.T) {
	s := NewStore(time.Minute)
	key := Key{User: "u1"}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock(key)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	s.lockMu.Lock()
	assert.Empty(t, s.locks)
	s.lockMu.Unlock()
}

func TestStore_LockIndependentKeys(t *testing.T) {
	s := NewStore(time.Minute)
	unlockA := s.Lock(Key{User: "a"})
	defer unlockA()

	done := make(chan struct{})
	go func() {
		s.Lock(Key{User: "b"})()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}
