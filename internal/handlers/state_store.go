package handlers

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// DefaultStateTTL is how long a user has to finish the consent page.
const DefaultStateTTL = 10 * time.Minute

// StateStore holds the OAuth state values issued by /authorize until the
// callback consumes them.
type StateStore struct {
	cache *cache.Cache
}

func NewStateStore(ttl time.Duration) *StateStore {
	return &StateStore{cache: cache.New(ttl, 2*ttl)}
}

// Issue returns a new random state value.
func (s *StateStore) Issue() string {
	state := uuid.NewString()
	s.cache.SetDefault(state, 1)
	return state
}

// Consume reports whether state was issued and has not expired or been used.
// A state is accepted at most once.
func (s *StateStore) Consume(state string) bool {
	if state == "" {
		return false
	}
	// DecrementInt is atomic, so of two concurrent callbacks only one sees 0.
	remaining, err := s.cache.DecrementInt(state, 1)
	if err != nil {
		return false
	}
	s.cache.Delete(state)
	return remaining == 0
}

// Pending returns the number of outstanding states.
func (s *StateStore) Pending() int {
	return s.cache.ItemCount()
}
