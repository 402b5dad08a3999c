package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

const (
	DefaultGenerationTTL = 15 * time.Minute
	maxStoredGenerations = 1024
)

// GenerationStore keeps finished generations for later retrieval until they
// expire.
type GenerationStore struct {
	cache *ttlcache.Cache[string, Generation]
}

func NewGenerationStore(ttl time.Duration) *GenerationStore {
	if ttl <= 0 {
		ttl = DefaultGenerationTTL
	}
	c := ttlcache.New[string, Generation](
		ttlcache.WithTTL[string, Generation](ttl),
		ttlcache.WithCapacity[string, Generation](maxStoredGenerations),
		ttlcache.WithDisableTouchOnHit[string, Generation](),
	)
	go c.Start()
	return &GenerationStore{cache: c}
}

// Create assigns an id and creation time to g and stores it.
func (s *GenerationStore) Create(g Generation, now time.Time) Generation {
	g.ID = newGenerationID()
	g.Object = "generation"
	g.CreatedAt = now.Unix()
	s.cache.Set(g.ID, g, ttlcache.DefaultTTL)
	return g
}

func (s *GenerationStore) Get(id string) (Generation, bool) {
	item := s.cache.Get(id)
	if item == nil {
		return Generation{}, false
	}
	return item.Value(), true
}

func (s *GenerationStore) Len() int {
	return s.cache.Len()
}

// Close stops the expiration loop.
func (s *GenerationStore) Close() {
	s.cache.Stop()
}

func newGenerationID() string {
	return "gen_" + uuid.NewString()
}
