package tokencache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	"speech-relay-backend/models"
)

// MemoryStore keeps records in process memory. Entries are evicted in the
// background once their TTL elapses; Get also checks the record's own
// timestamp so the validity window matches FileStore exactly.
type MemoryStore struct {
	cache *ttlcache.Cache[string, models.TokenRecord]
	ttl   time.Duration
}

// NewMemoryStore creates a store and starts its eviction loop. Call Close
// when done.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	cache := ttlcache.New[string, models.TokenRecord](
		ttlcache.WithTTL[string, models.TokenRecord](ttl),
	)
	go cache.Start()

	return &MemoryStore{cache: cache, ttl: ttl}
}

func (s *MemoryStore) Get(key string, now time.Time) (models.TokenRecord, bool, error) {
	item := s.cache.Get(key)
	if item == nil {
		return models.TokenRecord{}, false, nil
	}
	rec := item.Value()
	if rec.Expired(now, s.ttl) {
		s.cache.Delete(key)
		return models.TokenRecord{}, false, nil
	}
	return rec, true, nil
}

func (s *MemoryStore) Put(key string, rec models.TokenRecord) error {
	s.cache.Set(key, rec, ttlcache.DefaultTTL)
	return nil
}

// Expire drops records past the cache TTL or their own timestamp and
// reports how many were removed. Records already evicted by the background
// loop are not counted.
func (s *MemoryStore) Expire(now time.Time) (int, error) {
	before := s.cache.Len()
	s.cache.DeleteExpired()
	removed := before - s.cache.Len()
	if removed < 0 {
		removed = 0
	}

	for key, item := range s.cache.Items() {
		if item.Value().Expired(now, s.ttl) {
			s.cache.Delete(key)
			removed++
		}
	}
	return removed, nil
}

// Close stops the eviction loop.
func (s *MemoryStore) Close() {
	s.cache.Stop()
}
