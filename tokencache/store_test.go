package tokencache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speech-relay-backend/models"
)

// storeContract runs the behaviour every Store must share.
func storeContract(t *testing.T, s Store) {
	now := time.Unix(1_700_000_000, 0)

	_, ok, err := s.Get("missing", now)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put("a", models.TokenRecord{Token: "ta", Timestamp: now.Unix()}))
	require.NoError(t, s.Put("b", models.TokenRecord{Token: "tb", Timestamp: now.Unix() - 400}))

	rec, ok, err := s.Get("a", now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ta", rec.Token)

	// b crosses the 480s boundary first
	_, ok, err = s.Get("b", now.Add(80*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	rec, ok, err = s.Get("a", now.Add(479*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ta", rec.Token)

	removed, err := s.Expire(now.Add(480 * time.Second))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, 1)

	_, ok, err = s.Get("a", now)
	require.NoError(t, err)
	assert.False(t, ok, "expired records are gone after Expire")
}

func TestFileStoreContract(t *testing.T) {
	storeContract(t, NewFileStore(filepath.Join(t.TempDir(), "tokens.json"), ttl))
}

func TestMemoryStoreContract(t *testing.T) {
	s := NewMemoryStore(ttl)
	defer s.Close()
	storeContract(t, s)
}

func TestFileStoreSharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	now := time.Now()

	a := NewFileStore(path, ttl)
	b := NewFileStore(path, ttl)

	require.NoError(t, a.Put("k1", models.TokenRecord{Token: "one", Timestamp: now.Unix()}))
	require.NoError(t, b.Put("k2", models.TokenRecord{Token: "two", Timestamp: now.Unix()}))

	rec, ok, err := a.Get("k2", now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", rec.Token)

	rec, ok, err = b.Get("k1", now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "one", rec.Token)
}

func TestFileStoreExpireNothing(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "tokens.json"), ttl)
	removed, err := s.Expire(time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestMemoryStoreExpireCountsCacheEvictions(t *testing.T) {
	// eviction loop not started, so only Expire removes items
	s := &MemoryStore{
		cache: ttlcache.New[string, models.TokenRecord](
			ttlcache.WithTTL[string, models.TokenRecord](20 * time.Millisecond),
		),
		ttl: ttl,
	}
	now := time.Now()

	require.NoError(t, s.Put("a", models.TokenRecord{Token: "ta", Timestamp: now.Unix()}))
	require.NoError(t, s.Put("b", models.TokenRecord{Token: "tb", Timestamp: now.Unix()}))
	time.Sleep(50 * time.Millisecond)

	removed, err := s.Expire(now)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Zero(t, s.cache.Len())
}

func TestMemoryStoreExpireCountsStaleTimestamps(t *testing.T) {
	s := NewMemoryStore(ttl)
	defer s.Close()
	now := time.Now()

	require.NoError(t, s.Put("old", models.TokenRecord{Token: "t1", Timestamp: now.Unix() - 600}))
	require.NoError(t, s.Put("new", models.TokenRecord{Token: "t2", Timestamp: now.Unix()}))

	removed, err := s.Expire(now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok, err := s.Get("new", now)
	require.NoError(t, err)
	assert.True(t, ok)
}
