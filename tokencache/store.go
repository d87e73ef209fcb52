// Package tokencache issues and caches the short-lived bearer tokens the
// speech provider requires.
package tokencache

import (
	"crypto/md5"
	"encoding/hex"
	"time"

	"speech-relay-backend/models"
)

// Store persists token records by cache key.
type Store interface {
	// Get returns the record for key if one exists and has not expired at now.
	Get(key string, now time.Time) (models.TokenRecord, bool, error)
	// Put stores rec under key, replacing any previous record.
	Put(key string, rec models.TokenRecord) error
	// Expire drops every record expired at now and returns how many were removed.
	Expire(now time.Time) (int, error)
}

// CacheKey derives the store key for a subscription key and region.
func CacheKey(subscriptionKey, region string) string {
	sum := md5.Sum([]byte(subscriptionKey + region))
	return hex.EncodeToString(sum[:])
}

// purge removes expired records from tokens in place.
func purge(tokens map[string]models.TokenRecord, now time.Time, ttl time.Duration) int {
	removed := 0
	for k, rec := range tokens {
		if rec.Expired(now, ttl) {
			delete(tokens, k)
			removed++
		}
	}
	return removed
}
