package tokencache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"speech-relay-backend/models"
)

// EventPublisher receives token events for monitor clients.
type EventPublisher interface {
	Publish(ev models.Event)
}

// Cache resolves bearer tokens, reusing stored ones until they expire.
// Concurrent misses for the same key share one issuance.
type Cache struct {
	store  Store
	issuer Issuer
	events EventPublisher
	now    func() time.Time
	group  singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithEvents publishes a token-issued event for every new token.
func WithEvents(p EventPublisher) Option {
	return func(c *Cache) { c.events = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache over store that fetches missing tokens from issuer.
func New(store Store, issuer Issuer, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetAccessToken returns a valid token for the subscription key and region,
// issuing and storing a new one when none is cached. Issuance failures wrap
// ErrTokenIssue.
//
// The shared issuance outlives any single caller: cancelling ctx only stops
// this caller from waiting. The issuer's own timeout bounds the request.
func (c *Cache) GetAccessToken(ctx context.Context, subscriptionKey, region string) (string, error) {
	key := CacheKey(subscriptionKey, region)

	if token, ok := c.lookup(key); ok {
		return token, nil
	}

	issueCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		// another flight may have stored a token since our lookup
		if token, ok := c.lookup(key); ok {
			return token, nil
		}

		token, err := c.issuer.Issue(issueCtx, subscriptionKey, region)
		if err != nil {
			return "", err
		}

		now := c.now()
		rec := models.TokenRecord{Token: token, Timestamp: now.Unix()}
		if err := c.store.Put(key, rec); err != nil {
			// the token is still good for this request
			logrus.WithError(err).Errorln("failed to store access token")
		}

		logrus.WithField("region", region).Infoln("issued new access token")
		if c.events != nil {
			c.events.Publish(models.Event{
				ID:        uuid.NewString(),
				Type:      models.EventTokenIssued,
				State:     models.StateTokenResolved,
				Timestamp: now.Unix(),
			})
		}
		return token, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrTokenIssue, ctx.Err())
	}
}

// Expire purges expired records from the store.
func (c *Cache) Expire() (int, error) {
	return c.store.Expire(c.now())
}

func (c *Cache) lookup(key string) (string, bool) {
	rec, ok, err := c.store.Get(key, c.now())
	if err != nil {
		logrus.WithError(err).Warnln("token store lookup failed, treating as a miss")
		return "", false
	}
	if !ok {
		return "", false
	}
	return rec.Token, true
}
