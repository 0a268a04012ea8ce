package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/webitel/im-live-service/config"
)

var ErrUnknownApp = errors.New("webhook: unknown application")

// SecretStore resolves the shared secret of an application.
type SecretStore interface {
	Secret(ctx context.Context, appID string) ([]byte, error)
}

// StaticSecrets serves secrets from the webhook.endpoints config section.
type StaticSecrets map[string][]byte

func NewStaticSecrets(endpoints []config.EndpointConfig) StaticSecrets {
	s := make(StaticSecrets, len(endpoints))
	for _, ep := range endpoints {
		if ep.Secret != "" {
			s[ep.AppID] = []byte(ep.Secret)
		}
	}
	return s
}

func (s StaticSecrets) Secret(_ context.Context, appID string) ([]byte, error) {
	secret, ok := s[appID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, appID)
	}
	return secret, nil
}

// CachedSecrets memoizes a slower store for ttl.
type CachedSecrets struct {
	next  SecretStore
	cache *ttlcache.Cache[string, []byte]
}

func NewCachedSecrets(next SecretStore, ttl time.Duration) *CachedSecrets {
	cache := ttlcache.New[string, []byte](
		ttlcache.WithTTL[string, []byte](ttl),
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	return &CachedSecrets{next: next, cache: cache}
}

// Start runs the expiry loop until Stop.
func (c *CachedSecrets) Start() { go c.cache.Start() }
func (c *CachedSecrets) Stop()  { c.cache.Stop() }

func (c *CachedSecrets) Secret(ctx context.Context, appID string) ([]byte, error) {
	if item := c.cache.Get(appID); item != nil {
		return item.Value(), nil
	}
	secret, err := c.next.Secret(ctx, appID)
	if err != nil {
		return nil, err
	}
	c.cache.Set(appID, secret, ttlcache.DefaultTTL)
	return secret, nil
}
