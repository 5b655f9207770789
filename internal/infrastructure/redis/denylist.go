// Package redis keeps revoked session IDs in Redis so every API replica sees
// a logout.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

const defaultPrefix = "auth:revoked"

type Denylist struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewDenylist(client goredis.UniversalClient, prefix string) *Denylist {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Denylist{client: client, prefix: prefix, now: time.Now}
}

// NewClient parses a redis:// URL.
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("REDIS_CONFIG_INVALID").Wrap(err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("REDIS_CONNECT_FAILED").Wrap(err)
	}
	return client, nil
}

func (d *Denylist) key(tokenID string) string {
	return d.prefix + ":" + tokenID
}

// Revoke stores the ID until the token's own expiry; already-expired tokens
// need no entry.
func (d *Denylist) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := until.Sub(d.now())
	if ttl <= 0 {
		return nil
	}
	if err := d.client.Set(ctx, d.key(tokenID), 1, ttl).Err(); err != nil {
		return oops.Code("REDIS_REVOKE_FAILED").With("token_id", tokenID).Wrap(err)
	}
	return nil
}

func (d *Denylist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	err := d.client.Get(ctx, d.key(tokenID)).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, goredis.Nil):
		return false, nil
	default:
		return false, oops.Code("REDIS_LOOKUP_FAILED").With("token_id", tokenID).Wrap(err)
	}
}

// Ping satisfies health.Pinger.
func (d *Denylist) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}
