package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const clearAllMessage = "*"

// SharedCache is a second cache level shared between replicas.
type SharedCache interface {
	Get(ctx context.Context, host string) (Entry, bool, error)
	Set(ctx context.Context, host string, entry Entry, ttl time.Duration) error
	Delete(ctx context.Context, hosts ...string) error
	Clear(ctx context.Context) error
}

// Invalidations fans cache invalidations out to every replica.
type Invalidations interface {
	Publish(ctx context.Context, host string) error
	// Subscribe calls fn for every published host until ctx is done. The host "*" means all.
	Subscribe(ctx context.Context, fn func(host string)) error
}

// RedisCache stores resolutions in Redis and broadcasts invalidations over pub/sub.
type RedisCache struct {
	client  redis.UniversalClient
	prefix  string
	channel string
	log     *slog.Logger
}

var (
	_ SharedCache   = (*RedisCache)(nil)
	_ Invalidations = (*RedisCache)(nil)
)

// NewRedisCache wraps an existing client.
func NewRedisCache(client redis.UniversalClient, log *slog.Logger) *RedisCache {
	if log == nil {
		log = slog.Default()
	}
	return &RedisCache{
		client:  client,
		prefix:  "tenantedge:resolve:",
		channel: "tenantedge:resolve:invalidate",
		log:     log,
	}
}

// Get implements SharedCache.
func (c *RedisCache) Get(ctx context.Context, host string) (Entry, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+host).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode cached entry: %w", err)
	}
	return entry, true, nil
}

// Set implements SharedCache.
func (c *RedisCache) Set(ctx context.Context, host string, entry Entry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cached entry: %w", err)
	}
	return c.client.Set(ctx, c.prefix+host, raw, ttl).Err()
}

// Delete implements SharedCache.
func (c *RedisCache) Delete(ctx context.Context, hosts ...string) error {
	if len(hosts) == 0 {
		return nil
	}
	keys := make([]string, 0, len(hosts))
	for _, h := range hosts {
		keys = append(keys, c.prefix+h)
	}
	return c.client.Del(ctx, keys...).Err()
}

// Clear implements SharedCache.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 500).Iterator()
	batch := make([]string, 0, 500)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return c.client.Del(ctx, batch...).Err()
	}
	return nil
}

// Publish implements Invalidations.
func (c *RedisCache) Publish(ctx context.Context, host string) error {
	return c.client.Publish(ctx, c.channel, host).Err()
}

// Subscribe implements Invalidations.
func (c *RedisCache) Subscribe(ctx context.Context, fn func(host string)) error {
	sub := c.client.Subscribe(ctx, c.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.channel, err)
	}
	c.log.Info("listening for resolver invalidations", "channel", c.channel)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			fn(msg.Payload)
		}
	}
}
