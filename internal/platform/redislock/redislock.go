// Package redislock provides a cross-process mutex keyed by string, backed by Redis SET NX.
package redislock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/adgraph/internal/config"
	"github.com/yungbote/adgraph/internal/platform/logger"
)

const keyPrefix = "adgraph:lock:"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	log  *logger.Logger
	rdb  *goredis.Client
	ttl  time.Duration
	poll time.Duration
}

func New(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*Locker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redislock: missing redis addr")
	}
	ttl := time.Duration(cfg.LockTTLSec) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Locker{
		log:  log.With("service", "RedisLock"),
		rdb:  rdb,
		ttl:  ttl,
		poll: 25 * time.Millisecond,
	}, nil
}

// Lock blocks until key is held or ctx ends. The returned func releases the lock; it is safe to call
// after the TTL expired (the release is then a no-op).
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	if l == nil || l.rdb == nil {
		return nil, fmt.Errorf("redis lock not initialized")
	}
	full := keyPrefix + key
	token := uuid.NewString()
	wait := l.poll
	for {
		ok, err := l.rdb.SetNX(ctx, full, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx %s: %w", full, err)
		}
		if ok {
			return func() {
				rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := releaseScript.Run(rctx, l.rdb, []string{full}, token).Err(); err != nil {
					l.log.Warn("redis lock release failed", "key", full, "error", err)
				}
			}, nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		if wait < 500*time.Millisecond {
			wait *= 2
		}
	}
}

func (l *Locker) Close() error {
	if l == nil || l.rdb == nil {
		return nil
	}
	return l.rdb.Close()
}
