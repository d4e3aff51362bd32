package graph

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxonomy-cli/internal/metrics"
	"github.com/sells-group/taxonomy-cli/internal/model"
	"github.com/sells-group/taxonomy-cli/internal/resilience"
)

// RedisConfig configures the shared graph cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr" mapstructure:"addr"`
	Password string        `yaml:"password" mapstructure:"password"`
	DB       int           `yaml:"db" mapstructure:"db"`
	Key      string        `yaml:"key" mapstructure:"key"`
	Channel  string        `yaml:"channel" mapstructure:"channel"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
	// BreakerThreshold consecutive Redis failures open the breaker for
	// BreakerResetSecs.
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// RedisCache shares the built graph between processes. Reads are served
// from a local copy first; invalidations are published on a channel so
// other processes drop their local copy too. Redis failures degrade to
// cache misses behind a circuit breaker.
type RedisCache struct {
	rdb     *goredis.Client
	key     string
	channel string
	ttl     time.Duration
	local   *MemoryCache
	breaker *resilience.CircuitBreaker
	log     *zap.Logger
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, eris.New("graph: redis addr is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "graph: redis ping")
	}
	return newRedisCache(rdb, cfg), nil
}

func newRedisCache(rdb *goredis.Client, cfg RedisConfig) *RedisCache {
	if cfg.Key == "" {
		cfg.Key = "taxonomy:graph"
	}
	if cfg.Channel == "" {
		cfg.Channel = cfg.Key + ":invalidate"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 3
	}
	breakerCfg := resilience.FromCircuitConfig(cfg.BreakerThreshold, cfg.BreakerResetSecs)
	breakerCfg.Name = "graph.redis"
	logState := resilience.StateLogger(breakerCfg.Name)
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		logState(from, to)
		if to == resilience.CircuitOpen {
			metrics.GraphCacheBreakerOpen.Set(1)
		} else {
			metrics.GraphCacheBreakerOpen.Set(0)
		}
	}
	return &RedisCache{
		rdb:     rdb,
		key:     cfg.Key,
		channel: cfg.Channel,
		ttl:     cfg.TTL,
		local:   NewMemoryCache(cfg.TTL),
		breaker: resilience.NewCircuitBreaker(breakerCfg),
		log:     zap.L().With(zap.String("component", "graph.redis")),
	}
}

func (c *RedisCache) Get(ctx context.Context) (*model.GraphData, error) {
	if g, _ := c.local.Get(ctx); g != nil {
		return g, nil
	}

	raw, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		b, err := c.rdb.Get(ctx, c.key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		c.log.Warn("graph cache read failed", zap.Error(err))
		return nil, nil
	}
	if raw == nil {
		return nil, nil
	}

	var g model.GraphData
	if err := json.Unmarshal(raw, &g); err != nil {
		c.log.Warn("discarding malformed cached graph", zap.Error(err))
		return nil, nil
	}
	_ = c.local.Set(ctx, &g)
	return &g, nil
}

func (c *RedisCache) Set(ctx context.Context, g *model.GraphData) error {
	_ = c.local.Set(ctx, g)

	raw, err := json.Marshal(g)
	if err != nil {
		return eris.Wrap(err, "graph: marshal cached graph")
	}
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.rdb.Set(ctx, c.key, raw, c.ttl).Err()
	})
	if err != nil {
		c.log.Warn("graph cache write failed", zap.Error(err))
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	_ = c.local.Invalidate(ctx)

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		if err := c.rdb.Del(ctx, c.key).Err(); err != nil {
			return err
		}
		return c.rdb.Publish(ctx, c.channel, "invalidate").Err()
	})
	if err != nil {
		// The local copy is gone; remote copies expire with the TTL.
		c.log.Warn("graph cache invalidation failed", zap.Error(err))
	}
	return nil
}

// Watch subscribes to invalidations published by other processes and drops
// the local copy when one arrives. It returns once the subscription is live.
func (c *RedisCache) Watch(ctx context.Context) error {
	sub := c.rdb.Subscribe(ctx, c.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return eris.Wrap(err, "graph: redis subscribe")
	}

	go func() {
		defer sub.Close() //nolint:errcheck
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				_ = c.local.Invalidate(ctx)
			}
		}
	}()
	return nil
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
