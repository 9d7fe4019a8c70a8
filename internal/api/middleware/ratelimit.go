package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Rate limiter backends.
const (
	LimiterBackendMemory = "memory"
	LimiterBackendRedis  = "redis"
)

const limiterKeyPrefix = "amdox:ratelimit"

// Limiters builds named per-IP rate limiters over a shared backend. With a
// Redis client every replica counts against the same window; without one each
// process keeps its own counters in memory.
type Limiters struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewLimiters creates a limiter factory. An empty redisURL selects the memory backend.
func NewLimiters(ctx context.Context, redisURL string, logger zerolog.Logger) (*Limiters, error) {
	l := &Limiters{logger: logger.With().Str("component", "rate_limiter").Logger()}
	if redisURL == "" {
		return l, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	l.client = client
	return l, nil
}

// NewLimitersWithClient creates a limiter factory over an existing Redis client.
func NewLimitersWithClient(client *redis.Client, logger zerolog.Logger) *Limiters {
	return &Limiters{client: client, logger: logger.With().Str("component", "rate_limiter").Logger()}
}

// Backend reports which store the limiters count in.
func (l *Limiters) Backend() string {
	if l.client != nil {
		return LimiterBackendRedis
	}
	return LimiterBackendMemory
}

// Close releases the Redis connection, if any.
func (l *Limiters) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}

// NewRateLimiter creates a Gin middleware allowing requests per period for
// each client IP. name keeps the counters of different limiters apart.
// period is a duration string (e.g., "15m", "1h").
func (l *Limiters) NewRateLimiter(name string, requests int64, period string) (gin.HandlerFunc, error) {
	duration, err := time.ParseDuration(period)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit period %q: %w", period, err)
	}
	if requests <= 0 {
		return nil, fmt.Errorf("rate limit %q: requests must be positive", name)
	}

	store, err := l.store(name)
	if err != nil {
		return nil, err
	}

	instance := limiter.New(store, limiter.Rate{Period: duration, Limit: requests})
	log := l.logger.With().Str("limiter", name).Logger()

	mw := mgin.NewMiddleware(instance,
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			log.Warn().
				Str("client_ip", c.ClientIP()).
				Str("path", c.Request.URL.Path).
				Msg("rate limit reached")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests, please try again later."})
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			log.Error().Err(err).Msg("rate limiter store unavailable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
		}),
	)
	return mw, nil
}

func (l *Limiters) store(name string) (limiter.Store, error) {
	opts := limiter.StoreOptions{
		Prefix:          limiterKeyPrefix + ":" + name,
		CleanUpInterval: limiter.DefaultCleanUpInterval,
	}
	if l.client == nil {
		return memory.NewStoreWithOptions(opts), nil
	}
	store, err := sredis.NewStoreWithOptions(l.client, opts)
	if err != nil {
		return nil, fmt.Errorf("create redis limiter store %q: %w", name, err)
	}
	return store, nil
}

// Ping checks the Redis backend. The memory backend is always reachable.
func (l *Limiters) Ping(ctx context.Context) error {
	if l.client == nil {
		return nil
	}
	return l.client.Ping(ctx).Err()
}
