package middleware

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// limiterEntry pairs a token bucket with the last time it was consulted.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	key      string
}

// LRUCache holds per-key limiters with a bounded size.
type LRUCache struct {
	items    map[string]*list.Element
	list     *list.List
	mu       sync.Mutex
	capacity int
}

// NewLRUCache creates a new LRU cache with the specified capacity.
func NewLRUCache(capacity int) *LRUCache {
	return &LRUCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		list:     list.New(),
	}
}

// Get returns the limiter for key, creating it with factory when absent,
// and marks it as used at now.
func (c *LRUCache) Get(key string, now time.Time, factory func() *rate.Limiter) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.list.MoveToFront(elem)
		entry := elem.Value.(*limiterEntry)
		entry.lastSeen = now
		return entry.limiter
	}

	entry := &limiterEntry{limiter: factory(), lastSeen: now, key: key}
	c.items[key] = c.list.PushFront(entry)

	if c.list.Len() > c.capacity {
		c.removeElement(c.list.Back())
	}

	return entry.limiter
}

// EvictOlderThan drops limiters unused since cutoff and returns how many went.
func (c *LRUCache) EvictOlderThan(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.list.Back(); elem != nil; {
		entry := elem.Value.(*limiterEntry)
		if !entry.lastSeen.Before(cutoff) {
			break
		}
		prev := elem.Prev()
		c.removeElement(elem)
		removed++
		elem = prev
	}
	return removed
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	delete(c.items, elem.Value.(*limiterEntry).key)
}

// Len returns the current number of items in the cache.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// RedisRateLimiter implements a sliding window shared by every server
// instance that points at the same redis.
type RedisRateLimiter struct {
	client            *redis.Client
	clock             clockwork.Clock
	keyPrefix         string
	requestsPerMinute int
	windowSize        time.Duration
}

// NewRedisRateLimiter creates a new Redis-based rate limiter.
func NewRedisRateLimiter(client *redis.Client, keyPrefix string, requestsPerMinute int, clock clockwork.Clock) *RedisRateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RedisRateLimiter{
		client:            client,
		clock:             clock,
		keyPrefix:         keyPrefix,
		requestsPerMinute: requestsPerMinute,
		windowSize:        time.Minute,
	}
}

// Allow records one request for key and reports whether it fits the window.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := rl.keyPrefix + key
	now := rl.clock.Now()
	windowStart := now.Add(-rl.windowSize)

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart.UnixMilli(), 10))
	count := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: now.UnixNano(),
	})
	pipe.Expire(ctx, redisKey, rl.windowSize+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis rate limiting: %w", err)
	}

	return count.Val() < int64(rl.requestsPerMinute), nil
}

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// KeyGenerator picks the bucket for a request. Defaults to the client IP.
	KeyGenerator func(c *gin.Context) string
	// OnExceeded replaces the default 429 response.
	OnExceeded func(c *gin.Context)
	// RedisClient switches to the distributed sliding window when set.
	RedisClient *redis.Client
	// Clock drives the buckets and the cleanup loop. Defaults to the real clock.
	Clock  clockwork.Clock
	Logger *slog.Logger
	// SkipPaths bypass the limiter entirely.
	SkipPaths []string
	// CleanupInterval specifies how often to clean up old limiters (default: 5 minutes).
	CleanupInterval time.Duration
	// MaxAge specifies the maximum age of an inactive limiter before cleanup (default: 10 minutes).
	MaxAge            time.Duration
	RequestsPerMinute int
	// CacheCapacity bounds the in-memory limiters (default: 10000).
	CacheCapacity int
}

// RateLimitManager manages rate limiters and their lifecycle.
type RateLimitManager struct {
	cache            *LRUCache
	redisRateLimiter *RedisRateLimiter
	clock            clockwork.Clock
	logger           *slog.Logger
	cleanupDone      chan struct{}
	ctx              context.Context
	cancel           context.CancelFunc
	config           RateLimitConfig
}

// NewRateLimitManager creates a new rate limit manager. Shutdown must be
// called to stop its cleanup goroutine.
func NewRateLimitManager(ctx context.Context, config RateLimitConfig) *RateLimitManager {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 10 * time.Minute
	}
	if config.CacheCapacity <= 0 {
		config.CacheCapacity = 10000
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 120
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &RateLimitManager{
		cache:       NewLRUCache(config.CacheCapacity),
		clock:       config.Clock,
		logger:      config.Logger,
		config:      config,
		ctx:         managerCtx,
		cancel:      cancel,
		cleanupDone: make(chan struct{}),
	}

	if config.RedisClient != nil {
		manager.redisRateLimiter = NewRedisRateLimiter(config.RedisClient, "hairscope:rate_limit:", config.RequestsPerMinute, config.Clock)
	}

	go manager.cleanup()

	return manager
}

// Allow checks if a request should be allowed for the given key.
func (rm *RateLimitManager) Allow(ctx context.Context, key string) (bool, error) {
	if rm.redisRateLimiter != nil {
		return rm.redisRateLimiter.Allow(ctx, key)
	}
	return rm.GetLimiter(key).AllowN(rm.clock.Now(), 1), nil
}

// GetLimiter gets or creates the in-memory limiter for key.
func (rm *RateLimitManager) GetLimiter(key string) *rate.Limiter {
	return rm.cache.Get(key, rm.clock.Now(), func() *rate.Limiter {
		every := time.Minute / time.Duration(rm.config.RequestsPerMinute)
		return rate.NewLimiter(rate.Every(every), rm.config.RequestsPerMinute)
	})
}

func (rm *RateLimitManager) cleanup() {
	defer close(rm.cleanupDone)

	ticker := rm.clock.NewTicker(rm.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rm.ctx.Done():
			return
		case <-ticker.Chan():
			if n := rm.cache.EvictOlderThan(rm.clock.Now().Add(-rm.config.MaxAge)); n > 0 {
				rm.logger.Debug("Evicted idle rate limiters", "count", n)
			}
		}
	}
}

// Shutdown stops the cleanup goroutine and waits for it.
func (rm *RateLimitManager) Shutdown() {
	rm.cancel()
	<-rm.cleanupDone
}

// Stats returns statistics about the rate limiter cache.
func (rm *RateLimitManager) Stats() RateLimitStats {
	cacheLen := rm.cache.Len()
	return RateLimitStats{
		CacheSize:     cacheLen,
		CacheCapacity: rm.config.CacheCapacity,
		CacheUsage:    float64(cacheLen) / float64(rm.config.CacheCapacity),
		Distributed:   rm.redisRateLimiter != nil,
	}
}

// RateLimitStats holds statistics about rate limiting.
type RateLimitStats struct {
	CacheSize     int     `json:"cache_size"`
	CacheCapacity int     `json:"cache_capacity"`
	CacheUsage    float64 `json:"cache_usage"`
	Distributed   bool    `json:"distributed"`
}

// RateLimitMiddleware returns a rate limiting middleware and the manager
// behind it. The manager must be shut down to release its goroutine.
// Limiter errors fail open.
func RateLimitMiddleware(ctx context.Context, config RateLimitConfig) (gin.HandlerFunc, *RateLimitManager) {
	if config.KeyGenerator == nil {
		config.KeyGenerator = func(c *gin.Context) string { return "ip:" + c.ClientIP() }
	}
	manager := NewRateLimitManager(ctx, config)

	middleware := func(c *gin.Context) {
		if skipPath(config.SkipPaths, c.Request.URL.Path) {
			c.Next()
			return
		}

		allowed, err := manager.Allow(c.Request.Context(), config.KeyGenerator(c))
		if err != nil {
			manager.logger.Warn("Rate limiter unavailable", "error", err, "request_id", GetRequestID(c))
			c.Header("X-RateLimit-Error", "true")
			c.Next()
			return
		}

		if !allowed {
			c.Header("Retry-After", "60")
			if config.OnExceeded != nil {
				config.OnExceeded(c)
			} else {
				c.JSON(http.StatusTooManyRequests, gin.H{
					"success": false,
					"error": gin.H{
						"type":    "RATE_LIMIT_ERROR",
						"code":    "TOO_MANY_REQUESTS",
						"message": "Rate limit exceeded. Please try again later.",
					},
				})
			}
			c.Abort()
			return
		}

		c.Next()
	}

	return middleware, manager
}
