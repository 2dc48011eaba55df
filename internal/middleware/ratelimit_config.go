package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"peercall-backend/pkg/env"
)

// RateLimitConfig holds rate limit configuration for different endpoints
type RateLimitConfig struct {
	Endpoint string
	Requests int
	Window   time.Duration
}

// RateLimitConfigManager manages rate limit configurations
type RateLimitConfigManager struct {
	configs map[string]RateLimitConfig
}

// NewRateLimitConfigManager creates a new rate limit configuration manager
// Rate limits can be overridden via environment variables:
// - RATELIMIT_CALLS_CREATE: Requests per minute for POST /v1/calls (default: 10)
// - RATELIMIT_CALLS_ID: Requests per minute for /v1/calls/:id (default: 30)
// - RATELIMIT_CALLS_HISTORY: Requests per minute for /v1/calls/history (default: 30)
func NewRateLimitConfigManager() *RateLimitConfigManager {
	return &RateLimitConfigManager{
		configs: map[string]RateLimitConfig{
			// Call creation is the expensive path: claims, notification,
			// ring timer
			"/v1/calls": {
				Requests: env.GetInt("RATELIMIT_CALLS_CREATE", 10),
				Window:   time.Minute,
			},
			"/v1/calls/incoming": {
				Requests: env.GetInt("RATELIMIT_CALLS_INCOMING", 60),
				Window:   time.Minute,
			},
			"/v1/calls/active": {
				Requests: env.GetInt("RATELIMIT_CALLS_ACTIVE", 60),
				Window:   time.Minute,
			},
			"/v1/calls/history": {
				Requests: env.GetInt("RATELIMIT_CALLS_HISTORY", 30),
				Window:   time.Minute,
			},
			"/v1/calls/:id": {
				Requests: env.GetInt("RATELIMIT_CALLS_ID", 30),
				Window:   time.Minute,
			},
			"/v1/calls/:id/accept": {
				Requests: env.GetInt("RATELIMIT_CALLS_ID_ACCEPT", 10),
				Window:   time.Minute,
			},
			"/v1/calls/:id/decline": {
				Requests: env.GetInt("RATELIMIT_CALLS_ID_DECLINE", 10),
				Window:   time.Minute,
			},
			"/v1/calls/:id/cancel": {
				Requests: env.GetInt("RATELIMIT_CALLS_ID_CANCEL", 10),
				Window:   time.Minute,
			},
			"/v1/calls/:id/end": {
				Requests: env.GetInt("RATELIMIT_CALLS_ID_END", 10),
				Window:   time.Minute,
			},
		},
	}
}

// GetConfig returns rate limit configuration for a specific endpoint
func (m *RateLimitConfigManager) GetConfig(endpoint string) RateLimitConfig {
	if config, exists := m.configs[endpoint]; exists {
		return config
	}
	// Default rate limit
	return RateLimitConfig{
		Requests: 100,
		Window:   time.Minute,
	}
}

// GetConfigForPath returns rate limit configuration based on path pattern matching
func (m *RateLimitConfigManager) GetConfigForPath(path string) RateLimitConfig {
	// Try exact match first
	if config, exists := m.configs[path]; exists {
		return config
	}

	// Try prefix match for parameterized paths
	for pattern, config := range m.configs {
		if isPathMatch(path, pattern) {
			return config
		}
	}

	// Default rate limit (configurable via RATELIMIT_DEFAULT)
	return RateLimitConfig{
		Requests: env.GetInt("RATELIMIT_DEFAULT", 100),
		Window:   time.Minute,
	}
}

// isPathMatch checks if a path matches a pattern (e.g., /v1/calls/:id matches /v1/calls/123)
func isPathMatch(path, pattern string) bool {
	pathParts := splitPath(path)
	patternParts := splitPath(pattern)

	if len(patternParts) == 0 || len(pathParts) != len(patternParts) {
		return false
	}

	for i, part := range patternParts {
		if len(part) > 0 && part[0] != ':' {
			if pathParts[i] != part {
				return false
			}
		}
	}

	return true
}

// splitPath splits a path into parts
func splitPath(path string) []string {
	parts := []string{}
	current := ""
	for _, ch := range path {
		if ch == '/' {
			if current != "" {
				parts = append(parts, current)
				current = ""
			}
		} else {
			current += string(ch)
		}
	}
	if current != "" {
		parts = append(parts, current)
	}
	return parts
}

// AdvancedRateLimiter is an enhanced rate limiter with per-endpoint configuration
type AdvancedRateLimiter struct {
	redisClient *redis.Client
	configMgr   *RateLimitConfigManager
}

// NewAdvancedRateLimiter creates a new advanced rate limiter
func NewAdvancedRateLimiter(redisClient *redis.Client) *AdvancedRateLimiter {
	return &AdvancedRateLimiter{
		redisClient: redisClient,
		configMgr:   NewRateLimitConfigManager(),
	}
}

// Middleware returns a Gin middleware for advanced rate limiting
func (rl *AdvancedRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get client IP
		clientIP := c.ClientIP()
		if clientIP == "" {
			c.JSON(500, gin.H{"error": "Unable to determine client IP"})
			c.Abort()
			return
		}

		// Get user ID if authenticated (for per-user rate limiting)
		userID, exists := c.Get("user_id")
		var identifier string
		if exists {
			identifier = fmt.Sprintf("user:%v", userID)
		} else {
			identifier = "ip:" + clientIP
		}

		// Get rate limit config for this endpoint
		path := c.Request.URL.Path
		config := rl.configMgr.GetConfigForPath(path)

		// Check rate limit
		allowed, remaining, resetTime, err := rl.checkRateLimit(c, identifier, config.Requests, config.Window)
		if err != nil {
			c.JSON(500, gin.H{"error": "Rate limit check failed"})
			c.Abort()
			return
		}

		// Set rate limit headers
		c.Header("X-RateLimit-Limit", strconv.Itoa(config.Requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))
		c.Header("X-RateLimit-Window", config.Window.String())

		if !allowed {
			c.JSON(429, gin.H{
				"error":       "Rate limit exceeded",
				"limit":       config.Requests,
				"remaining":   remaining,
				"reset_at":    resetTime,
				"retry_after": config.Window.Seconds(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// checkRateLimit checks if request is within rate limits using Redis sliding window
func (rl *AdvancedRateLimiter) checkRateLimit(c *gin.Context, identifier string, requests int, window time.Duration) (bool, int, int64, error) {
	ctx := c.Request.Context()
	now := time.Now().Unix()
	windowStart := now - int64(window.Seconds())

	// Redis key for rate limiting
	key := fmt.Sprintf("ratelimit:%s", identifier)
	windowKey := fmt.Sprintf("ratelimit:%s:window", identifier)

	// Use Redis pipeline for atomic operations
	pipe := rl.redisClient.Pipeline()
	pipe.Get(ctx, windowKey)
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)

	results, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return false, 0, 0, fmt.Errorf("failed to execute Redis pipeline: %w", err)
	}

	lastWindowStartBytes := results[0].(*redis.StringCmd).Val()
	count, err := results[1].(*redis.IntCmd).Result()
	if err != nil && err != redis.Nil {
		return false, 0, 0, fmt.Errorf("failed to get request count: %w", err)
	}

	// Check if we need to reset window
	lastWindowStart, parseErr := strconv.ParseInt(lastWindowStartBytes, 10, 64)
	if lastWindowStart < windowStart || parseErr != nil {
		// New window, reset count
		if err := rl.redisClient.Set(ctx, windowKey, windowStart, window).Err(); err != nil {
			return false, 0, 0, fmt.Errorf("failed to set window start: %w", err)
		}
		if err := rl.redisClient.Set(ctx, key, 1, window).Err(); err != nil {
			return false, 0, 0, fmt.Errorf("failed to reset request count: %w", err)
		}
		count = int64(1)
		lastWindowStart = windowStart
	}

	remaining := requests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	allowed := int(count) <= requests
	resetTime := lastWindowStart + int64(window.Seconds())

	return allowed, remaining, resetTime, nil
}
