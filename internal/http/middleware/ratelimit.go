package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"scriptgame_gamemaster/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// лимитер запросов: Redis, если настроен, иначе скользящее окно
// в памяти процесса - игра не должна зависеть от Redis
var (
	rdb    *redis.Client
	memMu  sync.Mutex
	memHit = make(map[string][]time.Time)
)

// InitRedisRateLimiter подключает Redis для лимитера;
// пустой адрес оставляет in-memory режим
func InitRedisRateLimiter(addr, password string, db int) {
	if addr == "" {
		logger.Info("rate limiter: Redis не настроен, используется память процесса")
		return
	}

	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("rate limiter: Redis недоступен, используется память процесса", "addr", addr, "error", err)
		return
	}

	rdb = client
	logger.Info("rate limiter: Redis подключен", "addr", addr)
}

// RateLimit ограничивает частоту запросов с одного адреса клиента
// на путь; при превышении отвечает 429
func RateLimit(limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("rl:%s:%s", c.ClientIP(), c.FullPath())

		allowed := true
		if rdb != nil {
			allowed = allowRedis(c.Request.Context(), key, limit, window)
		} else {
			allowed = allowMemory(key, limit, window)
		}

		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": window.Seconds(),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func allowRedis(ctx context.Context, key string, limit int, window time.Duration) bool {
	n, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		// проблемы Redis не должны блокировать игру
		return true
	}
	if n == 1 {
		rdb.Expire(ctx, key, window)
	}
	return n <= int64(limit)
}

func allowMemory(key string, limit int, window time.Duration) bool {
	memMu.Lock()
	defer memMu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)

	hits := memHit[key][:0]
	for _, ts := range memHit[key] {
		if ts.After(cutoff) {
			hits = append(hits, ts)
		}
	}
	if len(hits) >= limit {
		memHit[key] = hits
		return false
	}
	memHit[key] = append(hits, now)
	return true
}
