// internal/api/middleware.go
package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Corphon/ScreenplayStudio/internal/i18n"
	"github.com/Corphon/ScreenplayStudio/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDKey    = "request_id"
	localizerKey    = "localizer"
	requestIDHeader = "X-Request-ID"
)

// RateLimiter 固定窗口限流器
type RateLimiter struct {
	visitors map[string]*Visitor
	mu       sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
}

// Visitor 一个客户端的限流数据
type Visitor struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// NewRateLimiter 创建限流器并启动过期清理
func NewRateLimiter() *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*Visitor),
		stop:     make(chan struct{}),
	}
	go rl.cleanup(10 * time.Minute)
	return rl
}

// Stop 停止清理协程
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// cleanup 定期删除窗口已过期的客户端
func (rl *RateLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for key, visitor := range rl.visitors {
				if now.After(visitor.Reset) {
					delete(rl.visitors, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Allow 检查请求是否允许，并返回当前窗口的剩余次数和重置时间
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) (bool, Visitor) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	visitor, exists := rl.visitors[key]
	if !exists || now.After(visitor.Reset) {
		visitor = &Visitor{Limit: limit, Remaining: limit, Reset: now.Add(window)}
		rl.visitors[key] = visitor
	}

	if visitor.Remaining <= 0 {
		return false, *visitor
	}
	visitor.Remaining--
	return true, *visitor
}

// WriteRateLimit 只限制修改类请求，按客户端 IP 计数
func WriteRateLimit(rl *RateLimiter, rh *ResponseHelper, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		allowed, v := rl.Allow(c.ClientIP(), limit, window)
		c.Header("X-RateLimit-Limit", strconv.Itoa(v.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(v.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(v.Reset.Unix(), 10))

		if !allowed {
			rh.Error(c, http.StatusTooManyRequests, ErrorRateLimited, "")
			c.Abort()
			return
		}
		c.Next()
	}
}

// requestIDMiddleware 复用客户端传入的请求ID，否则生成新的
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// localeMiddleware 为每个请求解析语言：?lang=、cookie、Accept-Language、默认语言
func localeMiddleware(catalog *i18n.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, _ := c.Cookie(i18n.CookieName)
		lang := i18n.Resolve(catalog, c.Query("lang"), cookie, c.GetHeader("Accept-Language"))
		c.Set(localizerKey, i18n.NewLocalizer(catalog, lang))
		c.Header("Content-Language", lang)
		c.Next()
	}
}

// metricsMiddleware 记录每个路由的请求数和耗时
func metricsMiddleware(metrics *utils.APIMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RecordAPIRequest(endpoint, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Accept-Language, X-Request-ID, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Remaining")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
