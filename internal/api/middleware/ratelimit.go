package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/order-payments/pkg/response"
)

type ipLimiter struct {
	limiter *rate.Limiter
	last    time.Time
}

// IPRateLimiter 按客户端 IP 的令牌桶限流
type IPRateLimiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	clients map[string]*ipLimiter
	idleTTL time.Duration
}

func NewIPRateLimiter(rps float64, burst int) *IPRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &IPRateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*ipLimiter),
		idleTTL: 30 * time.Minute,
	}
}

// Allow 消耗 ip 的一个令牌
func (l *IPRateLimiter) Allow(ip string) bool {
	now := time.Now()
	l.mu.Lock()
	entry, ok := l.clients[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = entry
	}
	entry.last = now
	l.mu.Unlock()
	return entry.limiter.Allow()
}

// Cleanup 清理长时间不活跃的 IP
func (l *IPRateLimiter) Cleanup() {
	cutoff := time.Now().Add(-l.idleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, e := range l.clients {
		if e.last.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

// RateLimit 超限返回 429
func RateLimit(l *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			response.TooManyRequests(c)
			return
		}
		c.Next()
	}
}
