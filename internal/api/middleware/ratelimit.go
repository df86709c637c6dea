// ratelimit.go — ограничение частоты запросов по IP клиента (token bucket).
package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	apierrors "github.com/miguelitojb9/InstaShare/internal/api/errors"
)

var rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "instashare_rate_limited_total",
	Help: "Количество запросов, отклонённых rate limiter",
})

// clientIdleTTL — через сколько неактивный клиент удаляется из таблицы.
const clientIdleTTL = 3 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter — лимитер запросов по IP.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*clientLimiter
	now     func() time.Time
}

// NewRateLimiter создаёт лимитер: rps запросов в секунду, burst — размер всплеска.
func NewRateLimiter(rps float64, burst int, logger *slog.Logger) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		logger:  logger.With(slog.String("component", "rate_limiter")),
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// StartCleanup периодически удаляет неактивных клиентов до отмены ctx.
func (l *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.cleanup()
			}
		}
	}()
}

func (l *RateLimiter) cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for ip, c := range l.clients {
		if l.now().Sub(c.lastSeen) > clientIdleTTL {
			delete(l.clients, ip)
			removed++
		}
	}
	return removed
}

func (l *RateLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = l.now()
	return c.limiter
}

// Middleware возвращает HTTP middleware. Превышение лимита — 429.
func (l *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !l.limiterFor(ip).Allow() {
				rateLimitedTotal.Inc()
				l.logger.Debug("Запрос отклонён rate limiter",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", "1")
				apierrors.TooManyRequests(w, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP — IP из RemoteAddr без порта.
// X-Forwarded-For не учитывается: его обрабатывает ProxyHeaders на уровне сервера.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
