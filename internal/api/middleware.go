package api

import (
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/samcharles93/extractqa/internal/logger"
)

const headerRequestID = "X-Request-Id"

// maxRequestIDLen bounds client supplied ids copied into logs.
const maxRequestIDLen = 128

// RequestID echoes the client's X-Request-Id, or assigns a new one, and
// puts a logger tagged with it into the request context.
func RequestID(log logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			req := c.Request()
			id := strings.TrimSpace(req.Header.Get(headerRequestID))
			if id == "" || len(id) > maxRequestIDLen {
				id = uuid.NewString()
			}
			c.Response().Header().Set(headerRequestID, id)
			ctx := logger.WithContext(req.Context(), log.With("request_id", id))
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

// DefaultRateLimitClients bounds how many client addresses keep a limiter.
const DefaultRateLimitClients = 4096

// RateLimiter hands out one token bucket per client address. The least
// recently seen clients are forgotten once more than the configured number
// are tracked.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients *lru.Cache[string, *rate.Limiter]
}

func NewRateLimiter(perSecond float64, burst, clients int) (*RateLimiter, error) {
	if clients <= 0 {
		clients = DefaultRateLimitClients
	}
	if burst < 1 {
		burst = 1
	}
	cache, err := lru.New[string, *rate.Limiter](clients)
	if err != nil {
		return nil, err
	}
	return &RateLimiter{limit: rate.Limit(perSecond), burst: burst, clients: cache}, nil
}

// Allow reports whether client may make a request now.
func (l *RateLimiter) Allow(client string) bool {
	l.mu.Lock()
	lim, ok := l.clients.Get(client)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.clients.Add(client, lim)
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !l.Allow(c.RealIP()) {
				return writeError(c, http.StatusTooManyRequests, errKindRateLimited, "rate limit exceeded, retry later")
			}
			return next(c)
		}
	}
}
