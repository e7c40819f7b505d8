package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/quantpulse/identity-api/internal/database"
	"github.com/quantpulse/identity-api/internal/models"
	"github.com/quantpulse/identity-api/internal/request"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	stdlibmw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
)

const defaultRatelimitRate = "5-S"

// LimitReachedHandler writes the 429 response for ulule's stdlib
// middleware. The middleware sets X-RateLimit-Reset before calling it, so
// retry_after_seconds is derived from that header.
func LimitReachedHandler(w http.ResponseWriter, r *http.Request) {
	var retryAfter int64
	if reset, err := strconv.ParseInt(w.Header().Get("X-RateLimit-Reset"), 10, 64); err == nil {
		if d := reset - time.Now().Unix(); d > 0 {
			retryAfter = d
		}
	}
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":             false,
		"error":               "rate_limited",
		"message":             "Too many requests",
		"retry_after_seconds": retryAfter,
		"request_id":          RequestIDFromContext(r.Context()),
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	})
}

// NewLimiterFromDB builds a ulule limiter instance for a named limit,
// backed by Redis, loading the rate from the DB. If no config exists for
// the key, defaultRate is saved. The caller picks the limit key per
// request (e.g. client IP, or the target email for magic-link requests).
func NewLimiterFromDB(redisClient *redis.Client, repo *database.RatelimitConfigRepository, configKey, defaultRate string) (*limiter.Limiter, error) {
	if defaultRate == "" {
		defaultRate = defaultRatelimitRate
	}
	ctx := context.Background()
	cfg, err := repo.Get(ctx, configKey)
	if err != nil {
		return nil, err
	}
	rateStr := defaultRate
	if cfg != nil && cfg.Rate != "" {
		rateStr = cfg.Rate
	} else {
		if err = repo.Set(ctx, &models.RatelimitConfig{ConfigKey: configKey, Rate: defaultRate}); err != nil {
			return nil, err
		}
	}
	rate, err := limiter.NewRateFromFormatted(rateStr)
	if err != nil {
		return nil, err
	}
	store, err := redisstore.NewStore(redisClient)
	if err != nil {
		return nil, err
	}
	return limiter.New(store, rate), nil
}

// RateLimitFromDB returns per-IP middleware for a named limit, using
// ulule/limiter with Redis. Uses request.ClientIP for the limit key.
func RateLimitFromDB(redisClient *redis.Client, repo *database.RatelimitConfigRepository, configKey, defaultRate string) (func(http.Handler) http.Handler, error) {
	instance, err := NewLimiterFromDB(redisClient, repo, configKey, defaultRate)
	if err != nil {
		return nil, err
	}
	keyGetter := func(r *http.Request) string {
		return request.ClientIP(r)
	}
	mw := stdlibmw.NewMiddleware(instance,
		stdlibmw.WithKeyGetter(keyGetter),
		stdlibmw.WithLimitReachedHandler(LimitReachedHandler),
	)
	return mw.Handler, nil
}
