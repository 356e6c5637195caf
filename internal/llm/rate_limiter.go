package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter throttles judge calls before they reach a provider. Wait either
// returns promptly, blocks until a slot frees, or errors when the shared
// quota is nearly exhausted.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Provider free-tier style limits; generous enough that a single
// supervisor never hits them, tight enough to protect a fleet.
const (
	DefaultRPM = 1000   // requests per minute
	DefaultRPD = 10_000 // requests per day
)

// newLimiter prefers the Redis limiter when an address is configured so
// every supervisor process shares one quota; otherwise (or when Redis is
// unreachable) it falls back to an in-process token bucket.
func newLimiter(ctx context.Context, redisAddr string, logger *slog.Logger) Limiter {
	if redisAddr != "" {
		rl, err := NewRedisLimiter(ctx, redisAddr)
		if err == nil {
			logger.Info("redis rate limiter initialized", "addr", redisAddr)
			return rl
		}
		logger.Warn("redis unavailable, using local rate limiter", "addr", redisAddr, "error", err)
	}
	return NewLocalLimiter()
}

// LocalLimiter is a per-process token bucket.
type LocalLimiter struct {
	limiter *rate.Limiter
}

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(DefaultRPM)/60.0), 10),
	}
}

func (l *LocalLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// RedisLimiter shares per-minute and per-day counters across processes.
// Counters are incremented and checked atomically so two supervisors
// never both sneak past the threshold.
type RedisLimiter struct {
	redis    *redis.Client
	rpmLimit int64
	rpdLimit int64
}

// NewRedisLimiter connects and verifies the Redis server.
func NewRedisLimiter(ctx context.Context, addr string) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 0})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisLimiter{
		redis:    client,
		rpmLimit: DefaultRPM,
		rpdLimit: DefaultRPD,
	}, nil
}

var checkAndIncrement = redis.NewScript(`
	local rpm_key = KEYS[1]
	local rpd_key = KEYS[2]
	local rpm_limit = tonumber(ARGV[1])
	local rpd_limit = tonumber(ARGV[2])

	local rpm = redis.call('INCR', rpm_key)
	if rpm == 1 then
		redis.call('EXPIRE', rpm_key, 120)
	end
	local rpd = redis.call('INCR', rpd_key)
	if rpd == 1 then
		redis.call('EXPIRE', rpd_key, 172800)
	end

	-- Throttle at 90% so in-flight calls can land under the hard limit.
	if rpm > (rpm_limit * 0.9) then
		return {'rpm', rpm}
	end
	if rpd > (rpd_limit * 0.9) then
		return {'rpd', rpd}
	end
	return {'ok', 0}
`)

func (r *RedisLimiter) Wait(ctx context.Context) error {
	now := time.Now()
	rpmKey := fmt.Sprintf("callguard:judge:rpm:%s", now.Format("2006-01-02T15:04"))
	rpdKey := fmt.Sprintf("callguard:judge:rpd:%s", now.Format("2006-01-02"))

	res, err := checkAndIncrement.Run(ctx, r.redis,
		[]string{rpmKey, rpdKey}, r.rpmLimit, r.rpdLimit).Slice()
	if err != nil {
		// A broken limiter must not take the judge pipeline down with it.
		return nil
	}
	if len(res) == 2 {
		if kind, ok := res[0].(string); ok && kind != "ok" {
			return fmt.Errorf("judge call quota near limit (%s, count %v)", kind, res[1])
		}
	}
	return nil
}

// Close releases the Redis connection.
func (r *RedisLimiter) Close() error {
	return r.redis.Close()
}
