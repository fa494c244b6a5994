package leader

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/jensholdgaard/auction-settlement/internal/config"
)

// RedisClientFactory creates the redis client used by the redis backend.
// Extracted as a variable for testing.
var RedisClientFactory = func(cfg config.LeaderElectionConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// Only the holder may extend or drop the lease.
var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisElector holds a lease on a redis key. The key is set with SETNX and
// a TTL, and the holder renews it every third of the TTL.
type RedisElector struct {
	client *redis.Client
	key    string
	id     string
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// NewRedisElector returns an elector competing for key as id. Non-positive
// durations fall back to a 15s lease retried every 2s.
func NewRedisElector(client *redis.Client, key, id string, ttl, retry time.Duration, logger *slog.Logger) *RedisElector {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	if retry <= 0 {
		retry = 2 * time.Second
	}
	return &RedisElector{client: client, key: key, id: id, ttl: ttl, retry: retry, logger: logger}
}

// Run competes for the lease until ctx is done. Each time the lease is won
// onStartedLeading runs with a context that is cancelled when the lease is
// lost, followed by onStoppedLeading.
func (e *RedisElector) Run(ctx context.Context, onStartedLeading func(ctx context.Context), onStoppedLeading func()) error {
	e.logger.Info("starting leader election",
		slog.String("backend", "redis"),
		slog.String("identity", e.id),
		slog.String("key", e.key),
	)

	for {
		ok, err := e.client.SetNX(ctx, e.key, e.id, e.ttl).Result()
		switch {
		case err != nil && ctx.Err() == nil:
			e.logger.Warn("acquiring leadership failed", slog.Any("error", err))
		case ok:
			e.lead(ctx, onStartedLeading, onStoppedLeading)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(e.retry):
		}
	}
}

// IsLeader reports whether this elector currently holds the lease.
func (e *RedisElector) IsLeader(ctx context.Context) (bool, error) {
	holder, err := e.client.Get(ctx, e.key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return holder == e.id, nil
}

func (e *RedisElector) lead(ctx context.Context, onStartedLeading func(ctx context.Context), onStoppedLeading func()) {
	e.logger.Info("acquired leadership", slog.String("identity", e.id))

	leadCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		onStartedLeading(leadCtx)
	}()

	ticker := time.NewTicker(e.ttl / 3)
	defer ticker.Stop()

renew:
	for {
		select {
		case <-leadCtx.Done():
			break renew
		case <-done:
			break renew
		case <-ticker.C:
			n, err := renewScript.Run(leadCtx, e.client, []string{e.key}, e.id, e.ttl.Milliseconds()).Int64()
			if err != nil || n == 0 {
				e.logger.Warn("renewing leadership failed", slog.Any("error", err))
				break renew
			}
		}
	}

	cancel()
	<-done

	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer releaseCancel()
	if err := releaseScript.Run(releaseCtx, e.client, []string{e.key}, e.id).Err(); err != nil {
		e.logger.Warn("releasing leadership failed", slog.Any("error", err))
	}

	e.logger.Info("lost leadership", slog.String("identity", e.id))
	onStoppedLeading()
}
