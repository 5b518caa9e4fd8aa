package gc

import (
	"context"
	"fmt"
	"time"

	"github.com/kohakuhub/hub/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Locker serializes cleanup_lfs_object runs for the same (repo, path) so
// two commits landing at nearly the same time don't both decide the old
// oid is unreferenced and race each other's delete. When Redis is
// disabled the zero-value Locker is a no-op: every Lock call succeeds
// immediately and nothing actually serializes, which is acceptable for a
// single-process deployment.
type Locker struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewLocker(cfg config.Redis, logger *logrus.Logger) (*Locker, error) {
	if !cfg.Enabled {
		logger.Info("gc: redis lock disabled, GC cleanup runs without a lock")
		return &Locker{logger: logger}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("gc: connect to redis: %w", err)
	}

	return &Locker{client: client, logger: logger}, nil
}

func (l *Locker) enabled() bool {
	return l.client != nil
}

func lockKey(repoID uint, path string) string {
	return fmt.Sprintf("gc:lock:%d:%s", repoID, path)
}

// Lock attempts to take an exclusive, TTL-bounded lock for (repoID, path).
// It returns a release func; callers must defer it. If the lock is held
// elsewhere, ok is false and cleanup should be skipped — the holder will
// run it.
func (l *Locker) Lock(ctx context.Context, repoID uint, path string, ttl time.Duration) (release func(), ok bool, err error) {
	if !l.enabled() {
		return func() {}, true, nil
	}

	key := lockKey(repoID, path)
	token := fmt.Sprintf("%d", time.Now().UnixNano())
	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("gc: acquire lock %s: %w", key, err)
	}
	if !acquired {
		return func() {}, false, nil
	}

	release = func() {
		delCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if v, err := l.client.Get(delCtx, key).Result(); err == nil && v == token {
			l.client.Del(delCtx, key)
		}
	}
	return release, true, nil
}

func (l *Locker) Close() error {
	if l.client != nil {
		return l.client.Close()
	}
	return nil
}
