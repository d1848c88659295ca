package config

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	rdb     *redis.Client
	locker  *redislock.Client
	redisMu sync.RWMutex
)

// GetRedisDB returns nil until ConnectRedisWithRetry succeeds. Every helper in
// this file treats a nil client as "redis disabled".
func GetRedisDB() *redis.Client {
	redisMu.RLock()
	defer redisMu.RUnlock()
	return rdb
}

func GetRedisLock() *redislock.Client {
	redisMu.RLock()
	defer redisMu.RUnlock()
	return locker
}

func GetRedisValue(ctx context.Context, key string) (string, bool, error) {
	c := GetRedisDB()
	if c == nil {
		return "", false, nil
	}
	val, err := c.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

func RemoveRedisKey(ctx context.Context, keys ...string) error {
	c := GetRedisDB()
	if c == nil {
		return nil
	}
	_, err := c.Del(ctx, keys...).Result()
	return err
}

// SetRedisObject stores obj as JSON.
func SetRedisObject(ctx context.Context, key string, obj any, exp time.Duration) error {
	c := GetRedisDB()
	if c == nil {
		return nil
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, b, exp).Err()
}

// GetRedisObject decodes the JSON stored at key into result. It reports false
// when the key does not exist or redis is disabled.
func GetRedisObject(ctx context.Context, key string, result any) (bool, error) {
	val, ok, err := GetRedisValue(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(val), result); err != nil {
		return false, err
	}
	return true, nil
}

// IncrRedisCounter increments key and starts its expiry window on the first hit.
func IncrRedisCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	c := GetRedisDB()
	if c == nil {
		return 0, nil
	}
	count, err := c.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := c.Expire(ctx, key, window).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

// ConnectRedisWithRetry connects and sets the global Redis client + lock client.
// Call this from main() AFTER the HTTP server is listening. An empty address
// leaves redis disabled; a cancelled ctx stops the retry loop.
func ConnectRedisWithRetry(ctx context.Context, redisAddr string) {
	if redisAddr == "" {
		logg.WithFields(logrus.Fields{"field": "redis"}).Warn("REDIS_ADDRESS not set; rate limiting and credential cache disabled")
		return
	}

	var attempt int
	for {
		attempt++
		c := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: "",
			DB:       0, // use default DB
			PoolSize: 20,
		})
		err := c.Ping(ctx).Err()
		if err == nil {
			redisMu.Lock()
			rdb = c
			locker = redislock.New(c)
			redisMu.Unlock()
			logg.WithFields(logrus.Fields{
				"field":   "redis",
				"attempt": attempt,
				"addr":    redisAddr,
			}).Info("connected to redis")
			return
		}
		_ = c.Close()

		sleep := RetryDelay(attempt)
		logg.WithFields(logrus.Fields{
			"field":   "redis",
			"attempt": attempt,
			"addr":    redisAddr,
		}).Warn("failed to connect redis; retrying in " + sleep.String() + ": " + err.Error())
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// CloseRedis is best-effort.
func CloseRedis() {
	redisMu.Lock()
	defer redisMu.Unlock()
	if rdb != nil {
		_ = rdb.Close()
		rdb = nil
		locker = nil
	}
}
