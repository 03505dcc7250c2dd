// Package kv wraps the shared Redis instance behind a circuit breaker.
// Every durable concern of the service (saves, API keys, stats, room
// snapshots) goes through this one client so connection pooling, breaker
// state, and operation metrics live in a single place.
package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/traybueno/watchtower-api/internal/v1/metrics"
)

// ErrNotFound reports a key (or hash field) that does not exist. Callers
// translate it to their own 404s; it never trips the circuit breaker.
var ErrNotFound = errors.New("kv: not found")

// Service is the Redis-backed store. Unlike an optional message bus, the
// store is a hard dependency: constructors fail instead of degrading, and
// operations return errors the caller must handle.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewService connects to Redis and verifies the connection with a ping.
func NewService(addr, password string) (*Service, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// A missing key is an answer, not an outage.
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("redis circuit breaker state change",
				"name", name,
				"from", from.String(),
				"to", to.String())
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(breakerStateValue(to))
			if to == gobreaker.StateOpen {
				metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			}
		},
	})
	metrics.CircuitBreakerState.WithLabelValues("redis").Set(breakerStateValue(gobreaker.StateClosed))

	slog.Info("connected to redis", "addr", addr)
	return &Service{client: client, cb: cb}, nil
}

// NewServiceFromClient wraps an existing client. Tests use it with miniredis.
func NewServiceFromClient(client *redis.Client) *Service {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
	})
	return &Service{client: client, cb: cb}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// execute routes one operation through the breaker and records its outcome.
func (s *Service) execute(op string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := s.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.KvOperations.WithLabelValues(op, "miss").Inc()
			return nil, ErrNotFound
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			slog.Warn("redis circuit breaker rejecting calls", "op", op)
		}
		metrics.KvOperations.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("redis %s: %w", op, err)
	}
	metrics.KvOperations.WithLabelValues(op, "success").Inc()
	return result, nil
}

// Get returns the raw value at key, or ErrNotFound.
func (s *Service) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.execute("get", func() (interface{}, error) {
		return s.client.Get(ctx, key).Bytes()
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// Set stores value at key with no expiry.
func (s *Service) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.execute("set", func() (interface{}, error) {
		return nil, s.client.Set(ctx, key, value, 0).Err()
	})
	return err
}

// SetWithTTL stores value at key with an expiry.
func (s *Service) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.execute("set", func() (interface{}, error) {
		return nil, s.client.Set(ctx, key, value, ttl).Err()
	})
	return err
}

// Delete removes keys. Removing an absent key is not an error.
func (s *Service) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.execute("del", func() (interface{}, error) {
		return nil, s.client.Del(ctx, keys...).Err()
	})
	return err
}

// Exists reports whether key is present.
func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	result, err := s.execute("exists", func() (interface{}, error) {
		return s.client.Exists(ctx, key).Result()
	})
	if err != nil {
		return false, err
	}
	return result.(int64) > 0, nil
}

// ScanKeys walks the keyspace with SCAN and returns every key matching
// pattern. Bounded in practice by the per-player save cap, so the result
// is collected rather than streamed.
func (s *Service) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	result, err := s.execute("scan", func() (interface{}, error) {
		var keys []string
		iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// HGetAll returns every field of the hash at key. A missing hash yields an
// empty map, matching Redis semantics.
func (s *Service) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	result, err := s.execute("hgetall", func() (interface{}, error) {
		return s.client.HGetAll(ctx, key).Result()
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]string), nil
}

// HSet writes fields into the hash at key.
func (s *Service) HSet(ctx context.Context, key string, fields map[string]interface{}) error {
	_, err := s.execute("hset", func() (interface{}, error) {
		return nil, s.client.HSet(ctx, key, fields).Err()
	})
	return err
}

// HSetNX writes field only if it is absent, reporting whether it wrote.
func (s *Service) HSetNX(ctx context.Context, key, field string, value interface{}) (bool, error) {
	result, err := s.execute("hsetnx", func() (interface{}, error) {
		return s.client.HSetNX(ctx, key, field, value).Result()
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// HIncrBy adjusts an integer hash field and returns the new value.
func (s *Service) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	result, err := s.execute("hincrby", func() (interface{}, error) {
		return s.client.HIncrBy(ctx, key, field, delta).Result()
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// decrFloorZero decrements a hash field but never below zero. Counters
// drift under crashes and replayed disconnects; the clamp keeps that
// drift from going negative.
var decrFloorZero = redis.NewScript(`
local v = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if v <= 0 then
  redis.call('HSET', KEYS[1], ARGV[1], '0')
  return 0
end
return redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
`)

// DecrFloorZero atomically decrements a hash field, clamping at zero, and
// returns the new value.
func (s *Service) DecrFloorZero(ctx context.Context, key, field string) (int64, error) {
	result, err := s.execute("decrfloor", func() (interface{}, error) {
		return decrFloorZero.Run(ctx, s.client, []string{key}, field).Int64()
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// SAddWithTTL adds member to the set at key and refreshes the key's expiry
// in one round trip. Returns true when the member was not already present.
func (s *Service) SAddWithTTL(ctx context.Context, key, member string, ttl time.Duration) (bool, error) {
	result, err := s.execute("sadd", func() (interface{}, error) {
		pipe := s.client.TxPipeline()
		added := pipe.SAdd(ctx, key, member)
		pipe.Expire(ctx, key, ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
		return added.Val(), nil
	})
	if err != nil {
		return false, err
	}
	return result.(int64) > 0, nil
}

// SCard returns the cardinality of the set at key.
func (s *Service) SCard(ctx context.Context, key string) (int64, error) {
	result, err := s.execute("scard", func() (interface{}, error) {
		return s.client.SCard(ctx, key).Result()
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// Ping checks connectivity. Health probes call it directly, bypassing the
// breaker so readiness reflects Redis itself rather than breaker state.
func (s *Service) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Service) Close() error {
	if s.client == nil {
		return nil
	}
	slog.Info("closing redis connection")
	return s.client.Close()
}
