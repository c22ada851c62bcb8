// Copyright 2018-2023 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

package kv

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/PilotDataPlatform/upload/pkg/errtypes"
)

// Options configures the Redis-backed store.
type Options struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// RedisStore implements Store on a single Redis connection. The client is
// safe for concurrent use and is shared across all requests.
type RedisStore struct {
	c *redis.Client
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(opts Options) (*RedisStore, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrapf(err, "kv: could not connect to redis at %s", opts.Addr)
	}
	return &RedisStore{c: c}, nil
}

// Get returns the value stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.c.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", errtypes.NotFound(key)
	}
	if err != nil {
		return "", errors.Wrapf(err, "kv: error reading key %s", key)
	}
	return v, nil
}

// Set stores value under key without expiry; housekeeping of stale jobs is
// left to an external reaper.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.c.Set(ctx, key, value, 0).Err(); err != nil {
		return errors.Wrapf(err, "kv: error writing key %s", key)
	}
	return nil
}

// MSet writes all pairs through a single pipeline.
func (s *RedisStore) MSet(ctx context.Context, pairs map[string]string) error {
	pipe := s.c.Pipeline()
	for k, v := range pairs {
		pipe.Set(ctx, k, v, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "kv: error executing pipelined set")
	}
	return nil
}

// GetByPrefix scans for keys matching "{prefix}:*" and fetches their values
// in one MGET. SCAN is used instead of KEYS to keep the server responsive.
func (s *RedisStore) GetByPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.c.Scan(ctx, 0, prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrapf(err, "kv: error scanning prefix %s", prefix)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	raw, err := s.c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "kv: error fetching %d keys", len(keys))
	}
	values := make([]string, 0, len(raw))
	for _, r := range raw {
		if v, ok := r.(string); ok {
			values = append(values, v)
		}
	}
	return values, nil
}

// Delete removes a single key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.c.Del(ctx, key).Err(); err != nil {
		return errors.Wrapf(err, "kv: error deleting key %s", key)
	}
	return nil
}

// Ping verifies the connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.c.Ping(ctx).Err()
}

// Close releases the underlying connection.
func (s *RedisStore) Close() error {
	return s.c.Close()
}
