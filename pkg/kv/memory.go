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
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/PilotDataPlatform/upload/pkg/errtypes"
)

// MemStore is an in-process Store used in tests. It honors the same glob
// semantics as the Redis SCAN pattern, including "*" wildcards inside the
// prefix.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMem returns an empty in-memory store.
func NewMem() *MemStore {
	return &MemStore{data: map[string]string{}}
}

// Get implements Store.
func (s *MemStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return "", errtypes.NotFound(key)
	}
	return v, nil
}

// Set implements Store.
func (s *MemStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// MSet implements Store.
func (s *MemStore) MSet(ctx context.Context, pairs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range pairs {
		s.data[k] = v
	}
	return nil
}

// GetByPrefix implements Store. Keys are matched against the glob pattern
// "{prefix}:*" and returned in key order for determinism.
func (s *MemStore) GetByPrefix(ctx context.Context, prefix string) ([]string, error) {
	re, err := globToRegexp(prefix + ":*")
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		if re.MatchString(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, s.data[k])
	}
	return values, nil
}

// Delete implements Store.
func (s *MemStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Ping implements Store.
func (s *MemStore) Ping(ctx context.Context) error { return nil }

// Close implements Store.
func (s *MemStore) Close() error { return nil }

// Len reports the number of stored keys.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func globToRegexp(pattern string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `.*`)
	return regexp.Compile("^" + escaped + "$")
}
