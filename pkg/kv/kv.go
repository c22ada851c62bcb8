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

// Package kv provides the key-value store backing upload jobs and the chunk
// part ledger. Keys are colon-delimited namespaces with string values.
package kv

import "context"

// Store is the narrow key-value surface the upload core needs. The production
// implementation is Redis; tests use an in-memory fake.
type Store interface {
	// Get returns the value stored under key, or errtypes.NotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key, value string) error
	// MSet stores all pairs in a single pipelined round trip.
	MSet(ctx context.Context, pairs map[string]string) error
	// GetByPrefix returns the values of all keys matching the glob pattern
	// "{prefix}:*". The prefix itself may contain glob wildcards.
	GetByPrefix(ctx context.Context, prefix string) ([]string, error)
	// Delete removes a single key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
	// Close releases the underlying connection.
	Close() error
}
