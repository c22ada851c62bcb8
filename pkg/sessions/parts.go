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

package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/PilotDataPlatform/upload/pkg/kv"
)

// Part identifies one uploaded chunk of a multipart upload. The field names
// mirror the object store's completion API.
type Part struct {
	PartNumber int    `json:"PartNumber"`
	ETag       string `json:"ETag"`
}

// PartLedger accumulates part identifiers under the upload id namespace.
// Chunk requests may arrive concurrently and in any order; each write is an
// idempotent overwrite of the unique key "{uploadID}:{partNumber}", so no
// coordination is needed until finalize time.
type PartLedger struct {
	store kv.Store
}

// NewPartLedger returns a ledger on the given store.
func NewPartLedger(store kv.Store) *PartLedger {
	return &PartLedger{store: store}
}

// Record stores the identifier of one uploaded part.
func (l *PartLedger) Record(ctx context.Context, uploadID string, p Part) error {
	value, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "sessions: error serializing part record")
	}
	key := fmt.Sprintf("%s:%d", uploadID, p.PartNumber)
	return l.store.Set(ctx, key, string(value))
}

// List returns all recorded parts of an upload sorted ascending by part
// number, the order the object store requires for completion.
func (l *PartLedger) List(ctx context.Context, uploadID string) ([]Part, error) {
	values, err := l.store.GetByPrefix(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	parts := make([]Part, 0, len(values))
	for _, v := range values {
		var p Part
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, errors.Wrap(err, "sessions: error deserializing part record")
		}
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts, nil
}
