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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PilotDataPlatform/upload/pkg/kv"
)

func TestPartLedgerOrdering(t *testing.T) {
	ctx := context.Background()
	ledger := NewPartLedger(kv.NewMem())

	// record out of order, as concurrent chunk uploads would
	for _, p := range []Part{
		{PartNumber: 3, ETag: "c"},
		{PartNumber: 1, ETag: "a"},
		{PartNumber: 2, ETag: "b"},
	} {
		require.NoError(t, ledger.Record(ctx, "upl-1", p))
	}

	parts, err := ledger.List(ctx, "upl-1")
	require.NoError(t, err)
	assert.Equal(t, []Part{
		{PartNumber: 1, ETag: "a"},
		{PartNumber: 2, ETag: "b"},
		{PartNumber: 3, ETag: "c"},
	}, parts)
}

func TestPartLedgerOverwrite(t *testing.T) {
	ctx := context.Background()
	ledger := NewPartLedger(kv.NewMem())

	require.NoError(t, ledger.Record(ctx, "upl-1", Part{PartNumber: 1, ETag: "old"}))
	require.NoError(t, ledger.Record(ctx, "upl-1", Part{PartNumber: 1, ETag: "new"}))

	parts, err := ledger.List(ctx, "upl-1")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "new", parts[0].ETag)
}

func TestPartLedgerIsolatesUploads(t *testing.T) {
	ctx := context.Background()
	ledger := NewPartLedger(kv.NewMem())

	require.NoError(t, ledger.Record(ctx, "upl-1", Part{PartNumber: 1, ETag: "a"}))
	require.NoError(t, ledger.Record(ctx, "upl-2", Part{PartNumber: 1, ETag: "b"}))

	parts, err := ledger.List(ctx, "upl-1")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "a", parts[0].ETag)
}
