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

	"github.com/PilotDataPlatform/upload/pkg/errtypes"
	"github.com/PilotDataPlatform/upload/pkg/kv"
)

func TestKeyFormat(t *testing.T) {
	key := Key("sess-1", "upl-1", Action, "proj", "admin", "/a.txt")
	assert.Equal(t, "dataaction:sess-1:Container:upl-1:data_upload:proj:admin:/a.txt", key)
}

func TestCanTransition(t *testing.T) {
	tests := map[string]struct {
		from, to Status
		ok       bool
	}{
		"init to pre-uploaded":          {StatusInit, StatusPreUploaded, true},
		"pre-uploaded to chunk":         {StatusPreUploaded, StatusChunkUploaded, true},
		"chunk to finalized":            {StatusChunkUploaded, StatusFinalized, true},
		"finalized to succeed":          {StatusFinalized, StatusSucceed, true},
		"skip a state":                  {StatusInit, StatusChunkUploaded, false},
		"backwards":                     {StatusChunkUploaded, StatusPreUploaded, false},
		"terminate from init":           {StatusInit, StatusTerminated, true},
		"terminate from finalized":      {StatusFinalized, StatusTerminated, true},
		"repeat combine":                {StatusChunkUploaded, StatusChunkUploaded, true},
		"succeed is terminal":           {StatusSucceed, StatusTerminated, false},
		"terminated is terminal":        {StatusTerminated, StatusChunkUploaded, false},
		"terminated stays terminated":   {StatusTerminated, StatusTerminated, false},
		"no resurrection after succeed": {StatusSucceed, StatusSucceed, false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to))
		})
	}
}

func TestEntryPreconditions(t *testing.T) {
	store := kv.NewMem()

	j := New(store, "sess", "proj", "admin")
	_, _, err := j.Entry()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job_id not provided")

	j.SetJobID("upl-1")
	_, _, err = j.Entry()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source not provided")

	j.SetSource("/a.txt")
	key, value, err := j.Entry()
	require.NoError(t, err)
	assert.Equal(t, "dataaction:sess:Container:upl-1:data_upload:proj:admin:/a.txt", key)
	assert.Contains(t, value, `"status":"INIT"`)
}

func TestSourceSetOnce(t *testing.T) {
	j := New(kv.NewMem(), "sess", "proj", "admin")
	j.SetSource("first/path.txt")
	j.SetSource("second/path.txt")
	assert.Equal(t, "first/path.txt", j.Record().Source)
}

func TestSetStatusPersists(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMem()

	j := New(store, "sess", "proj", "admin")
	j.SetJobID("upl-1")
	j.SetSource("/a.txt")

	rec, err := j.SetStatus(ctx, StatusPreUploaded)
	require.NoError(t, err)
	assert.Equal(t, StatusPreUploaded, rec.Status)
	assert.NotEmpty(t, rec.UpdateTimestamp)

	loaded, err := Open(ctx, store, "sess", "proj", "admin", "upl-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPreUploaded, loaded.Status())
}

func TestSetStatusIllegal(t *testing.T) {
	ctx := context.Background()
	j := New(kv.NewMem(), "sess", "proj", "admin")
	j.SetJobID("upl-1")
	j.SetSource("/a.txt")

	_, err := j.SetStatus(ctx, StatusFinalized)
	require.Error(t, err)
	assert.IsType(t, errtypes.BadRequest(""), err)
}

func TestOpenNotFound(t *testing.T) {
	_, err := Open(context.Background(), kv.NewMem(), "sess", "proj", "admin", "upl-x")
	require.Error(t, err)
	assert.IsType(t, errtypes.NotFound(""), err)
	assert.Equal(t, "[SessionJob] Not found job: upl-x", err.Error())
}

func TestSaveBatch(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMem()

	var jobs []*Job
	for _, src := range []string{"/a.txt", "sub/b.txt"} {
		j := New(store, "sess", "proj", "admin")
		j.SetJobID("upl-" + src)
		j.SetSource(src)
		jobs = append(jobs, j)
	}

	recs, err := SaveBatch(ctx, store, jobs, StatusPreUploaded)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, StatusPreUploaded, rec.Status)
	}
	assert.Equal(t, 2, store.Len())
}

func TestGetStatusWildcards(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMem()

	j := New(store, "sess", "proj", "admin")
	j.SetJobID("upl-1")
	j.SetSource("folder/a.txt")
	_, err := j.SetStatus(ctx, StatusPreUploaded)
	require.NoError(t, err)

	// wildcard project and operator
	recs, err := GetStatus(ctx, store, "sess", "upl-1", "*", "*")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "folder/a.txt", recs[0].Source)
	assert.Equal(t, "proj", recs[0].ProjectCode)

	// exact match
	recs, err = GetStatus(ctx, store, "sess", "upl-1", "proj", "admin")
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	// wrong session isolates
	recs, err = GetStatus(ctx, store, "other", "upl-1", "*", "*")
	require.NoError(t, err)
	assert.Empty(t, recs)
}
