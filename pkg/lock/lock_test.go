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

package lock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PilotDataPlatform/upload/pkg/errtypes"
)

func TestLockUnlock(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL + "/v2/")

	require.NoError(t, c.Lock(context.Background(), "gr-proj/admin/a.txt", OperationWrite))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/v2/resource/lock/", gotPath)
	assert.Equal(t, "gr-proj/admin/a.txt", gotBody["resource_key"])
	assert.Equal(t, "write", gotBody["operation"])

	require.NoError(t, c.Unlock(context.Background(), "gr-proj/admin/a.txt", OperationWrite))
	assert.Equal(t, http.MethodDelete, gotMethod)
}

func TestBulkLock(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL + "/v2/")
	keys := []string{"gr-proj/admin/a.txt", "gr-proj/admin/b.txt"}
	require.NoError(t, c.BulkLock(context.Background(), keys, OperationWrite))

	assert.Equal(t, "/v2/resource/lock/bulk", gotPath)
	assert.Equal(t, []interface{}{"gr-proj/admin/a.txt", "gr-proj/admin/b.txt"}, gotBody["resource_keys"])
}

func TestLockContention(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := New(srv.URL + "/v2/")
	err := c.Lock(context.Background(), "gr-proj/admin/a.txt", OperationWrite)
	require.Error(t, err)
	assert.IsType(t, errtypes.AlreadyInUse(""), err)
	assert.Equal(t, "resource gr-proj/admin/a.txt already in used", err.Error())
}
