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

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

type fakeOnliner struct{ online bool }

func (f fakeOnliner) Online() bool { return f.online }

func probe(t *testing.T, svc *Service, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	svc.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestRoot(t *testing.T) {
	svc := New("service_upload", "1.0.0", fakePinger{}, fakeOnliner{online: true})
	w := probe(t, svc, "/")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, "service_upload", body["name"])
	assert.Equal(t, "1.0.0", body["version"])
}

func TestReadiness(t *testing.T) {
	tests := map[string]struct {
		pingErr error
		online  bool
		want    int
	}{
		"all healthy":    {nil, true, http.StatusNoContent},
		"store down":     {errors.New("connection refused"), true, http.StatusServiceUnavailable},
		"objstore down":  {nil, false, http.StatusServiceUnavailable},
		"everything off": {errors.New("connection refused"), false, http.StatusServiceUnavailable},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			svc := New("service_upload", "1.0.0", fakePinger{err: tc.pingErr}, fakeOnliner{online: tc.online})
			w := probe(t, svc, "/v1/health")
			assert.Equal(t, tc.want, w.Code)
		})
	}
}
