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

// Package health exposes the liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Pinger is the readiness surface of the session store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Onliner reports object-store reachability.
type Onliner interface {
	Online() bool
}

// Service answers health probes.
type Service struct {
	name    string
	version string
	store   Pinger
	obj     Onliner
}

// New returns a health service over the given dependencies.
func New(name, version string, store Pinger, obj Onliner) *Service {
	return &Service{name: name, version: version, store: store, obj: obj}
}

// Routes returns the health router, mounted at the server root.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", s.root)
	r.Get("/v1/health", s.readiness)
	return r
}

// root is the liveness probe, alive as long as the process serves HTTP.
func (s *Service) root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "OK",
		"name":    s.name,
		"version": s.version,
	})
}

// readiness replies 204 only when both the session store and the object
// store are reachable.
func (s *Service) readiness(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		http.Error(w, "session store unreachable", http.StatusServiceUnavailable)
		return
	}
	if !s.obj.Online() {
		http.Error(w, "object store unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
