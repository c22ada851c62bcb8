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

// Package project verifies project codes against the project registry.
// Lookups are cached process-locally; project records change rarely and a
// stale positive only delays a 404 by the cache TTL.
package project

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/jellydator/ttlcache/v2"
	"github.com/pkg/errors"

	"github.com/PilotDataPlatform/upload/pkg/errtypes"
)

// Project is the registry record of a project.
type Project struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Client queries the project registry.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	cache   *ttlcache.Cache
}

// New returns a project client rooted at the registry base URL.
func New(baseURL string) *Client {
	h := retryablehttp.NewClient()
	h.RetryMax = 2
	h.Logger = nil
	h.HTTPClient.Timeout = 30 * time.Second

	cache := ttlcache.NewCache()
	_ = cache.SetTTL(5 * time.Minute)

	return &Client{
		http:    h,
		baseURL: strings.TrimRight(baseURL, "/"),
		cache:   cache,
	}
}

// Get fetches a project by code, or errtypes.NotFound when the registry does
// not know it.
func (c *Client) Get(ctx context.Context, code string) (*Project, error) {
	if cached, err := c.cache.Get(code); err == nil {
		p := cached.(Project)
		return &p, nil
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/projects/"+code, nil)
	if err != nil {
		return nil, errors.Wrap(err, "project: error building request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "project: error querying project %s", code)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errtypes.NotFound(fmt.Sprintf("Project %s is not found", code))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("project: registry returned status %d for %s", resp.StatusCode, code)
	}

	var p Project
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, errors.Wrap(err, "project: error decoding project response")
	}
	_ = c.cache.Set(code, p)
	return &p, nil
}

// Close releases the cache janitor.
func (c *Client) Close() {
	_ = c.cache.Close()
}
