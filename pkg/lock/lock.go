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

// Package lock acquires and releases named write-locks over resource keys
// against the external lock service. A lock key is "{bucket}/{object_path}"
// and serializes operations on a single logical file.
package lock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/PilotDataPlatform/upload/pkg/errtypes"
)

// OperationWrite is the lock operation used for uploads.
const OperationWrite = "write"

// Client talks to the resource lock API of the dataops service.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
}

// New returns a lock client rooted at the v2 dataops base URL.
func New(baseURL string) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.Logger = nil
	c.HTTPClient.Timeout = 3600 * time.Second
	return &Client{http: c, baseURL: baseURL}
}

type lockRequest struct {
	ResourceKey string `json:"resource_key"`
	Operation   string `json:"operation"`
}

type bulkLockRequest struct {
	ResourceKeys []string `json:"resource_keys"`
	Operation    string   `json:"operation"`
}

// Lock acquires a single lock. A non-200 reply means the resource is held.
func (c *Client) Lock(ctx context.Context, resourceKey, operation string) error {
	return c.single(ctx, http.MethodPost, resourceKey, operation)
}

// Unlock releases a single lock.
func (c *Client) Unlock(ctx context.Context, resourceKey, operation string) error {
	return c.single(ctx, http.MethodDelete, resourceKey, operation)
}

// BulkLock acquires locks on all keys in one call. The lock service treats
// the batch as all-or-nothing, so no partial rollback is needed on failure.
func (c *Client) BulkLock(ctx context.Context, resourceKeys []string, operation string) error {
	return c.bulk(ctx, http.MethodPost, resourceKeys, operation)
}

// BulkUnlock releases locks on all keys in one call.
func (c *Client) BulkUnlock(ctx context.Context, resourceKeys []string, operation string) error {
	return c.bulk(ctx, http.MethodDelete, resourceKeys, operation)
}

func (c *Client) single(ctx context.Context, method, resourceKey, operation string) error {
	return c.do(ctx, method, "resource/lock/",
		lockRequest{ResourceKey: resourceKey, Operation: operation}, resourceKey)
}

func (c *Client) bulk(ctx context.Context, method string, resourceKeys []string, operation string) error {
	return c.do(ctx, method, "resource/lock/bulk",
		bulkLockRequest{ResourceKeys: resourceKeys, Operation: operation},
		fmt.Sprintf("%v", resourceKeys))
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, keyHint string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "lock: error serializing request")
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "lock: error building request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "lock: error calling lock service for %s", keyHint)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errtypes.AlreadyInUse(fmt.Sprintf("resource %s already in used", keyHint))
	}
	return nil
}
