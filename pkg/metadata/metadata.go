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

// Package metadata is the client of the metadata catalog and the dataops
// utility. The catalog answers item existence queries and owns folder/file
// items; the dataops utility registers uploaded file entities and stores
// archive previews.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

// Item is a catalog item, either a file or a folder.
type Item struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ParentPath    string `json:"parent_path"`
	Type          string `json:"type"`
	Zone          int    `json:"zone"`
	Owner         string `json:"owner"`
	ContainerCode string `json:"container_code"`
	ContainerType string `json:"container_type"`
}

// SearchParams selects items by identity within a container.
type SearchParams struct {
	Name          string
	ParentPath    string
	ContainerCode string
	Archived      bool
	Zone          int
	Recursive     bool
}

// FolderItem is the creation payload of one folder node for the batch API.
type FolderItem struct {
	ID            string   `json:"id"`
	Parent        string   `json:"parent"`
	ParentPath    string   `json:"parent_path"`
	Type          string   `json:"type"`
	Zone          int      `json:"zone"`
	Name          string   `json:"name"`
	Size          int      `json:"size"`
	Owner         string   `json:"owner"`
	ContainerCode string   `json:"container_code"`
	ContainerType string   `json:"container_type"`
	LocationURI   string   `json:"location_uri"`
	Version       string   `json:"version"`
	Tags          []string `json:"tags"`
	DcmID         string   `json:"dcm_id"`
}

// FileData is the registration payload of an uploaded file.
type FileData struct {
	Uploader         string   `json:"uploader"`
	FileName         string   `json:"file_name"`
	Path             string   `json:"path"`
	FileSize         int64    `json:"file_size"`
	Description      string   `json:"description"`
	Namespace        string   `json:"namespace"`
	ProjectCode      string   `json:"project_code"`
	Labels           []string `json:"labels"`
	ParentFolderGeid string   `json:"parent_folder_geid"`
	Bucket           string   `json:"bucket"`
	MinioObjectPath  string   `json:"minio_object_path"`
	VersionID        string   `json:"version_id"`
	Operator         string   `json:"operator,omitempty"`
	ProcessPipeline  string   `json:"process_pipeline,omitempty"`
	ParentQuery      []string `json:"parent_query,omitempty"`
}

// Client talks to both services. catalogURL and dataopsURL are the versioned
// v1 base URLs.
type Client struct {
	http       *retryablehttp.Client
	catalogURL string
	dataopsURL string
}

// New returns a metadata client.
func New(catalogURL, dataopsURL string) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.Logger = nil
	c.HTTPClient.Timeout = 3600 * time.Second
	return &Client{http: c, catalogURL: catalogURL, dataopsURL: dataopsURL}
}

// SearchItems queries the catalog for items matching the given identity.
func (c *Client) SearchItems(ctx context.Context, p SearchParams) ([]Item, error) {
	q := url.Values{}
	q.Set("name", p.Name)
	q.Set("container_code", p.ContainerCode)
	q.Set("archived", strconv.FormatBool(p.Archived))
	q.Set("zone", strconv.Itoa(p.Zone))
	q.Set("recursive", strconv.FormatBool(p.Recursive))
	if p.ParentPath != "" {
		q.Set("parent_path", p.ParentPath)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.catalogURL+"items/search/?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "metadata: error building search request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "metadata: error searching items")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("metadata: item search returned status %d", resp.StatusCode)
	}

	var out struct {
		Result []Item `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "metadata: error decoding search response")
	}
	return out.Result, nil
}

// BatchCreateFolders creates all folder items in one catalog call. The
// timeout is short; folder batches are small and the caller holds locks on
// every new folder while this runs.
func (c *Client) BatchCreateFolders(ctx context.Context, items []FolderItem, zone int) error {
	body := map[string]interface{}{
		"items":          items,
		"zone":           zone,
		"link_container": false,
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := c.post(ctx, c.catalogURL+"items/batch/", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Errorf("metadata: fail to create folder items, status %d: %s", resp.StatusCode, detail)
	}
	return nil
}

// CreateFileData registers the uploaded file with the dataops utility and
// returns the created entity.
func (c *Client) CreateFileData(ctx context.Context, fd FileData) (Item, error) {
	resp, err := c.post(ctx, c.dataopsURL+"filedata/", fd)
	if err != nil {
		return Item{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Item{}, errors.Errorf("metadata: fail to create data entity, status %d: %s", resp.StatusCode, detail)
	}

	var out struct {
		Result Item `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Item{}, errors.Wrap(err, "metadata: error decoding filedata response")
	}
	return out.Result, nil
}

// SaveArchivePreview stores the directory structure of an uploaded archive
// for the given file entity.
func (c *Client) SaveArchivePreview(ctx context.Context, fileID string, preview map[string]interface{}) error {
	body := map[string]interface{}{
		"archive_preview": preview,
		"file_id":         fileID,
	}
	resp, err := c.post(ctx, c.dataopsURL+"archive", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("metadata: fail to save archive preview for %s, status %d", fileID, resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, body interface{}) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "metadata: error serializing request")
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "metadata: error building request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "metadata: error calling %s", url)
	}
	return resp, nil
}

// String implements fmt.Stringer for debug logging.
func (p SearchParams) String() string {
	return fmt.Sprintf("name=%s parent_path=%s container=%s zone=%d", p.Name, p.ParentPath, p.ContainerCode, p.Zone)
}
