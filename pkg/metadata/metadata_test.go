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

package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchItems(t *testing.T) {
	var gotQuery map[string][]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/items/search/", r.URL.Path)
		gotQuery = r.URL.Query()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": []map[string]interface{}{
				{"id": "item-1", "name": "a.txt", "type": "file", "owner": "admin"},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL+"/v1/", srv.URL+"/v1/")
	items, err := c.SearchItems(context.Background(), SearchParams{
		Name:          "a.txt",
		ParentPath:    "admin/sub",
		ContainerCode: "proj",
		Zone:          0,
		Recursive:     false,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "item-1", items[0].ID)

	assert.Equal(t, []string{"a.txt"}, gotQuery["name"])
	assert.Equal(t, []string{"admin/sub"}, gotQuery["parent_path"])
	assert.Equal(t, []string{"proj"}, gotQuery["container_code"])
	assert.Equal(t, []string{"false"}, gotQuery["archived"])
	assert.Equal(t, []string{"0"}, gotQuery["zone"])
}

func TestSearchItemsOmitsEmptyParentPath(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": []interface{}{}})
	}))
	defer srv.Close()

	c := New(srv.URL+"/v1/", srv.URL+"/v1/")
	_, err := c.SearchItems(context.Background(), SearchParams{Name: "a.txt", ContainerCode: "proj"})
	require.NoError(t, err)
	_, present := gotQuery["parent_path"]
	assert.False(t, present)
}

func TestBatchCreateFolders(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/items/batch/", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL+"/v1/", srv.URL+"/v1/")
	items := []FolderItem{{ID: "f-1", Name: "sub", Type: "folder", ContainerCode: "proj", Tags: []string{}}}
	require.NoError(t, c.BatchCreateFolders(context.Background(), items, 0))

	assert.Equal(t, false, gotBody["link_container"])
	assert.Equal(t, float64(0), gotBody["zone"])
	require.Len(t, gotBody["items"], 1)

	sent := gotBody["items"].([]interface{})[0].(map[string]interface{})
	dcmID, present := sent["dcm_id"]
	assert.True(t, present)
	assert.Equal(t, "", dcmID)
}

func TestCreateFileData(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/filedata/", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{"id": "file-1", "name": "a.txt", "type": "file"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL+"/v1/", srv.URL+"/v1/")
	item, err := c.CreateFileData(context.Background(), FileData{
		Uploader:        "admin",
		FileName:        "a.txt",
		ProjectCode:     "proj",
		Bucket:          "gr-proj",
		MinioObjectPath: "admin/a.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, "file-1", item.ID)

	assert.Equal(t, "admin", gotBody["uploader"])
	assert.Equal(t, "admin/a.txt", gotBody["minio_object_path"])
	// omitempty keeps optional pipeline fields off the wire
	_, present := gotBody["process_pipeline"]
	assert.False(t, present)
}

func TestCreateFileDataFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL+"/v1/", srv.URL+"/v1/")
	_, err := c.CreateFileData(context.Background(), FileData{FileName: "a.txt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail to create data entity")
}

func TestSaveArchivePreview(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/archive", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL+"/v1/", srv.URL+"/v1/")
	preview := map[string]interface{}{"dir": map[string]interface{}{"is_dir": true}}
	require.NoError(t, c.SaveArchivePreview(context.Background(), "file-1", preview))

	assert.Equal(t, "file-1", gotBody["file_id"])
	assert.NotNil(t, gotBody["archive_preview"])
}
