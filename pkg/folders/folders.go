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

// Package folders materializes folder trees in the metadata catalog.
//
// Given a relative path like "a/b/c" it resolves every ancestor against a
// process-local cache, then the catalog, and batch-creates whatever is
// missing. The cache is a hint: it is bounded, lossy and safe under
// concurrent use, and a miss only costs a redundant catalog round trip.
package folders

import (
	"context"
	"path"
	"strings"

	"github.com/bluele/gcache"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/PilotDataPlatform/upload/pkg/metadata"
)

// cacheSize bounds the folder hint cache.
const cacheSize = 128

// Catalog is the subset of the metadata client the materializer needs.
type Catalog interface {
	SearchItems(ctx context.Context, p metadata.SearchParams) ([]metadata.Item, error)
	BatchCreateFolders(ctx context.Context, items []metadata.FolderItem, zone int) error
}

// Locker guards newly created folders against concurrent materialization.
type Locker interface {
	BulkLock(ctx context.Context, resourceKeys []string, operation string) error
	BulkUnlock(ctx context.Context, resourceKeys []string, operation string) error
}

// Node is one resolved folder of the tree.
type Node struct {
	ID           string
	Name         string
	RelativePath string // parent path, empty for level-0 nodes
	ParentID     string
	ParentName   string
	Owner        string
	ProjectCode  string
	Exists       bool
}

// Materializer resolves and creates folder trees for one zone.
type Materializer struct {
	catalog      Catalog
	locks        Locker
	cache        gcache.Cache
	zone         int
	namespace    string
	bucketPrefix string
}

// NewMaterializer returns a materializer for the given zone.
func NewMaterializer(catalog Catalog, locks Locker, zone int, namespace, bucketPrefix string) *Materializer {
	return &Materializer{
		catalog:      catalog,
		locks:        locks,
		cache:        gcache.New(cacheSize).LRU().Build(),
		zone:         zone,
		namespace:    namespace,
		bucketPrefix: bucketPrefix,
	}
}

func (m *Materializer) cacheKey(projectCode, relativePath, name string) string {
	return path.Join(m.namespace, projectCode, relativePath, name)
}

// EnsureTree resolves every segment of relativePath under the project and
// batch-creates the missing ones, returning the leaf folder. A nil node is
// returned for an empty path (file sits directly under a level-0 folder that
// is part of the path). Level-0 folders must already exist.
func (m *Materializer) EnsureTree(ctx context.Context, projectCode, relativePath, owner string) (*Node, error) {
	if relativePath == "" {
		return nil, nil
	}

	segments := strings.Split(relativePath, "/")
	chain := make([]*Node, 0, len(segments))
	var toCreate []metadata.FolderItem

	for level, name := range segments {
		folderRelPath := strings.Join(segments[:level], "/")
		node, err := m.resolve(ctx, projectCode, folderRelPath, name, owner)
		if err != nil {
			return nil, err
		}
		if !node.Exists {
			if level == 0 {
				return nil, errors.New("folders: cannot create folder directly under project node")
			}
			parent := chain[level-1]
			node.ParentID = parent.ID
			node.ParentName = parent.Name
			toCreate = append(toCreate, metadata.FolderItem{
				ID:            node.ID,
				Parent:        node.ParentID,
				ParentPath:    node.RelativePath,
				Type:          "folder",
				Zone:          m.zone,
				Name:          node.Name,
				Size:          0,
				Owner:         node.Owner,
				ContainerCode: node.ProjectCode,
				ContainerType: "project",
				LocationURI:   "",
				Version:       "",
				Tags:          []string{},
				DcmID:         "",
			})
		}
		chain = append(chain, node)
	}

	if len(toCreate) > 0 {
		if err := m.createBatch(ctx, toCreate); err != nil {
			return nil, err
		}
		// new nodes become cacheable only once the catalog has them
		for _, node := range chain {
			if !node.Exists {
				_ = m.cache.Set(m.cacheKey(node.ProjectCode, node.RelativePath, node.Name), *node)
			}
		}
	}
	return chain[len(chain)-1], nil
}

// resolve finds one folder node through cache, then catalog, and otherwise
// allocates a fresh id for later creation.
func (m *Materializer) resolve(ctx context.Context, projectCode, folderRelPath, name, owner string) (*Node, error) {
	key := m.cacheKey(projectCode, folderRelPath, name)
	if cached, err := m.cache.Get(key); err == nil {
		node := cached.(Node)
		// a hit means the node is already known, creation can be skipped
		node.Exists = true
		return &node, nil
	}

	params := metadata.SearchParams{
		Name:          name,
		ContainerCode: projectCode,
		Archived:      false,
		Zone:          m.zone,
		Recursive:     true,
		ParentPath:    folderRelPath,
	}
	items, err := m.catalog.SearchItems(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "folders: error resolving folder %s", key)
	}

	node := &Node{
		Name:         name,
		RelativePath: folderRelPath,
		Owner:        owner,
		ProjectCode:  projectCode,
	}
	if len(items) > 0 {
		node.ID = items[0].ID
		node.Owner = items[0].Owner
		node.Exists = true
		// only nodes the catalog confirmed may enter the cache; fresh ids
		// are cached after their batch create succeeds
		_ = m.cache.Set(key, *node)
	} else {
		node.ID = uuid.NewString()
	}
	return node, nil
}

// createBatch locks the new folder keys, creates them in one catalog call and
// releases the locks. A lock conflict propagates untouched so the caller can
// surface contention; any other failure still releases the locks.
func (m *Materializer) createBatch(ctx context.Context, items []metadata.FolderItem) error {
	lockKeys := make([]string, 0, len(items))
	for _, item := range items {
		bucket := m.bucketPrefix + item.ContainerCode
		lockKeys = append(lockKeys, bucket+"/"+path.Join(item.ParentPath, item.Name))
	}

	if err := m.locks.BulkLock(ctx, lockKeys, "write"); err != nil {
		return err
	}
	if err := m.catalog.BatchCreateFolders(ctx, items, m.zone); err != nil {
		_ = m.locks.BulkUnlock(ctx, lockKeys, "write")
		return errors.Wrap(err, "folders: error creating folder tree")
	}
	return m.locks.BulkUnlock(ctx, lockKeys, "write")
}
