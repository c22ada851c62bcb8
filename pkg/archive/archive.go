// Copyright 2018-2022 CERN
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

// Package archive builds directory-structure previews of uploaded archives.
package archive

import (
	"archive/zip"
	"strings"

	"github.com/pkg/errors"
)

// GeneratePreview walks a zip archive and returns its directory structure as
// a nested map. Directories map to {"is_dir": true, <children>...}; files map
// to {"filename", "size", "is_dir": false}.
func GeneratePreview(path string) (map[string]interface{}, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "archive: could not open zip file %s", path)
	}
	defer reader.Close()

	results := map[string]interface{}{}
	for _, file := range reader.File {
		name := file.Name
		isDir := strings.HasSuffix(name, "/")

		segments := strings.Split(strings.TrimSuffix(name, "/"), "/")
		filename := segments[len(segments)-1]

		// descend into the tree, creating directory nodes on the way
		current := results
		parents := segments[:len(segments)-1]
		for _, dir := range parents {
			if dir == "" {
				continue
			}
			child, ok := current[dir].(map[string]interface{})
			if !ok {
				child = map[string]interface{}{"is_dir": true}
				current[dir] = child
			}
			current = child
		}

		if isDir {
			if _, ok := current[filename].(map[string]interface{}); !ok {
				current[filename] = map[string]interface{}{"is_dir": true}
			}
			continue
		}
		current[filename] = map[string]interface{}{
			"filename": filename,
			"size":     file.UncompressedSize64,
			"is_dir":   false,
		}
	}
	return results, nil
}
