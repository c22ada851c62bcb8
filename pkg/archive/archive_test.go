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

package archive

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range entries {
		if content == "" && name[len(name)-1] == '/' {
			_, err := w.Create(name)
			require.NoError(t, err)
			continue
		}
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return path
}

func TestGeneratePreview(t *testing.T) {
	path := writeZip(t, map[string]string{
		"readme.txt":        "hello",
		"data/samples.csv":  "a,b,c",
		"data/sub/deep.bin": "xxxx",
		"empty/":            "",
	})

	preview, err := GeneratePreview(path)
	require.NoError(t, err)

	readme, ok := preview["readme.txt"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "readme.txt", readme["filename"])
	assert.Equal(t, uint64(5), readme["size"])
	assert.Equal(t, false, readme["is_dir"])

	data, ok := preview["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["is_dir"])

	sub, ok := data["sub"].(map[string]interface{})
	require.True(t, ok)
	deep, ok := sub["deep.bin"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, uint64(4), deep["size"])

	empty, ok := preview["empty"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, empty["is_dir"])
}

func TestGeneratePreviewMissingFile(t *testing.T) {
	_, err := GeneratePreview(filepath.Join(t.TempDir(), "nope.zip"))
	require.Error(t, err)
}
