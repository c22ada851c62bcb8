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

package objstore

import (
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PilotDataPlatform/upload/pkg/errtypes"
)

func TestAsTokenError(t *testing.T) {
	tests := map[string]struct {
		code    string
		isToken bool
	}{
		"invalid access key":      {"InvalidAccessKeyId", true},
		"signature mismatch":      {"SignatureDoesNotMatch", true},
		"access denied":           {"AccessDenied", true},
		"unrelated store failure": {"NoSuchBucket", false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cause := minio.ErrorResponse{Code: tc.code, Message: "rejected"}
			err := asTokenError(errors.Wrap(cause, "objstore: request failed"))
			if tc.isToken {
				assert.IsType(t, errtypes.TokenError(""), err)
				assert.Equal(t, "rejected", err.Error())
			} else {
				assert.NotEqual(t, errtypes.TokenError("rejected"), err)
				assert.Contains(t, err.Error(), "request failed")
			}
		})
	}
}

func TestNewRejectsBadEndpoint(t *testing.T) {
	_, err := New("http://host with spaces", "ak", "sk", false)
	require.Error(t, err)
}
