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

// Package objstore adapts the upload core to an s3 compatible object store
// through the low-level multipart API of minio-go.
package objstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/PilotDataPlatform/upload/pkg/errtypes"
	"github.com/PilotDataPlatform/upload/pkg/sessions"
)

// Adapter wraps a shared minio core client. The client is safe for
// concurrent use per its contract.
type Adapter struct {
	core *minio.Core
}

// New returns an adapter connected to the given endpoint with static
// credentials.
func New(endpoint, accessKey, secretKey string, useHTTPS bool) (*Adapter, error) {
	core, err := minio.NewCore(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useHTTPS,
	})
	if err != nil {
		return nil, errors.Wrap(err, "objstore: failed to setup s3 client")
	}
	return &Adapter{core: core}, nil
}

// PrepareMultipartUpload initiates a multipart upload for every key and
// returns one upload id per key, in order. If any initiation fails, the ones
// already created are aborted best effort.
func (a *Adapter) PrepareMultipartUpload(ctx context.Context, bucket string, keys []string) ([]string, error) {
	uploadIDs := make([]string, 0, len(keys))
	for i, key := range keys {
		id, err := a.core.NewMultipartUpload(ctx, bucket, key, minio.PutObjectOptions{})
		if err != nil {
			for n, created := range uploadIDs {
				_ = a.core.AbortMultipartUpload(ctx, bucket, keys[n], created)
			}
			return nil, asTokenError(errors.Wrapf(err, "objstore: could not initiate upload for '%s' in bucket '%s'", keys[i], bucket))
		}
		uploadIDs = append(uploadIDs, id)
	}
	return uploadIDs, nil
}

// PartUpload forwards one chunk to the store and returns its part record.
func (a *Adapter) PartUpload(ctx context.Context, bucket, key, uploadID string, partNumber int, data []byte) (sessions.Part, error) {
	p, err := a.core.PutObjectPart(ctx, bucket, key, uploadID, partNumber,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectPartOptions{})
	if err != nil {
		return sessions.Part{}, errors.Wrapf(err, "objstore: could not upload part %d of '%s'", partNumber, key)
	}
	return sessions.Part{PartNumber: p.PartNumber, ETag: p.ETag}, nil
}

// CombineChunks completes the multipart upload from the given parts, which
// must be sorted ascending by part number. It returns the version id of the
// assembled object.
func (a *Adapter) CombineChunks(ctx context.Context, bucket, key, uploadID string, parts []sessions.Part) (string, error) {
	complete := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		complete = append(complete, minio.CompletePart{PartNumber: p.PartNumber, ETag: p.ETag})
	}
	info, err := a.core.CompleteMultipartUpload(ctx, bucket, key, uploadID, complete, minio.PutObjectOptions{})
	if err != nil {
		return "", errors.Wrapf(err, "objstore: could not combine %d parts of '%s'", len(parts), key)
	}
	return info.VersionID, nil
}

// DownloadObject fetches an object into dest, creating parent directories as
// needed.
func (a *Adapter) DownloadObject(ctx context.Context, bucket, key, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrapf(err, "objstore: could not create download dir for '%s'", dest)
	}
	if err := a.core.Client.FGetObject(ctx, bucket, key, dest, minio.GetObjectOptions{}); err != nil {
		return errors.Wrapf(err, "objstore: could not download object '%s' from bucket '%s'", key, bucket)
	}
	return nil
}

// StartHealthCheck begins background probing of the store endpoint. The
// returned cancel func stops the prober.
func (a *Adapter) StartHealthCheck() (context.CancelFunc, error) {
	return a.core.Client.HealthCheck(3 * time.Second)
}

// Online reports the last observed reachability of the store endpoint.
// Always false until StartHealthCheck has been called.
func (a *Adapter) Online() bool {
	return a.core.Client.IsOnline()
}

// asTokenError converts credential rejections into errtypes.TokenError so
// the coordinator can map them to a client error instead of a 500.
func asTokenError(err error) error {
	resp := minio.ToErrorResponse(errors.Cause(err))
	switch resp.Code {
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "AccessDenied":
		return errtypes.TokenError(resp.Message)
	}
	return err
}
