// Copyright 2018-2024 CERN
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

package upload

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/PilotDataPlatform/upload/pkg/archive"
	"github.com/PilotDataPlatform/upload/pkg/errtypes"
	"github.com/PilotDataPlatform/upload/pkg/events"
	"github.com/PilotDataPlatform/upload/pkg/lock"
	"github.com/PilotDataPlatform/upload/pkg/metadata"
	"github.com/PilotDataPlatform/upload/pkg/sessions"
)

// finalizeTask carries everything the finalizer needs; it never reads the
// original request again.
type finalizeTask struct {
	sessionID       string
	projectCode     string
	operator        string
	uploadID        string
	filename        string
	relativePath    string
	totalSize       int64
	tags            []string
	processPipeline string
	fromParents     []string
}

// pool runs finalize tasks on a fixed set of workers. Submission blocks when
// the queue is full, which pushes backpressure onto the combine endpoint
// instead of growing goroutines without bound.
type pool struct {
	tasks chan finalizeTask
	run   func(finalizeTask)
	size  int
	log   zerolog.Logger
	wg    sync.WaitGroup
}

func newPool(workers, queue int, log zerolog.Logger, run func(finalizeTask)) *pool {
	return &pool{
		tasks: make(chan finalizeTask, queue),
		run:   run,
		size:  workers,
		log:   log,
	}
}

func (p *pool) start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for t := range p.tasks {
				p.run(t)
			}
		}()
	}
}

func (p *pool) submit(t finalizeTask) {
	p.tasks <- t
}

// stop drains queued tasks and waits for running ones.
func (p *pool) stop() {
	close(p.tasks)
	p.wg.Wait()
}

// finalize assembles the uploaded parts into the final object, registers it
// with the catalog, emits the activity log and drives the job to SUCCEED.
// Any failure terminates the job; the write-lock and the scratch directory
// are always released.
func (s *Service) finalize(t finalizeTask) {
	ctx := context.Background()
	log := s.log.With().Str("upload_id", t.uploadID).Str("project", t.projectCode).Logger()

	job, err := sessions.Open(ctx, s.store, t.sessionID, t.projectCode, t.operator, t.uploadID)
	if err != nil {
		log.Error().Err(err).Msg("finalize: job not found")
		return
	}

	bucket := s.conf.Bucket(t.projectCode)
	lockKey := path.Join(bucket, t.relativePath, t.filename)
	tempDir := filepath.Join(s.conf.TempBase(), t.uploadID)

	defer func() {
		if err := s.locks.Unlock(ctx, lockKey, lock.OperationWrite); err != nil {
			log.Error().Err(err).Str("key", lockKey).Msg("finalize: could not release lock")
		}
		if _, err := os.Stat(tempDir); err == nil {
			if err := os.RemoveAll(tempDir); err != nil {
				log.Error().Err(err).Str("dir", tempDir).Msg("finalize: could not remove scratch dir")
			}
		}
	}()

	if err := s.runFinalize(ctx, job, t, bucket, tempDir); err != nil {
		log.Error().Err(err).Msg("finalize failed")
		job.AddPayload("error_msg", err.Error())
		if _, serr := job.SetStatus(ctx, sessions.StatusTerminated); serr != nil {
			log.Error().Err(serr).Msg("finalize: could not terminate job")
		}
		return
	}
	log.Info().Msg("upload finalized")
}

func (s *Service) runFinalize(ctx context.Context, job *sessions.Job, t finalizeTask, bucket, tempDir string) error {
	leaf, err := s.folders.EnsureTree(ctx, t.projectCode, t.relativePath, t.operator)
	if err != nil {
		return err
	}
	parentFolderID := ""
	if leaf != nil {
		parentFolderID = leaf.ID
	}

	parts, err := s.ledger.List(ctx, t.uploadID)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return errtypes.InternalError(fmt.Sprintf("no uploaded parts found for %s", t.uploadID))
	}

	objectPath := path.Join(t.relativePath, t.filename)
	versionID, err := s.obj.CombineChunks(ctx, bucket, objectPath, t.uploadID, parts)
	if err != nil {
		return err
	}

	item, err := s.catalog.CreateFileData(ctx, metadata.FileData{
		Uploader:         t.operator,
		FileName:         t.filename,
		Path:             filepath.Join(s.conf.RootPath, t.projectCode, t.relativePath),
		FileSize:         t.totalSize,
		Description:      "Raw file in " + s.conf.ZoneLabel(),
		Namespace:        s.conf.Namespace,
		ProjectCode:      t.projectCode,
		Labels:           t.tags,
		ParentFolderGeid: parentFolderID,
		Bucket:           bucket,
		MinioObjectPath:  objectPath,
		VersionID:        versionID,
		Operator:         t.operator,
		ProcessPipeline:  t.processPipeline,
		ParentQuery:      t.fromParents,
	})
	if err != nil {
		return err
	}

	if strings.HasSuffix(strings.ToLower(t.filename), ".zip") {
		if err := s.saveZipPreview(ctx, bucket, objectPath, tempDir, t.filename, item.ID); err != nil {
			return err
		}
	}

	if err := s.producer.Publish(ctx, events.NewUploadActivity(item, t.operator)); err != nil {
		return err
	}

	if _, err := job.SetStatus(ctx, sessions.StatusFinalized); err != nil {
		return err
	}
	job.AddPayload("source_geid", item.ID)
	if _, err := job.SetStatus(ctx, sessions.StatusSucceed); err != nil {
		return err
	}
	return nil
}

// saveZipPreview downloads the assembled archive into the scratch dir and
// stores its directory structure with the dataops utility.
func (s *Service) saveZipPreview(ctx context.Context, bucket, objectPath, tempDir, filename, fileID string) error {
	dest := filepath.Join(tempDir, filename)
	if err := s.obj.DownloadObject(ctx, bucket, objectPath, dest); err != nil {
		return err
	}

	preview, err := archive.GeneratePreview(dest)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return errtypes.InternalError(fmt.Sprintf("folder %s is already empty: %v", tempDir, err))
		}
		return err
	}
	return s.catalog.SaveArchivePreview(ctx, fileID, preview)
}
