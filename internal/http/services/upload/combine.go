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
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/text/unicode/norm"

	"github.com/PilotDataPlatform/upload/pkg/appctx"
	"github.com/PilotDataPlatform/upload/pkg/errtypes"
	"github.com/PilotDataPlatform/upload/pkg/sessions"
)

type combineRequest struct {
	ProjectCode           string   `json:"project_code" validate:"required"`
	Operator              string   `json:"operator" validate:"required"`
	ResumableIdentifier   string   `json:"resumable_identifier" validate:"required"`
	ResumableFilename     string   `json:"resumable_filename" validate:"required"`
	ResumableRelativePath string   `json:"resumable_relative_path"`
	ResumableTotalChunks  int      `json:"resumable_total_chunks"`
	ResumableTotalSize    int64    `json:"resumable_total_size"`
	Tags                  []string `json:"tags"`
	ProcessPipeline       string   `json:"process_pipeline"`
	FromParents           []string `json:"from_parents"`
	UploadMessage         string   `json:"upload_message"`
}

// combine schedules background finalization of a finished upload and returns
// immediately. The job must still be in flight; repeating combine for a job
// whose finalization already started or ended is rejected.
func (s *Service) combine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, _ := appctx.SessionID(ctx)

	var req combineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errtypes.BadRequest("invalid request payload: "+err.Error()))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, errtypes.BadRequest("invalid request payload: "+err.Error()))
		return
	}
	req.ResumableFilename = norm.NFC.String(req.ResumableFilename)

	job, err := sessions.Open(ctx, s.store, sessionID, req.ProjectCode, req.Operator, req.ResumableIdentifier)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if st := job.Status(); st != sessions.StatusPreUploaded && st != sessions.StatusChunkUploaded {
		writeBadRequest(w, fmt.Sprintf("Invalid job status for combine: %s", st))
		return
	}

	// the status flips before the task is queued so a poll can never observe
	// PRE_UPLOADED after combine returned
	rec, err := job.SetStatus(ctx, sessions.StatusChunkUploaded)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.pool.submit(finalizeTask{
		sessionID:       sessionID,
		projectCode:     req.ProjectCode,
		operator:        req.Operator,
		uploadID:        req.ResumableIdentifier,
		filename:        req.ResumableFilename,
		relativePath:    req.ResumableRelativePath,
		totalSize:       req.ResumableTotalSize,
		tags:            req.Tags,
		processPipeline: req.ProcessPipeline,
		fromParents:     req.FromParents,
	})

	writeOK(w, rec)
}
