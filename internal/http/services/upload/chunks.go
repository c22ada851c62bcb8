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
	"io"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"

	"github.com/PilotDataPlatform/upload/pkg/appctx"
	"github.com/PilotDataPlatform/upload/pkg/errtypes"
	"github.com/PilotDataPlatform/upload/pkg/sessions"
)

// chunkForm is the multipart form of one chunk request.
type chunkForm struct {
	projectCode  string
	operator     string
	uploadID     string
	filename     string
	relativePath string
	chunkNumber  int
}

func parseChunkForm(r *http.Request) (chunkForm, error) {
	f := chunkForm{
		projectCode:  r.FormValue("project_code"),
		operator:     r.FormValue("operator"),
		uploadID:     r.FormValue("resumable_identifier"),
		filename:     norm.NFC.String(r.FormValue("resumable_filename")),
		relativePath: r.FormValue("resumable_relative_path"),
	}
	if f.projectCode == "" || f.operator == "" || f.uploadID == "" || f.filename == "" {
		return f, errtypes.BadRequest("invalid chunk form: missing required field")
	}
	n, err := strconv.Atoi(r.FormValue("resumable_chunk_number"))
	if err != nil || n < 1 {
		return f, errtypes.BadRequest("invalid chunk form: resumable_chunk_number must be a positive integer")
	}
	f.chunkNumber = n
	return f, nil
}

// uploadChunks forwards one chunk to the object store and records its part
// tag in the ledger. Chunks of the same upload may arrive concurrently and in
// any order; the ledger write is an idempotent overwrite of a unique key.
func (s *Service) uploadChunks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := appctx.GetLogger(ctx)

	form, err := parseChunkForm(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	chunk, _, err := r.FormFile("chunk_data")
	if err != nil {
		writeError(w, r, errtypes.BadRequest("invalid chunk form: chunk_data is required"))
		return
	}
	defer chunk.Close()

	data, err := io.ReadAll(chunk)
	if err != nil {
		s.terminateJob(r, form, errors.Wrap(err, "error reading chunk body"))
		writeError(w, r, errtypes.InternalError("error reading chunk body"))
		return
	}

	bucket := s.conf.Bucket(form.projectCode)
	fileKey := form.relativePath + "/" + form.filename
	part, err := s.obj.PartUpload(ctx, bucket, fileKey, form.uploadID, form.chunkNumber, data)
	if err != nil {
		s.terminateJob(r, form, err)
		writeError(w, r, err)
		return
	}

	if err := s.ledger.Record(ctx, form.uploadID, part); err != nil {
		s.terminateJob(r, form, err)
		writeError(w, r, err)
		return
	}

	log.Debug().Str("upload_id", form.uploadID).Int("part", part.PartNumber).
		Int("size", len(data)).Msg("chunk stored")
	writeOK(w, map[string]string{"msg": "Succeed"})
}

// terminateJob records the failure on the job and moves it to TERMINATED.
// Best effort: a job that cannot be loaded is only logged.
func (s *Service) terminateJob(r *http.Request, form chunkForm, cause error) {
	ctx := r.Context()
	log := appctx.GetLogger(ctx)
	sessionID, _ := appctx.SessionID(ctx)

	job, err := sessions.Open(ctx, s.store, sessionID, form.projectCode, form.operator, form.uploadID)
	if err != nil {
		log.Error().Err(err).Str("upload_id", form.uploadID).Msg("could not load job to terminate")
		return
	}
	job.AddPayload("error_msg", cause.Error())
	if _, err := job.SetStatus(ctx, sessions.StatusTerminated); err != nil {
		log.Error().Err(err).Str("upload_id", form.uploadID).Msg("could not terminate job")
	}
}
