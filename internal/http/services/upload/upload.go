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

// Package upload implements the resumable upload API.
//
// A client uploads a file through three calls in a row: a pre-upload
// reservation (POST /files/jobs), any number of chunk uploads
// (POST /files/chunks) and a final combine (POST /files) that schedules
// server-side assembly in the background. Job progress is polled via
// GET /upload/status/{job_id}.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/PilotDataPlatform/upload/pkg/appctx"
	"github.com/PilotDataPlatform/upload/pkg/config"
	"github.com/PilotDataPlatform/upload/pkg/errtypes"
	"github.com/PilotDataPlatform/upload/pkg/events"
	"github.com/PilotDataPlatform/upload/pkg/folders"
	"github.com/PilotDataPlatform/upload/pkg/kv"
	"github.com/PilotDataPlatform/upload/pkg/lock"
	"github.com/PilotDataPlatform/upload/pkg/metadata"
	"github.com/PilotDataPlatform/upload/pkg/project"
	"github.com/PilotDataPlatform/upload/pkg/sessions"
)

// Upload job types.
const (
	JobTypeFile   = "AS_FILE"
	JobTypeFolder = "AS_FOLDER"
)

// Conflict error templates.
const (
	fileConflictMsg   = "[Invalid File] File Name has already taken by other resources(file/folder)"
	folderConflictMsg = "[Invalid Folder] Folder Name has already taken by other resources(file/folder)"
)

// ObjectStore is the object-store surface the coordinator needs.
type ObjectStore interface {
	PrepareMultipartUpload(ctx context.Context, bucket string, keys []string) ([]string, error)
	PartUpload(ctx context.Context, bucket, key, uploadID string, partNumber int, data []byte) (sessions.Part, error)
	CombineChunks(ctx context.Context, bucket, key, uploadID string, parts []sessions.Part) (string, error)
	DownloadObject(ctx context.Context, bucket, key, dest string) error
}

// Catalog registers items and answers existence queries.
type Catalog interface {
	SearchItems(ctx context.Context, p metadata.SearchParams) ([]metadata.Item, error)
	CreateFileData(ctx context.Context, fd metadata.FileData) (metadata.Item, error)
	SaveArchivePreview(ctx context.Context, fileID string, preview map[string]interface{}) error
}

// Locker serializes concurrent operations on logical paths.
type Locker interface {
	BulkLock(ctx context.Context, resourceKeys []string, operation string) error
	BulkUnlock(ctx context.Context, resourceKeys []string, operation string) error
	Unlock(ctx context.Context, resourceKey, operation string) error
}

// Projects verifies project codes.
type Projects interface {
	Get(ctx context.Context, code string) (*project.Project, error)
}

// FolderTree materializes parent folders at finalize time.
type FolderTree interface {
	EnsureTree(ctx context.Context, projectCode, relativePath, owner string) (*folders.Node, error)
}

// Publisher emits activity logs.
type Publisher interface {
	Publish(ctx context.Context, activity events.ActivityLog) error
}

// Service is the upload coordinator wired to its collaborators.
type Service struct {
	conf     *config.Config
	log      zerolog.Logger
	store    kv.Store
	ledger   *sessions.PartLedger
	obj      ObjectStore
	locks    Locker
	catalog  Catalog
	projects Projects
	folders  FolderTree
	producer Publisher
	validate *validator.Validate
	pool     *pool
}

// New returns a started upload service. Close must be called to drain the
// finalizer pool.
func New(conf *config.Config, log zerolog.Logger, store kv.Store, obj ObjectStore, locks Locker,
	catalog Catalog, projects Projects, tree FolderTree, producer Publisher) *Service {
	s := &Service{
		conf:     conf,
		log:      log,
		store:    store,
		ledger:   sessions.NewPartLedger(store),
		obj:      obj,
		locks:    locks,
		catalog:  catalog,
		projects: projects,
		folders:  tree,
		producer: producer,
		validate: validator.New(),
	}
	s.pool = newPool(conf.FinalizeWorkers, conf.FinalizeQueue, log, s.finalize)
	s.pool.start()
	return s
}

// Close drains and stops the finalizer pool.
func (s *Service) Close() {
	s.pool.stop()
}

// Routes returns the /v1 router of the upload API.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.withLogger)
	r.Group(func(r chi.Router) {
		r.Use(requireSessionID)
		r.Post("/files/jobs", s.preUpload)
		r.Post("/files/chunks", s.uploadChunks)
		r.Post("/files", s.combine)
		r.Get("/upload/status/{job_id}", s.getStatus)
	})
	return r
}

// withLogger injects the service logger into the request context.
func (s *Service) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := s.log.With().Str("path", r.URL.Path).Logger()
		next.ServeHTTP(w, r.WithContext(appctx.WithLogger(r.Context(), &log)))
	})
}

// requireSessionID enforces the Session-Id header on all upload endpoints.
func requireSessionID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get("Session-Id")
		if sessionID == "" {
			writeError(w, r, errtypes.HeaderMissing("session_id is required"))
			return
		}
		next.ServeHTTP(w, r.WithContext(appctx.WithSessionID(r.Context(), sessionID)))
	})
}

type fileEntry struct {
	ResumableFilename     string `json:"resumable_filename" validate:"required"`
	ResumableRelativePath string `json:"resumable_relative_path"`
}

type preUploadRequest struct {
	ProjectCode       string      `json:"project_code" validate:"required"`
	Operator          string      `json:"operator" validate:"required"`
	JobType           string      `json:"job_type"`
	Data              []fileEntry `json:"data" validate:"dive"`
	FolderTags        []string    `json:"folder_tags"`
	UploadMessage     string      `json:"upload_message"`
	CurrentFolderNode string      `json:"current_folder_node"`
	Incremental       bool        `json:"incremental"`
}

type fileConflict struct {
	Name         string `json:"name"`
	RelativePath string `json:"relative_path"`
	Type         string `json:"type"`
}

type folderConflict struct {
	DisplayPath string `json:"display_path"`
	Type        string `json:"type"`
}

// preUpload reserves one upload job per file: it verifies the project,
// detects name conflicts, obtains multipart upload ids for the whole batch,
// persists the jobs and takes write-locks on every target path. The locks
// are released only by the finalizer.
func (s *Service) preUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, _ := appctx.SessionID(ctx)

	var req preUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errtypes.BadRequest("invalid request payload: "+err.Error()))
		return
	}
	if req.JobType != JobTypeFile && req.JobType != JobTypeFolder {
		writeBadRequest(w, fmt.Sprintf("Invalid job type: %s", req.JobType))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, errtypes.BadRequest("invalid request payload: "+err.Error()))
		return
	}

	if _, err := s.projects.Get(ctx, req.ProjectCode); err != nil {
		writeError(w, r, err)
		return
	}

	// conflict detection runs before anything is reserved, so a rejected
	// batch leaves no state behind
	switch req.JobType {
	case JobTypeFile:
		conflicts, err := s.fileConflicts(ctx, req.ProjectCode, req.Data)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if len(conflicts) > 0 {
			writeConflict(w, fileConflictMsg, conflicts)
			return
		}
	case JobTypeFolder:
		conflicts, err := s.folderConflicts(ctx, req.ProjectCode, req.CurrentFolderNode)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if len(conflicts) > 0 {
			writeConflict(w, folderConflictMsg, conflicts)
			return
		}
	}

	// browsers disagree on unicode composition, so every filename is
	// normalized to NFC before it becomes part of a key
	for i := range req.Data {
		req.Data[i].ResumableFilename = norm.NFC.String(req.Data[i].ResumableFilename)
	}

	bucket := s.conf.Bucket(req.ProjectCode)
	fileKeys := make([]string, 0, len(req.Data))
	for _, entry := range req.Data {
		fileKeys = append(fileKeys, entry.ResumableRelativePath+"/"+entry.ResumableFilename)
	}

	uploadIDs, err := s.obj.PrepareMultipartUpload(ctx, bucket, fileKeys)
	if err != nil {
		writeError(w, r, err)
		return
	}

	taskID := uuid.NewString()
	jobs := make([]*sessions.Job, 0, len(fileKeys))
	lockKeys := make([]string, 0, len(fileKeys))
	for i, fileKey := range fileKeys {
		job := sessions.New(s.store, sessionID, req.ProjectCode, req.Operator)
		job.SetJobID(uploadIDs[i])
		job.SetSource(fileKey)
		job.AddPayload("task_id", taskID)
		job.AddPayload("resumable_identifier", uploadIDs[i])
		jobs = append(jobs, job)
		lockKeys = append(lockKeys, path.Join(bucket, fileKey))
	}

	// all locks are taken before any job is persisted: a contended batch
	// returns 409 with zero jobs in PRE_UPLOADED
	if err := s.locks.BulkLock(ctx, lockKeys, lock.OperationWrite); err != nil {
		writeError(w, r, err)
		return
	}

	records, err := sessions.SaveBatch(ctx, s.store, jobs, sessions.StatusPreUploaded)
	if err != nil {
		_ = s.locks.BulkUnlock(ctx, lockKeys, lock.OperationWrite)
		writeError(w, r, err)
		return
	}

	writeOK(w, records)
}

// fileConflicts reports every file whose target identity already exists in
// the catalog.
func (s *Service) fileConflicts(ctx context.Context, projectCode string, data []fileEntry) ([]fileConflict, error) {
	conflicts := []fileConflict{}
	for _, entry := range data {
		items, err := s.catalog.SearchItems(ctx, metadata.SearchParams{
			Name:          entry.ResumableFilename,
			ParentPath:    entry.ResumableRelativePath,
			ContainerCode: projectCode,
			Archived:      false,
			Zone:          s.conf.Zone(),
			Recursive:     false,
		})
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			conflicts = append(conflicts, fileConflict{
				Name:         entry.ResumableFilename,
				RelativePath: entry.ResumableRelativePath,
				Type:         "File",
			})
		}
	}
	return conflicts, nil
}

// folderConflicts checks the single root folder of a folder upload.
func (s *Service) folderConflicts(ctx context.Context, projectCode, currentFolderNode string) ([]folderConflict, error) {
	parentPath, name := "", currentFolderNode
	if idx := strings.LastIndex(currentFolderNode, "/"); idx >= 0 {
		parentPath, name = currentFolderNode[:idx], currentFolderNode[idx+1:]
	}

	items, err := s.catalog.SearchItems(ctx, metadata.SearchParams{
		Name:          name,
		ParentPath:    parentPath,
		ContainerCode: projectCode,
		Archived:      false,
		Zone:          s.conf.Zone(),
		Recursive:     false,
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return []folderConflict{{DisplayPath: currentFolderNode, Type: "Folder"}}, nil
}

// getStatus returns the first job record matching the id within the client
// session, scanning across all projects and operators.
func (s *Service) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, _ := appctx.SessionID(ctx)
	jobID := chi.URLParam(r, "job_id")

	records, err := sessions.GetStatus(ctx, s.store, sessionID, jobID, "*", "*")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(records) == 0 {
		writeBadRequest(w, fmt.Sprintf("Job ID %s not found", jobID))
		return
	}
	writeOK(w, records[0])
}
