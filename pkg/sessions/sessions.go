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

// Package sessions persists the per-upload job state machine.
//
// Each in-flight upload is a job keyed by the composite
//
//	dataaction:{session}:Container:{job}:{action}:{project}:{operator}:{source}
//
// in the KV store. The job id equals the multipart upload id issued by the
// object store at pre-upload time, so the key directly indexes the object
// store's in-progress state. Status queries run as prefix scans; the project
// and operator positions accept the glob wildcard "*".
package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/PilotDataPlatform/upload/pkg/errtypes"
	"github.com/PilotDataPlatform/upload/pkg/kv"
)

// Action is the job action recorded for every upload.
const Action = "data_upload"

// Status is the state of an upload job.
type Status string

// Job states. TERMINATED and SUCCEED are terminal.
const (
	StatusInit          Status = "INIT"
	StatusPreUploaded   Status = "PRE_UPLOADED"
	StatusChunkUploaded Status = "CHUNK_UPLOADED"
	StatusFinalized     Status = "FINALIZED"
	StatusSucceed       Status = "SUCCEED"
	StatusTerminated    Status = "TERMINATED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusSucceed || s == StatusTerminated
}

// next lists the forward edges of the job state machine. TERMINATED is
// additionally reachable from every non-terminal state.
var next = map[Status]Status{
	StatusInit:          StatusPreUploaded,
	StatusPreUploaded:   StatusChunkUploaded,
	StatusChunkUploaded: StatusFinalized,
	StatusFinalized:     StatusSucceed,
}

// CanTransition reports whether moving from s to target is legal. Re-saving
// the current non-terminal state is allowed so that a repeated combine can
// restart finalization.
func (s Status) CanTransition(target Status) bool {
	if s.Terminal() {
		return false
	}
	if target == StatusTerminated || target == s {
		return true
	}
	return next[s] == target
}

// Record is the persisted form of an upload job.
type Record struct {
	SessionID       string            `json:"session_id"`
	JobID           string            `json:"job_id"`
	Source          string            `json:"source"`
	Action          string            `json:"action"`
	Status          Status            `json:"status"`
	ProjectCode     string            `json:"project_code"`
	Operator        string            `json:"operator"`
	Progress        int               `json:"progress"`
	Payload         map[string]string `json:"payload"`
	UpdateTimestamp string            `json:"update_timestamp"`
}

// Key returns the composite KV key of an upload job.
func Key(sessionID, jobID, action, projectCode, operator, source string) string {
	return fmt.Sprintf("dataaction:%s:Container:%s:%s:%s:%s:%s",
		sessionID, jobID, action, projectCode, operator, source)
}

// statusPrefix builds the scan prefix for status lookups. The operator is
// optional; projectCode and operator may be the wildcard "*".
func statusPrefix(sessionID, jobID, action, projectCode, operator string) string {
	p := fmt.Sprintf("dataaction:%s:Container:%s:%s:%s", sessionID, jobID, action, projectCode)
	if operator != "" {
		p = p + ":" + operator
	}
	return p
}

// Job is the state machine of a single upload, persisted write-through.
type Job struct {
	store kv.Store
	rec   Record
}

// New returns a fresh job in INIT. The job id and source must be set before
// the first status transition is saved.
func New(store kv.Store, sessionID, projectCode, operator string) *Job {
	return &Job{
		store: store,
		rec: Record{
			SessionID:   sessionID,
			Action:      Action,
			Status:      StatusInit,
			ProjectCode: projectCode,
			Operator:    operator,
			Payload:     map[string]string{},
		},
	}
}

// Open loads an existing job by id, or errtypes.NotFound.
func Open(ctx context.Context, store kv.Store, sessionID, projectCode, operator, jobID string) (*Job, error) {
	recs, err := GetStatus(ctx, store, sessionID, jobID, projectCode, operator)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errtypes.NotFound(fmt.Sprintf("[SessionJob] Not found job: %s", jobID))
	}
	return &Job{store: store, rec: recs[0]}, nil
}

// SetJobID assigns the multipart upload id as the job id.
func (j *Job) SetJobID(id string) { j.rec.JobID = id }

// SetSource assigns the logical file key of the job. It is set exactly once.
func (j *Job) SetSource(source string) {
	if j.rec.Source == "" {
		j.rec.Source = source
	}
}

// AddPayload merges a key into the payload map, overwriting duplicates.
func (j *Job) AddPayload(key, value string) { j.rec.Payload[key] = value }

// SetProgress updates the job progress counter.
func (j *Job) SetProgress(progress int) { j.rec.Progress = progress }

// Record returns a copy of the current record.
func (j *Job) Record() Record {
	rec := j.rec
	rec.Payload = make(map[string]string, len(j.rec.Payload))
	for k, v := range j.rec.Payload {
		rec.Payload[k] = v
	}
	return rec
}

// Status returns the current job status.
func (j *Job) Status() Status { return j.rec.Status }

// SetStatus transitions the job and writes the record through to the store,
// returning the persisted form.
func (j *Job) SetStatus(ctx context.Context, status Status) (Record, error) {
	if !j.rec.Status.CanTransition(status) {
		return Record{}, errtypes.BadRequest(
			fmt.Sprintf("[SessionJob] illegal transition %s -> %s for job %s", j.rec.Status, status, j.rec.JobID))
	}
	j.rec.Status = status
	if err := j.save(ctx); err != nil {
		return Record{}, err
	}
	return j.Record(), nil
}

// Entry returns the KV key and serialized value of the job, refreshing the
// update timestamp. Used by SaveBatch to pipeline pre-upload writes.
func (j *Job) Entry() (string, string, error) {
	if j.rec.JobID == "" {
		return "", "", errtypes.BadRequest("[SessionJob] job_id not provided")
	}
	if j.rec.Source == "" {
		return "", "", errtypes.BadRequest("[SessionJob] source not provided")
	}
	if j.rec.Status == "" {
		return "", "", errtypes.BadRequest("[SessionJob] status not provided")
	}
	j.rec.UpdateTimestamp = strconv.FormatInt(time.Now().Unix(), 10)
	value, err := json.Marshal(j.rec)
	if err != nil {
		return "", "", errors.Wrap(err, "sessions: error serializing job record")
	}
	key := Key(j.rec.SessionID, j.rec.JobID, j.rec.Action, j.rec.ProjectCode, j.rec.Operator, j.rec.Source)
	return key, string(value), nil
}

func (j *Job) save(ctx context.Context) error {
	key, value, err := j.Entry()
	if err != nil {
		return err
	}
	return j.store.Set(ctx, key, value)
}

// SaveBatch advances all jobs to the given status and persists them in a
// single pipelined write. Used by pre-upload to register a whole batch.
func SaveBatch(ctx context.Context, store kv.Store, jobs []*Job, status Status) ([]Record, error) {
	pairs := make(map[string]string, len(jobs))
	recs := make([]Record, 0, len(jobs))
	for _, j := range jobs {
		if !j.rec.Status.CanTransition(status) {
			return nil, errtypes.BadRequest(
				fmt.Sprintf("[SessionJob] illegal transition %s -> %s for job %s", j.rec.Status, status, j.rec.JobID))
		}
		j.rec.Status = status
		key, value, err := j.Entry()
		if err != nil {
			return nil, err
		}
		pairs[key] = value
		recs = append(recs, j.Record())
	}
	if err := store.MSet(ctx, pairs); err != nil {
		return nil, err
	}
	return recs, nil
}

// GetStatus fetches all job records matching the prefix scan. Pass "*" for
// projectCode or operator to match any; an empty operator widens the scan to
// all operators.
func GetStatus(ctx context.Context, store kv.Store, sessionID, jobID, projectCode, operator string) ([]Record, error) {
	prefix := statusPrefix(sessionID, jobID, Action, projectCode, operator)
	values, err := store.GetByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	recs := make([]Record, 0, len(values))
	for _, v := range values {
		var rec Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, errors.Wrap(err, "sessions: error deserializing job record")
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
