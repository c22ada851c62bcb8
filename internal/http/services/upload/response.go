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

package upload

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	"github.com/PilotDataPlatform/upload/pkg/appctx"
	"github.com/PilotDataPlatform/upload/pkg/errtypes"
)

// apiNamespace prefixes internal error messages for operators tracing logs
// across services.
const apiNamespace = "api_data_upload"

// response is the envelope every endpoint replies with.
type response struct {
	Code       int         `json:"code"`
	ErrorMsg   string      `json:"error_msg"`
	Page       int         `json:"page"`
	Total      int         `json:"total"`
	NumOfPages int         `json:"num_of_pages"`
	Result     interface{} `json:"result"`
}

func newResponse(code int) response {
	return response{Code: code, Total: 1, NumOfPages: 1}
}

func writeResponse(w http.ResponseWriter, res response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.Code)
	_ = json.NewEncoder(w).Encode(res)
}

// writeOK replies 200 with the given result.
func writeOK(w http.ResponseWriter, result interface{}) {
	res := newResponse(http.StatusOK)
	res.Result = result
	writeResponse(w, res)
}

// writeBadRequest replies 400 with a literal message, bypassing the error
// taxonomy. Used for validation-style rejections.
func writeBadRequest(w http.ResponseWriter, msg string) {
	res := newResponse(http.StatusBadRequest)
	res.ErrorMsg = msg
	writeResponse(w, res)
}

// writeConflict replies 409 carrying the conflicting entries under
// result.failed.
func writeConflict(w http.ResponseWriter, msg string, failed interface{}) {
	res := newResponse(http.StatusConflict)
	res.ErrorMsg = msg
	res.Result = map[string]interface{}{"failed": failed}
	writeResponse(w, res)
}

// writeError maps a domain error onto the envelope. Anything without a
// dedicated kind becomes an internal error with the namespaced template.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := appctx.GetLogger(r.Context())

	res := newResponse(http.StatusInternalServerError)
	switch cause := errors.Cause(err).(type) {
	case errtypes.IsHeaderMissing, errtypes.IsBadRequest:
		res.Code = http.StatusBadRequest
		res.ErrorMsg = cause.(error).Error()
	case errtypes.IsNotFound:
		res.Code = http.StatusNotFound
		res.ErrorMsg = cause.(error).Error()
	case errtypes.IsAlreadyInUse:
		res.Code = http.StatusConflict
		res.ErrorMsg = cause.(error).Error()
	case errtypes.IsTokenError:
		res.Code = http.StatusBadRequest
		res.ErrorMsg = cause.(error).Error()
	default:
		res.ErrorMsg = fmt.Sprintf("[Internal] %s %s", apiNamespace, err.Error())
	}

	log.Error().Err(err).Int("code", res.Code).Msg("request failed")
	writeResponse(w, res)
}
