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

// Package errtypes contains definitions for the common errors of the upload
// service. It would have been nice to call this package errors, but that
// clashes with github.com/pkg/errors.
//
// The string carried by each type is surfaced verbatim as the error_msg of the
// response envelope, so constructors are expected to pass user-facing text.
package errtypes

// NotFound is the error to use when a resource is not found,
// e.g. a project code that is unknown to the project registry.
type NotFound string

func (e NotFound) Error() string { return string(e) }

// IsNotFound implements the IsNotFound interface.
func (e NotFound) IsNotFound() {}

// BadRequest is the error to use on malformed or rejected input, such as an
// unknown job type or a status query for a job that does not exist.
type BadRequest string

func (e BadRequest) Error() string { return string(e) }

// IsBadRequest implements the IsBadRequest interface.
func (e BadRequest) IsBadRequest() {}

// AlreadyInUse is the error to use when a resource lock is held by someone
// else and the requested operation cannot proceed.
type AlreadyInUse string

func (e AlreadyInUse) Error() string { return string(e) }

// IsAlreadyInUse implements the IsAlreadyInUse interface.
func (e AlreadyInUse) IsAlreadyInUse() {}

// TokenError is the error to use when the object store rejects our
// credentials.
type TokenError string

func (e TokenError) Error() string { return string(e) }

// IsTokenError implements the IsTokenError interface.
func (e TokenError) IsTokenError() {}

// HeaderMissing is the error to use when a required request header is absent.
type HeaderMissing string

func (e HeaderMissing) Error() string { return string(e) }

// IsHeaderMissing implements the IsHeaderMissing interface.
func (e HeaderMissing) IsHeaderMissing() {}

// InternalError is the catch-all kind for failures that have no dedicated
// mapping; handlers convert anything unmapped into this.
type InternalError string

func (e InternalError) Error() string { return string(e) }

// IsInternalError implements the IsInternalError interface.
func (e InternalError) IsInternalError() {}

// IsNotFound is the interface to implement
// to specify that a resource is not found.
type IsNotFound interface {
	IsNotFound()
}

// IsBadRequest is the interface to implement
// to specify that the request was rejected.
type IsBadRequest interface {
	IsBadRequest()
}

// IsAlreadyInUse is the interface to implement
// to specify that a resource lock is held.
type IsAlreadyInUse interface {
	IsAlreadyInUse()
}

// IsTokenError is the interface to implement
// to specify that the object-store credentials were rejected.
type IsTokenError interface {
	IsTokenError()
}

// IsHeaderMissing is the interface to implement
// to specify that a required header was absent.
type IsHeaderMissing interface {
	IsHeaderMissing()
}

// IsInternalError is the interface to implement
// to specify that something unexpected went wrong.
type IsInternalError interface {
	IsInternalError()
}
