// Copyright 2024 The IndexSync Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package errors

import (
	"errors"

	berrors "github.com/cubefs/cubefs/blobstore/util/errors"
)

var (
	ErrDocDoesNotExist = errors.New("document does not exist")

	ErrLockAcquireTimeout = errors.New("could not acquire node lock")

	// ErrRolledBack is raised by canUpdate when the calling tracker was
	// registered before the last rollback. The tracker must restart its
	// cycle, not retry.
	ErrRolledBack = errors.New("engine rolled back since tracker registration")

	ErrTrackerNotRegistered = errors.New("tracker thread is not registered")

	ErrRangeNotInitialized  = errors.New("dbid range router not initialized yet")
	ErrRangeAlreadyExpanded = errors.New("dbid range has already been expanded")
	ErrRangeBeyondSafety    = errors.New("expansion cannot occur if max dbid in the index is more than 75% of range")

	ErrSearcherClosed = errors.New("searcher already released")

	ErrUnknownCoreOperation = errors.New("unknown core maintenance operation")
)

// BadRequest wraps an unexpected admin-action failure into the single
// error shape handlers respond with.
func BadRequest(err error) error {
	if err == nil {
		return nil
	}
	return berrors.Info(err, "bad request")
}
