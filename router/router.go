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

// Package router holds the shard-partitioning policy: a contiguous DBID
// range per shard, with safe one-shot expansion.
package router

import (
	"context"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/openindex/indexsync/errors"
	"github.com/openindex/indexsync/proto"
)

// safetyFactor caps expansion: past this share of the range the index is
// too full to grow safely.
const safetyFactor = 0.75

// IndexSizer is the subset of the engine the router consults.
type IndexSizer interface {
	MaxNodeID(ctx context.Context) (int64, error)
	MinNodeID(ctx context.Context) (int64, error)
	NodeCount(ctx context.Context) (int64, error)
	CapIndex(ctx context.Context, maxDbID int64) error
	HardCommit(ctx context.Context) error
}

// DBIDRangeRouter assigns [StartRange, EndRange) to this shard.
type DBIDRangeRouter struct {
	lock        sync.RWMutex
	startRange  int64
	endRange    int64
	expanded    bool
	initialized bool
}

func NewDBIDRangeRouter(startRange, endRange int64) *DBIDRangeRouter {
	return &DBIDRangeRouter{
		startRange:  startRange,
		endRange:    endRange,
		initialized: true,
	}
}

func (r *DBIDRangeRouter) StartRange() int64 {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.startRange
}

func (r *DBIDRangeRouter) EndRange() int64 {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.endRange
}

func (r *DBIDRangeRouter) Expanded() bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.expanded
}

func (r *DBIDRangeRouter) Initialized() bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.initialized
}

// Owns reports whether a node id routes to this shard.
func (r *DBIDRangeRouter) Owns(dbID int64) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return dbID >= r.startRange && dbID < r.endRange
}

// RangeCheck estimates whether and by how much the range should grow.
// Expand in the result is -1 when expansion cannot be done (already
// expanded or beyond the safety threshold), 0 when premature.
func (r *DBIDRangeRouter) RangeCheck(ctx context.Context, sizer IndexSizer) (*proto.RangeCheckResult, error) {
	if !r.Initialized() {
		return nil, apierrors.ErrRangeNotInitialized
	}

	r.lock.RLock()
	startRange, endRange, expanded := r.startRange, r.endRange, r.expanded
	r.lock.RUnlock()

	maxNodeID, err := sizer.MaxNodeID(ctx)
	if err != nil {
		return nil, err
	}
	minNodeID, err := sizer.MinNodeID(ctx)
	if err != nil {
		return nil, err
	}
	nodeCount, err := sizer.NodeCount(ctx)
	if err != nil {
		return nil, err
	}

	rng := endRange - startRange
	midpoint := startRange + rng/2
	safe := startRange + int64(float64(rng)*safetyFactor)
	offset := maxNodeID - startRange

	var density float64
	if offset > 0 {
		density = float64(nodeCount) / float64(offset)
	}

	bestGuess := int64(-1)
	if !expanded && maxNodeID <= safe {
		switch {
		case maxNodeID < midpoint:
			// below the midpoint it is too early to guess
			bestGuess = 0
		case density >= 1 || density == 0:
			// fully dense or empty shard, no expansion required
			bestGuess = 0
		default:
			bestGuess = int64(float64(rng)/density) - rng
		}
	}

	return &proto.RangeCheckResult{
		Start:     startRange,
		End:       endRange,
		NodeCount: nodeCount,
		MinDbid:   minNodeID,
		MaxDbid:   maxNodeID,
		Density:   density,
		Expand:    bestGuess,
		Expanded:  expanded,
	}, nil
}

// Expand grows the end range by add. It refuses when already expanded or
// when the max indexed id is past the safety threshold. Callers must not
// run Expand concurrently with itself; the router still serializes the
// mutation.
func (r *DBIDRangeRouter) Expand(ctx context.Context, sizer IndexSizer, add int64) (int64, error) {
	span := trace.SpanFromContextSafe(ctx)

	if !r.Initialized() {
		return -1, apierrors.ErrRangeNotInitialized
	}
	if r.Expanded() {
		return -1, apierrors.ErrRangeAlreadyExpanded
	}

	r.lock.RLock()
	startRange, endRange := r.startRange, r.endRange
	r.lock.RUnlock()

	maxNodeID, err := sizer.MaxNodeID(ctx)
	if err != nil {
		return -1, err
	}

	rng := endRange - startRange
	safe := startRange + int64(float64(rng)*safetyFactor)
	if maxNodeID > safe {
		return -1, apierrors.ErrRangeBeyondSafety
	}

	newEndRange := endRange + add
	if err := sizer.CapIndex(ctx, newEndRange); err != nil {
		return -1, err
	}
	if err := sizer.HardCommit(ctx); err != nil {
		return -1, err
	}

	r.lock.Lock()
	r.endRange = newEndRange
	r.expanded = true
	r.lock.Unlock()

	span.Infof("dbid range expanded to [%d, %d)", startRange, newEndRange)
	return newEndRange, nil
}
