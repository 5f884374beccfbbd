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

// Package tracker runs the periodic loops that pull repository changes
// into the index: transaction metadata, ACL change-sets, content
// harvesting and cascade completion.
package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/openindex/indexsync/engine"
	apierrors "github.com/openindex/indexsync/errors"
	"github.com/openindex/indexsync/proto"
)

const (
	defaultIntervalMs     = 15000
	defaultBatchTxns      = 2000
	defaultBatchNodes     = 10000
	defaultCascadeBatch   = 50
	defaultContentWorkers = 4
)

type Config struct {
	IntervalMs     int64 `json:"interval_ms"`
	BatchTxns      int   `json:"batch_txns"`
	BatchNodes     int   `json:"batch_nodes"`
	CascadeBatch   int   `json:"cascade_batch"`
	ContentWorkers int   `json:"content_workers"`
}

func initConfig(cfg *Config) {
	if cfg.IntervalMs <= 0 {
		cfg.IntervalMs = defaultIntervalMs
	}
	if cfg.BatchTxns <= 0 {
		cfg.BatchTxns = defaultBatchTxns
	}
	if cfg.BatchNodes <= 0 {
		cfg.BatchNodes = defaultBatchNodes
	}
	if cfg.CascadeBatch <= 0 {
		cfg.CascadeBatch = defaultCascadeBatch
	}
	if cfg.ContentWorkers <= 0 {
		cfg.ContentWorkers = defaultContentWorkers
	}
}

// Tracker is one periodic loop body. Track runs a single cycle.
type Tracker interface {
	Name() string
	Track(ctx context.Context) error
	Stats() proto.TrackerStats
}

// stats is embedded by every tracker implementation.
type stats struct {
	cycles      atomic.Int64
	docsIndexed atomic.Int64
	docsFailed  atomic.Int64
	lastCycleMs atomic.Int64
}

func (s *stats) snapshot(name string) proto.TrackerStats {
	return proto.TrackerStats{
		Name:            name,
		Cycles:          s.cycles.Load(),
		DocsIndexed:     s.docsIndexed.Load(),
		DocsFailed:      s.docsFailed.Load(),
		LastCycleMillis: s.lastCycleMs.Load(),
	}
}

// Scheduler drives every tracker on a shared interval, one goroutine per
// tracker. Each cycle runs under a registered writer token so a rollback
// between cycles invalidates in-flight writes.
type Scheduler struct {
	cfg      Config
	eng      *engine.Engine
	trackers []Tracker

	checkRequested atomic.Bool

	closer sync.Once
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewScheduler(cfg *Config, eng *engine.Engine, trackers ...Tracker) *Scheduler {
	initConfig(cfg)
	return &Scheduler{
		cfg:      *cfg,
		eng:      eng,
		trackers: trackers,
		done:     make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	for _, t := range s.trackers {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
}

func (s *Scheduler) loop(ctx context.Context, t Tracker) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(s.cfg.IntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		s.runCycle(ctx, t)
		select {
		case <-ticker.C:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context, t Tracker) {
	span, ctx := trace.StartSpanFromContext(ctx, t.Name())

	if s.checkRequested.CompareAndSwap(true, false) {
		s.runConsistencyCheck(ctx)
	}

	ctx = s.eng.RegisterTrackerThread(ctx)
	defer s.eng.UnregisterTrackerThread(ctx)

	if err := t.Track(ctx); err != nil {
		if err == apierrors.ErrRolledBack {
			span.Warnf("%s cycle dropped by rollback", t.Name())
			return
		}
		span.Errorf("%s cycle failed, rolling back: %s", t.Name(), err)
		if err := s.eng.Rollback(ctx); err != nil {
			span.Errorf("rollback after failed %s cycle failed: %s", t.Name(), err)
		}
		return
	}
	if err := s.eng.Commit(ctx); err != nil && err != apierrors.ErrRolledBack {
		span.Errorf("%s commit failed: %s", t.Name(), err)
	}
}

// RequestConsistencyCheck flags the next tracking cycle to run the drift
// reports, the CHECK maintenance operation.
func (s *Scheduler) RequestConsistencyCheck() {
	s.checkRequested.Store(true)
}

func (s *Scheduler) runConsistencyCheck(ctx context.Context) {
	span := trace.SpanFromContextSafe(ctx)

	txReport, err := s.eng.ReportIndexTransactions(ctx, 0, 0)
	if err != nil {
		span.Errorf("transaction consistency check failed: %s", err)
		return
	}
	aclReport, err := s.eng.ReportAclTransactions(ctx, 0, 0)
	if err != nil {
		span.Errorf("acl change set consistency check failed: %s", err)
		return
	}
	span.Infof("consistency check: tx missing %d orphaned %d duplicated %d, acltx missing %d orphaned %d duplicated %d",
		len(txReport.MissingTxFromIndex), len(txReport.TxInIndexButNotInDb), len(txReport.DuplicatedTxInIndex),
		len(aclReport.MissingTxFromIndex), len(aclReport.TxInIndexButNotInDb), len(aclReport.DuplicatedTxInIndex))
}

func (s *Scheduler) Close() {
	s.closer.Do(func() { close(s.done) })
	s.wg.Wait()
	for _, t := range s.trackers {
		if c, ok := t.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// Summary snapshots every tracker's statistics for the admin surface.
func (s *Scheduler) Summary() []proto.TrackerStats {
	ret := make([]proto.TrackerStats, 0, len(s.trackers))
	for _, t := range s.trackers {
		ret = append(ret, t.Stats())
	}
	return ret
}

// SharedState is the resume state common to the metadata and ACL loops.
type SharedState struct {
	lock  sync.Mutex
	state *proto.TrackerState
}

func NewSharedState(ctx context.Context, eng *engine.Engine) (*SharedState, error) {
	st, err := eng.TrackerInitialState(ctx)
	if err != nil {
		return nil, err
	}
	return &SharedState{state: st}, nil
}

// begin advances the cycle watermarks and returns a copy to work from.
func (s *SharedState) begin(ctx context.Context, eng *engine.Engine) proto.TrackerState {
	s.lock.Lock()
	defer s.lock.Unlock()
	eng.ContinueState(ctx, s.state)
	return *s.state
}

func (s *SharedState) recordTx(txID, commitTime int64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if commitTime > s.state.LastIndexedTxCommitTime ||
		(commitTime == s.state.LastIndexedTxCommitTime && txID > s.state.LastIndexedTxID) {
		s.state.LastIndexedTxID = txID
		s.state.LastIndexedTxCommitTime = commitTime
	}
}

func (s *SharedState) recordChangeSet(id, commitTime int64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if commitTime > s.state.LastIndexedChangeSetCommitTime ||
		(commitTime == s.state.LastIndexedChangeSetCommitTime && id > s.state.LastIndexedChangeSetID) {
		s.state.LastIndexedChangeSetID = id
		s.state.LastIndexedChangeSetCommitTime = commitTime
	}
}
