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

// Package engine is the indexing/consistency core: it turns repository
// node/ACL/transaction events into index mutations while keeping the index
// consistent with the repository.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/openindex/indexsync/client"
	"github.com/openindex/indexsync/contentstore"
	apierrors "github.com/openindex/indexsync/errors"
	"github.com/openindex/indexsync/index"
	"github.com/openindex/indexsync/proto"
)

const (
	defaultHoleRetentionMs          = 3600000
	defaultLockRetryMs              = 1000
	defaultLockTimeoutMs            = 120000
	defaultTxCacheSize              = 250000
	defaultCleanContentCacheSize    = 250000
	defaultCleanContentRetentionMs  = 20 * 60 * 1000
	defaultCleanContentPurgeEveryMs = 2 * 60 * 1000
	defaultContentBatchTxns         = 64
	defaultStackTraceLimit          = 2048
)

type Config struct {
	HoleRetentionMs int64 `json:"hole_retention_ms"`

	LockRetryMs   int64 `json:"lock_retry_ms"`
	LockTimeoutMs int64 `json:"lock_timeout_ms"`

	TxCacheSize              int   `json:"tx_cache_size"`
	AclTxCacheSize           int   `json:"acl_tx_cache_size"`
	CleanContentCacheSize    int   `json:"clean_content_cache_size"`
	CascadeCacheSize         int   `json:"cascade_cache_size"`
	CleanContentRetentionMs  int64 `json:"clean_content_retention_ms"`
	CleanContentPurgeEveryMs int64 `json:"clean_content_purge_every_ms"`

	// ContentBatchTxns bounds how many transactions one unclean-content
	// scan surfaces.
	ContentBatchTxns int `json:"content_batch_txns"`

	// DisableContentIndexing turns content transformation off
	// administratively; node documents are then built Clean.
	DisableContentIndexing bool `json:"disable_content_indexing"`
}

func initConfig(cfg *Config) {
	if cfg.HoleRetentionMs <= 0 {
		cfg.HoleRetentionMs = defaultHoleRetentionMs
	}
	if cfg.LockRetryMs <= 0 {
		cfg.LockRetryMs = defaultLockRetryMs
	}
	if cfg.LockTimeoutMs <= 0 {
		cfg.LockTimeoutMs = defaultLockTimeoutMs
	}
	if cfg.TxCacheSize <= 0 {
		cfg.TxCacheSize = defaultTxCacheSize
	}
	if cfg.AclTxCacheSize <= 0 {
		cfg.AclTxCacheSize = cfg.TxCacheSize
	}
	if cfg.CleanContentCacheSize <= 0 {
		cfg.CleanContentCacheSize = defaultCleanContentCacheSize
	}
	if cfg.CascadeCacheSize <= 0 {
		cfg.CascadeCacheSize = cfg.TxCacheSize
	}
	if cfg.CleanContentRetentionMs <= 0 {
		cfg.CleanContentRetentionMs = defaultCleanContentRetentionMs
	}
	if cfg.CleanContentPurgeEveryMs <= 0 {
		cfg.CleanContentPurgeEveryMs = defaultCleanContentPurgeEveryMs
	}
	if cfg.ContentBatchTxns <= 0 {
		cfg.ContentBatchTxns = defaultContentBatchTxns
	}
}

// Engine is shared by all tracker goroutines of one index core.
type Engine struct {
	cfg Config

	idx   index.Engine
	repo  client.Repository
	store *contentstore.Store

	locks  *lockRegistry
	caches *freshnessCaches

	// commit/rollback gating: ordinary writes run under the read lock and
	// must carry a writer token whose generation is current; rollback
	// takes the write lock and advances the generation.
	gateLock   sync.RWMutex
	generation uint64
	writers    map[uint64]uint64
	writerSeq  uint64

	// serializes read-check-write on the state marker docs;
	// pendingMarkers shadows uncommitted marker writes
	stateLock      sync.Mutex
	pendingMarkers map[string]*proto.Doc

	metrics *Metrics
}

func NewEngine(ctx context.Context, cfg *Config, idx index.Engine, repo client.Repository, store *contentstore.Store) *Engine {
	initConfig(cfg)
	return &Engine{
		cfg:            *cfg,
		idx:            idx,
		repo:           repo,
		store:          store,
		locks:          newLockRegistry(time.Duration(cfg.LockRetryMs)*time.Millisecond, time.Duration(cfg.LockTimeoutMs)*time.Millisecond),
		caches:         newFreshnessCaches(cfg),
		writers:        make(map[uint64]uint64),
		pendingMarkers: make(map[string]*proto.Doc),
		metrics:        newMetrics(),
	}
}

func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

type trackerTokenKey struct{}

type trackerToken struct {
	id uint64
}

// RegisterTrackerThread marks the calling tracker as an active writer for
// the current generation. The returned context must be passed to every
// engine call of the tracking cycle.
func (e *Engine) RegisterTrackerThread(ctx context.Context) context.Context {
	id := atomic.AddUint64(&e.writerSeq, 1)

	e.gateLock.Lock()
	e.writers[id] = e.generation
	e.gateLock.Unlock()

	return context.WithValue(ctx, trackerTokenKey{}, &trackerToken{id: id})
}

func (e *Engine) UnregisterTrackerThread(ctx context.Context) {
	token, ok := ctx.Value(trackerTokenKey{}).(*trackerToken)
	if !ok {
		return
	}
	e.gateLock.Lock()
	delete(e.writers, token.id)
	e.gateLock.Unlock()
}

// canUpdate rejects writers registered before the last rollback. Callers
// without a token (admin, tests) are unmanaged and allowed through.
// Must be called with gateLock held for reading.
func (e *Engine) canUpdate(ctx context.Context) error {
	token, ok := ctx.Value(trackerTokenKey{}).(*trackerToken)
	if !ok {
		return nil
	}
	gen, ok := e.writers[token.id]
	if !ok {
		return apierrors.ErrRolledBack
	}
	if gen != e.generation {
		return apierrors.ErrRolledBack
	}
	return nil
}

// beginWrite gates an ordinary indexing call against commit/rollback.
func (e *Engine) beginWrite(ctx context.Context) (func(), error) {
	e.gateLock.RLock()
	if err := e.canUpdate(ctx); err != nil {
		e.gateLock.RUnlock()
		return nil, err
	}
	return e.gateLock.RUnlock, nil
}

func (e *Engine) Commit(ctx context.Context) error {
	done, err := e.beginWrite(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := e.idx.Commit(ctx); err != nil {
		return errors.Info(err, "index commit failed")
	}
	e.metrics.Commits.Inc()
	return nil
}

// HardCommit flushes both the index and the content store.
func (e *Engine) HardCommit(ctx context.Context) error {
	if err := e.Commit(ctx); err != nil {
		return err
	}
	return e.store.Flush(ctx)
}

// Rollback discards uncommitted index mutations and invalidates every
// registered writer: their next write fails fast with ErrRolledBack.
func (e *Engine) Rollback(ctx context.Context) error {
	span := trace.SpanFromContextSafe(ctx)

	e.gateLock.Lock()
	defer e.gateLock.Unlock()

	e.generation++
	e.writers = make(map[uint64]uint64)

	if err := e.idx.Rollback(ctx); err != nil {
		return errors.Info(err, "index rollback failed")
	}
	e.stateLock.Lock()
	e.pendingMarkers = make(map[string]*proto.Doc)
	e.stateLock.Unlock()
	e.caches.purgeAll()
	e.metrics.Rollbacks.Inc()
	span.Warnf("engine rolled back, generation now %d", e.generation)
	return nil
}

// CapIndex records the id cap of an expanded shard as a state marker.
func (e *Engine) CapIndex(ctx context.Context, maxDbID int64) error {
	done, err := e.beginWrite(ctx)
	if err != nil {
		return err
	}
	defer done()

	return e.idx.Add(ctx, &proto.Doc{
		ID:   indexCapDocID,
		Type: proto.DocTypeState,
		DBID: maxDbID,
	})
}

const indexCapDocID = "TRACKER!STATE!CAP"

func (e *Engine) MaxNodeID(ctx context.Context) (int64, error) {
	s, err := e.idx.Searcher()
	if err != nil {
		return 0, err
	}
	defer s.Close()
	v, _ := s.MaxInt64(index.Query{Type: proto.DocTypeNode}, proto.FieldDBID)
	return v, nil
}

func (e *Engine) MinNodeID(ctx context.Context) (int64, error) {
	s, err := e.idx.Searcher()
	if err != nil {
		return 0, err
	}
	defer s.Close()
	v, _ := s.MinInt64(index.Query{Type: proto.DocTypeNode}, proto.FieldDBID)
	return v, nil
}

func (e *Engine) NodeCount(ctx context.Context) (int64, error) {
	s, err := e.idx.Searcher()
	if err != nil {
		return 0, err
	}
	defer s.Close()
	return s.Count(index.Query{Type: proto.DocTypeNode})
}

func (e *Engine) Close() {
	e.idx.Close()
}
