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

// Package memindex is an in-memory index.Engine used by tests and
// single-process deployments.
package memindex

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cubefs/cubefs/util/btree"

	apierrors "github.com/openindex/indexsync/errors"
	"github.com/openindex/indexsync/index"
	"github.com/openindex/indexsync/proto"
)

const treeDegree = 32

type (
	Index struct {
		lock    sync.Mutex
		current *snapshot
		pending []op
	}

	op struct {
		add    *proto.Doc
		delete *index.Query
	}

	// snapshot is an immutable committed view shared by searchers via
	// reference counting.
	snapshot struct {
		docs map[string]*proto.Doc
		tree *btree.BTree
		refs int32
	}

	searcher struct {
		snap   *snapshot
		closed bool
	}

	docItem struct {
		doc *proto.Doc
	}
)

func (i *docItem) Less(than btree.Item) bool {
	other := than.(*docItem)
	if i.doc.DBID != other.doc.DBID {
		return i.doc.DBID < other.doc.DBID
	}
	return i.doc.ID < other.doc.ID
}

func (i *docItem) Copy() btree.Item {
	return &docItem{doc: i.doc}
}

func New() *Index {
	return &Index{current: newSnapshot(nil)}
}

func newSnapshot(docs map[string]*proto.Doc) *snapshot {
	if docs == nil {
		docs = make(map[string]*proto.Doc)
	}
	tree := btree.New(treeDegree)
	for _, doc := range docs {
		tree.ReplaceOrInsert(&docItem{doc: doc})
	}
	// base reference held by the engine until the next commit
	return &snapshot{docs: docs, tree: tree, refs: 1}
}

func (s *snapshot) acquire() { atomic.AddInt32(&s.refs, 1) }

func (s *snapshot) release() { atomic.AddInt32(&s.refs, -1) }

func (x *Index) Add(ctx context.Context, doc *proto.Doc) error {
	cp := *doc
	x.lock.Lock()
	x.pending = append(x.pending, op{add: &cp})
	x.lock.Unlock()
	return nil
}

func (x *Index) Delete(ctx context.Context, q index.Query) error {
	x.lock.Lock()
	x.pending = append(x.pending, op{delete: &q})
	x.lock.Unlock()
	return nil
}

func (x *Index) Commit(ctx context.Context) error {
	x.lock.Lock()
	defer x.lock.Unlock()

	if len(x.pending) == 0 {
		return nil
	}

	docs := make(map[string]*proto.Doc, len(x.current.docs))
	for k, v := range x.current.docs {
		docs[k] = v
	}
	for _, o := range x.pending {
		if o.add != nil {
			docs[o.add.ID] = o.add
			continue
		}
		for id, doc := range docs {
			if matches(doc, *o.delete) {
				delete(docs, id)
			}
		}
	}
	x.pending = x.pending[:0]

	old := x.current
	x.current = newSnapshot(docs)
	old.release()
	return nil
}

func (x *Index) Rollback(ctx context.Context) error {
	x.lock.Lock()
	x.pending = x.pending[:0]
	x.lock.Unlock()
	return nil
}

func (x *Index) Searcher() (index.Searcher, error) {
	x.lock.Lock()
	snap := x.current
	snap.acquire()
	x.lock.Unlock()
	return &searcher{snap: snap}, nil
}

func (x *Index) Close() {}

// PendingCount is exposed for tests instrumenting commit behaviour.
func (x *Index) PendingCount() int {
	x.lock.Lock()
	defer x.lock.Unlock()
	return len(x.pending)
}

// SnapshotRefs is exposed for tests asserting searcher release.
func (x *Index) SnapshotRefs() int32 {
	x.lock.Lock()
	defer x.lock.Unlock()
	return atomic.LoadInt32(&x.current.refs)
}

func (s *searcher) Get(id string) (*proto.Doc, error) {
	if s.closed {
		return nil, apierrors.ErrSearcherClosed
	}
	doc, ok := s.snap.docs[id]
	if !ok {
		return nil, apierrors.ErrDocDoesNotExist
	}
	cp := *doc
	return &cp, nil
}

func (s *searcher) Search(q index.Query, limit int) (ret []*proto.Doc, err error) {
	if s.closed {
		return nil, apierrors.ErrSearcherClosed
	}
	s.snap.tree.Ascend(func(i btree.Item) bool {
		doc := i.(*docItem).doc
		if !matches(doc, q) {
			return true
		}
		cp := *doc
		ret = append(ret, &cp)
		return limit <= 0 || len(ret) < limit
	})
	return ret, nil
}

func (s *searcher) Count(q index.Query) (int64, error) {
	if s.closed {
		return 0, apierrors.ErrSearcherClosed
	}
	var n int64
	s.snap.tree.Ascend(func(i btree.Item) bool {
		if matches(i.(*docItem).doc, q) {
			n++
		}
		return true
	})
	return n, nil
}

func (s *searcher) FacetCounts(q index.Query, field string, min int64) (map[int64]int64, error) {
	if s.closed {
		return nil, apierrors.ErrSearcherClosed
	}
	counts := make(map[int64]int64)
	s.snap.tree.Ascend(func(i btree.Item) bool {
		doc := i.(*docItem).doc
		if !matches(doc, q) {
			return true
		}
		if v, ok := doc.Int64Field(field); ok {
			counts[v]++
		}
		return true
	})
	for v, c := range counts {
		if c < min {
			delete(counts, v)
		}
	}
	return counts, nil
}

func (s *searcher) MaxInt64(q index.Query, field string) (max int64, ok bool) {
	s.scan(q, field, func(v int64) {
		if !ok || v > max {
			max, ok = v, true
		}
	})
	return
}

func (s *searcher) MinInt64(q index.Query, field string) (min int64, ok bool) {
	s.scan(q, field, func(v int64) {
		if !ok || v < min {
			min, ok = v, true
		}
	})
	return
}

func (s *searcher) scan(q index.Query, field string, visit func(int64)) {
	if s.closed {
		return
	}
	s.snap.tree.Ascend(func(i btree.Item) bool {
		doc := i.(*docItem).doc
		if !matches(doc, q) {
			return true
		}
		if v, ok := doc.Int64Field(field); ok {
			visit(v)
		}
		return true
	})
}

func (s *searcher) Close() error {
	if s.closed {
		return apierrors.ErrSearcherClosed
	}
	s.closed = true
	s.snap.release()
	return nil
}

func matches(doc *proto.Doc, q index.Query) bool {
	if q.Type != 0 && doc.Type != q.Type {
		return false
	}
	if q.ID != "" && doc.ID != q.ID {
		return false
	}
	if q.IntField != "" {
		v, ok := doc.Int64Field(q.IntField)
		if !ok || v < q.Min || v > q.Max {
			return false
		}
	}
	if q.AncestorEq != "" {
		found := false
		for _, a := range doc.Ancestors {
			if a == q.AncestorEq {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.ParentEq != "" {
		found := false
		for _, p := range doc.ParentAssocs {
			if p == q.ParentEq {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(q.FTSAny) > 0 {
		found := false
		for _, st := range q.FTSAny {
			if doc.FTSStatus == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Text != "" && !strings.Contains(doc.Name, q.Text) && !strings.Contains(doc.Content, q.Text) {
		return false
	}
	return true
}
