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

package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openindex/indexsync/contentstore"
	apierrors "github.com/openindex/indexsync/errors"
	"github.com/openindex/indexsync/index"
	"github.com/openindex/indexsync/index/memindex"
	"github.com/openindex/indexsync/proto"
	"github.com/openindex/indexsync/util"
)

type fakeRepo struct {
	lock sync.Mutex

	metadata   map[int64]*proto.NodeMetaData
	txns       []*proto.Transaction
	txNodes    map[int64][]*proto.Node
	changeSets []*proto.AclChangeSet
	acls       map[int64][]*proto.Acl
	readers    map[int64]*proto.AclReaders
	content    map[int64]string
	contentErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		metadata: make(map[int64]*proto.NodeMetaData),
		txNodes:  make(map[int64][]*proto.Node),
		acls:     make(map[int64][]*proto.Acl),
		readers:  make(map[int64]*proto.AclReaders),
		content:  make(map[int64]string),
	}
}

func (r *fakeRepo) Transactions(ctx context.Context, fromCommitTime, minTxID int64, maxResults int) ([]*proto.Transaction, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	ret := []*proto.Transaction{}
	for _, tx := range r.txns {
		if tx.CommitTime < fromCommitTime || tx.ID < minTxID {
			continue
		}
		ret = append(ret, tx)
		if maxResults > 0 && len(ret) >= maxResults {
			break
		}
	}
	return ret, nil
}

func (r *fakeRepo) Nodes(ctx context.Context, txIDs []int64, maxResults int) ([]*proto.Node, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	ret := []*proto.Node{}
	for _, id := range txIDs {
		ret = append(ret, r.txNodes[id]...)
	}
	return ret, nil
}

func (r *fakeRepo) NodeMetaData(ctx context.Context, dbID int64) (*proto.NodeMetaData, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.metadata[dbID], nil
}

func (r *fakeRepo) AclChangeSets(ctx context.Context, fromCommitTime, minID int64, maxResults int) ([]*proto.AclChangeSet, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	ret := []*proto.AclChangeSet{}
	for _, cs := range r.changeSets {
		if cs.CommitTime < fromCommitTime || cs.ID < minID {
			continue
		}
		ret = append(ret, cs)
	}
	return ret, nil
}

func (r *fakeRepo) Acls(ctx context.Context, changeSetIDs []int64) ([]*proto.Acl, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	ret := []*proto.Acl{}
	for _, id := range changeSetIDs {
		ret = append(ret, r.acls[id]...)
	}
	return ret, nil
}

func (r *fakeRepo) AclReaders(ctx context.Context, aclIDs []int64) ([]*proto.AclReaders, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	ret := []*proto.AclReaders{}
	for _, id := range aclIDs {
		if rd, ok := r.readers[id]; ok {
			ret = append(ret, rd)
		}
	}
	return ret, nil
}

func (r *fakeRepo) TextContent(ctx context.Context, dbID, contentID int64) (string, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.contentErr != nil {
		return "", r.contentErr
	}
	return r.content[dbID], nil
}

func (r *fakeRepo) addMetadata(md *proto.NodeMetaData) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.metadata[md.ID] = md
}

func newTestEngine(t *testing.T, cfg *Config) (*Engine, *fakeRepo, *memindex.Index) {
	ctx := context.Background()

	path, err := util.GenTmpPath()
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(path) })

	store, err := contentstore.NewStore(ctx, &contentstore.Config{Path: path, KVType: "memory"})
	require.NoError(t, err)

	if cfg == nil {
		cfg = &Config{}
	}
	repo := newFakeRepo()
	idx := memindex.New()
	eng := NewEngine(ctx, cfg, idx, repo, store)
	t.Cleanup(eng.Close)
	return eng, repo, idx
}

func metadataFor(dbID, txID, contentID int64) *proto.NodeMetaData {
	return &proto.NodeMetaData{
		ID:           dbID,
		NodeRef:      fmt.Sprintf("workspace://n%d", dbID),
		TxID:         txID,
		AclID:        1,
		Tenant:       proto.DefaultTenant,
		Type:         "cm:content",
		Name:         "doc",
		Paths:        []string{"/root/n"},
		Ancestors:    []string{"root"},
		ParentAssocs: []string{"root"},
		ContentID:    contentID,
		IsIndexed:    true,
	}
}

func searchNode(t *testing.T, idx *memindex.Index, dbID int64) []*proto.Doc {
	s, err := idx.Searcher()
	require.NoError(t, err)
	defer s.Close()
	docs, err := s.Search(index.Query{Type: proto.DocTypeNode, IntField: proto.FieldDBID, Min: dbID, Max: dbID}, 0)
	require.NoError(t, err)
	return docs
}

func TestIndexNodeSingleLiveDoc(t *testing.T) {
	ctx := context.Background()
	eng, repo, idx := newTestEngine(t, nil)

	repo.addMetadata(metadataFor(100, 5, 1))
	node := &proto.Node{ID: 100, TxID: 5, Status: proto.NodeStatusUpdated, Tenant: proto.DefaultTenant}

	// repeated indexing must never accumulate documents
	for i := 0; i < 3; i++ {
		require.NoError(t, eng.IndexNode(ctx, node, true))
		require.NoError(t, eng.Commit(ctx))
	}

	docs := searchNode(t, idx, 100)
	require.Len(t, docs, 1)
	require.Equal(t, proto.FTSNew, docs[0].FTSStatus)
	require.Equal(t, int64(5), docs[0].TxID)
}

func TestIndexNodeSkipsNewerMetadata(t *testing.T) {
	ctx := context.Background()
	eng, repo, idx := newTestEngine(t, nil)

	// metadata already owned by tx 9, event from tx 5
	repo.addMetadata(metadataFor(100, 9, 1))
	node := &proto.Node{ID: 100, TxID: 5, Status: proto.NodeStatusUpdated, Tenant: proto.DefaultTenant}

	require.NoError(t, eng.IndexNode(ctx, node, true))
	require.NoError(t, eng.Commit(ctx))

	require.Empty(t, searchNode(t, idx, 100))
}

func TestIndexNodeUnindexedPlaceholder(t *testing.T) {
	ctx := context.Background()
	eng, repo, idx := newTestEngine(t, nil)

	md := metadataFor(100, 5, 1)
	md.IsIndexed = false
	repo.addMetadata(md)

	node := &proto.Node{ID: 100, TxID: 5, Status: proto.NodeStatusUpdated, Tenant: proto.DefaultTenant}
	require.NoError(t, eng.IndexNode(ctx, node, true))
	require.NoError(t, eng.Commit(ctx))

	require.Empty(t, searchNode(t, idx, 100))

	doc, err := eng.GetNodeDoc(ctx, proto.DefaultTenant, 1, 100)
	require.NoError(t, err)
	require.Equal(t, proto.DocTypeUnindexedNode, doc.Type)
}

func TestIndexNodeDeleteRemovesEverything(t *testing.T) {
	ctx := context.Background()
	eng, repo, idx := newTestEngine(t, nil)

	repo.addMetadata(metadataFor(100, 5, 1))
	node := &proto.Node{ID: 100, TxID: 5, Status: proto.NodeStatusUpdated, Tenant: proto.DefaultTenant}
	require.NoError(t, eng.IndexNode(ctx, node, true))
	require.NoError(t, eng.Commit(ctx))
	require.Len(t, searchNode(t, idx, 100), 1)

	del := &proto.Node{ID: 100, TxID: 6, Status: proto.NodeStatusDeleted, Tenant: proto.DefaultTenant}
	require.NoError(t, eng.IndexNode(ctx, del, true))
	require.NoError(t, eng.Commit(ctx))

	require.Empty(t, searchNode(t, idx, 100))
	cached, err := eng.store.Get(ctx, proto.DefaultTenant, 100)
	require.NoError(t, err)
	require.Nil(t, cached)
}

func TestContentLifecycle(t *testing.T) {
	ctx := context.Background()
	eng, repo, idx := newTestEngine(t, nil)

	repo.addMetadata(metadataFor(100, 5, 1))
	repo.lock.Lock()
	repo.content[100] = "the quick brown fox"
	repo.lock.Unlock()

	node := &proto.Node{ID: 100, TxID: 5, Status: proto.NodeStatusUpdated, Tenant: proto.DefaultTenant}
	require.NoError(t, eng.IndexNode(ctx, node, true))
	require.NoError(t, eng.Commit(ctx))

	// new document shows up as unclean
	targets, err := eng.DocsWithUncleanContent(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 1)

	require.NoError(t, eng.UpdateContentToIndexAndCache(ctx, targets[0]))
	require.NoError(t, eng.Commit(ctx))

	docs := searchNode(t, idx, 100)
	require.Len(t, docs, 1)
	require.Equal(t, proto.FTSClean, docs[0].FTSStatus)
	require.Equal(t, "the quick brown fox", docs[0].Content)
	require.Equal(t, "TRANSFORM_OK", docs[0].TransformStatus)

	// unchanged content id carries Clean over on reindex
	require.NoError(t, eng.IndexNode(ctx, node, true))
	require.NoError(t, eng.Commit(ctx))
	docs = searchNode(t, idx, 100)
	require.Len(t, docs, 1)
	require.Equal(t, proto.FTSClean, docs[0].FTSStatus)
	require.Equal(t, "the quick brown fox", docs[0].Content)

	// changed content id flips the document to Dirty
	repo.addMetadata(metadataFor(100, 6, 2))
	node.TxID = 6
	require.NoError(t, eng.IndexNode(ctx, node, true))
	require.NoError(t, eng.Commit(ctx))
	docs = searchNode(t, idx, 100)
	require.Len(t, docs, 1)
	require.Equal(t, proto.FTSDirty, docs[0].FTSStatus)
}

func TestContentIndexingDisabled(t *testing.T) {
	ctx := context.Background()
	eng, repo, idx := newTestEngine(t, &Config{DisableContentIndexing: true})

	repo.addMetadata(metadataFor(100, 5, 1))
	node := &proto.Node{ID: 100, TxID: 5, Status: proto.NodeStatusUpdated, Tenant: proto.DefaultTenant}
	require.NoError(t, eng.IndexNode(ctx, node, true))
	require.NoError(t, eng.Commit(ctx))

	docs := searchNode(t, idx, 100)
	require.Len(t, docs, 1)
	require.Equal(t, proto.FTSClean, docs[0].FTSStatus)

	targets, err := eng.DocsWithUncleanContent(ctx)
	require.NoError(t, err)
	require.Empty(t, targets)
}

func TestStateMarkerOrdering(t *testing.T) {
	ctx := context.Background()
	eng, _, idx := newTestEngine(t, nil)

	// the newer (commitTime, id) pair must win regardless of write order
	require.NoError(t, eng.IndexTransaction(ctx, &proto.Transaction{ID: 2, CommitTime: 2000}))
	require.NoError(t, eng.IndexTransaction(ctx, &proto.Transaction{ID: 1, CommitTime: 1000}))
	require.NoError(t, eng.Commit(ctx))

	s, err := idx.Searcher()
	require.NoError(t, err)
	defer s.Close()
	marker, err := s.Get(proto.TxStateDocID)
	require.NoError(t, err)
	require.Equal(t, int64(2), marker.TxID)
	require.Equal(t, int64(2000), marker.TxCommitTime)
}

func TestRollbackInvalidatesWriters(t *testing.T) {
	ctx := context.Background()
	eng, repo, _ := newTestEngine(t, nil)

	repo.addMetadata(metadataFor(100, 5, 1))
	tracked := eng.RegisterTrackerThread(ctx)
	defer eng.UnregisterTrackerThread(tracked)

	node := &proto.Node{ID: 100, TxID: 5, Status: proto.NodeStatusUpdated, Tenant: proto.DefaultTenant}
	require.NoError(t, eng.IndexNode(tracked, node, true))

	require.NoError(t, eng.Rollback(ctx))

	err := eng.IndexNode(tracked, node, true)
	require.ErrorIs(t, err, apierrors.ErrRolledBack)

	// an unregistered caller is unmanaged and may proceed
	require.NoError(t, eng.IndexNode(ctx, node, true))
}

func TestErrorNodeAndRetry(t *testing.T) {
	ctx := context.Background()
	eng, repo, idx := newTestEngine(t, nil)

	// drive the error-document path directly
	node := &proto.Node{ID: 100, TxID: 5, Status: proto.NodeStatusUpdated, Tenant: proto.DefaultTenant}
	require.NoError(t, eng.locks.acquire(ctx, node.ID))
	eng.recordErrorNodeLocked(ctx, node, apierrors.ErrDocDoesNotExist)
	eng.locks.release(node.ID)
	require.NoError(t, eng.Commit(ctx))

	ids, err := eng.ErrorDocIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{100}, ids)

	// retry with the repository now knowing the node replaces the error doc
	repo.addMetadata(metadataFor(100, 5, 1))
	retried, err := eng.RetryErrorNodes(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{100}, retried)
	require.NoError(t, eng.Commit(ctx))

	ids, err = eng.ErrorDocIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)
	require.Len(t, searchNode(t, idx, 100), 1)
}

func TestIndexNodeOverwriteFlag(t *testing.T) {
	ctx := context.Background()
	eng, repo, idx := newTestEngine(t, nil)

	repo.addMetadata(metadataFor(100, 5, 1))
	node := &proto.Node{ID: 100, TxID: 5, Status: proto.NodeStatusUpdated, Tenant: proto.DefaultTenant}

	// seed a stale error document for the id
	require.NoError(t, eng.locks.acquire(ctx, node.ID))
	eng.recordErrorNodeLocked(ctx, node, apierrors.ErrDocDoesNotExist)
	eng.locks.release(node.ID)
	require.NoError(t, eng.Commit(ctx))

	// without overwrite the caller asserts the node is new to the index,
	// so nothing is purged first
	require.NoError(t, eng.IndexNode(ctx, node, false))
	require.NoError(t, eng.Commit(ctx))
	ids, err := eng.ErrorDocIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{100}, ids)
	require.Len(t, searchNode(t, idx, 100), 1)

	// overwrite purges every document of the id before adding
	require.NoError(t, eng.IndexNode(ctx, node, true))
	require.NoError(t, eng.Commit(ctx))
	ids, err = eng.ErrorDocIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)
	require.Len(t, searchNode(t, idx, 100), 1)
}

func TestPurgeTransactionSweepsPlaceholders(t *testing.T) {
	ctx := context.Background()
	eng, _, idx := newTestEngine(t, nil)

	require.NoError(t, eng.IndexTransaction(ctx, &proto.Transaction{ID: 5, CommitTime: 1000}))
	node := &proto.Node{ID: 100, TxID: 5, Status: proto.NodeStatusUpdated, Tenant: proto.DefaultTenant}
	require.NoError(t, eng.locks.acquire(ctx, node.ID))
	eng.recordErrorNodeLocked(ctx, node, apierrors.ErrDocDoesNotExist)
	eng.locks.release(node.ID)
	require.NoError(t, eng.Commit(ctx))

	require.NoError(t, eng.DeleteByTransactionID(ctx, 5))
	require.NoError(t, eng.Commit(ctx))

	s, err := idx.Searcher()
	require.NoError(t, err)
	defer s.Close()
	for _, typ := range []proto.DocType{proto.DocTypeTx, proto.DocTypeNode, proto.DocTypeErrorNode, proto.DocTypeUnindexedNode} {
		n, err := s.Count(index.Query{Type: typ, IntField: proto.FieldTxID, Min: 5, Max: 5})
		require.NoError(t, err)
		require.Zero(t, n)
	}
}

func TestReindexAclChangeSet(t *testing.T) {
	ctx := context.Background()
	eng, repo, idx := newTestEngine(t, nil)

	repo.lock.Lock()
	repo.changeSets = []*proto.AclChangeSet{{ID: 3, CommitTime: 3000}}
	repo.acls[3] = []*proto.Acl{{ID: 7, ChangeSetID: 3, Tenant: proto.DefaultTenant}}
	repo.readers[7] = &proto.AclReaders{AclID: 7, Readers: []string{"alice"}, Tenant: proto.DefaultTenant}
	repo.lock.Unlock()

	require.NoError(t, eng.ReindexAclChangeSet(ctx, 3))
	require.NoError(t, eng.Commit(ctx))

	in, err := eng.AclChangeSetInIndex(ctx, 3, false)
	require.NoError(t, err)
	require.True(t, in)

	s, err := idx.Searcher()
	require.NoError(t, err)
	defer s.Close()
	acl, err := s.Get(proto.AclDocID(proto.DefaultTenant, 7))
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, acl.Readers)

	// a change-set the repository no longer knows is skipped, not an error
	require.NoError(t, eng.ReindexAclChangeSet(ctx, 99))
}

func TestReindexNodesByQuery(t *testing.T) {
	ctx := context.Background()
	eng, repo, idx := newTestEngine(t, nil)

	mdA := metadataFor(100, 5, 1)
	mdA.Name = "quarterly report"
	repo.addMetadata(mdA)
	mdB := metadataFor(101, 5, 1)
	mdB.Name = "meeting notes"
	repo.addMetadata(mdB)

	for _, id := range []int64{100, 101} {
		node := &proto.Node{ID: id, TxID: 5, Status: proto.NodeStatusUpdated, Tenant: proto.DefaultTenant}
		require.NoError(t, eng.IndexNode(ctx, node, true))
	}
	require.NoError(t, eng.Commit(ctx))

	// the matching node's metadata moved on since it was indexed
	mdA2 := metadataFor(100, 8, 2)
	mdA2.Name = "quarterly report"
	repo.addMetadata(mdA2)

	ids, err := eng.ReindexNodesByQuery(ctx, "report")
	require.NoError(t, err)
	require.Equal(t, []int64{100}, ids)
	require.NoError(t, eng.Commit(ctx))

	// a forced reindex drops the cached copy, so content is harvested anew
	docs := searchNode(t, idx, 100)
	require.Len(t, docs, 1)
	require.Equal(t, int64(8), docs[0].TxID)
	require.Equal(t, proto.FTSNew, docs[0].FTSStatus)
}

func TestTxnInIndexAndClear(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t, nil)

	in, err := eng.TxnInIndex(ctx, 7, true)
	require.NoError(t, err)
	require.False(t, in)

	require.NoError(t, eng.IndexTransaction(ctx, &proto.Transaction{ID: 7, CommitTime: 1000}))
	require.NoError(t, eng.Commit(ctx))

	in, err = eng.TxnInIndex(ctx, 7, true)
	require.NoError(t, err)
	require.True(t, in)
	require.True(t, eng.caches.txInIndex.Contains(7))

	eng.ClearProcessedTransactions(ctx)
	require.False(t, eng.caches.txInIndex.Contains(7))
}

func TestCascadesPendingFlag(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t, nil)

	tx := &proto.Transaction{ID: 7, CommitTime: 1000}
	require.NoError(t, eng.IndexTransaction(ctx, tx))
	require.NoError(t, eng.Commit(ctx))

	pending, err := eng.Cascades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, int64(7), pending[0].ID)

	require.NoError(t, eng.MarkCascadeComplete(ctx, tx))
	require.NoError(t, eng.Commit(ctx))

	pending, err = eng.Cascades(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}
