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

package memindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	apierrors "github.com/openindex/indexsync/errors"
	"github.com/openindex/indexsync/index"
	"github.com/openindex/indexsync/proto"
)

func nodeDoc(dbID int64) *proto.Doc {
	return &proto.Doc{
		ID:   proto.NodeDocID(proto.DefaultTenant, 1, dbID),
		Type: proto.DocTypeNode,
		DBID: dbID,
		TxID: dbID * 10,
	}
}

func TestCommitMakesDocsVisible(t *testing.T) {
	ctx := context.Background()
	idx := New()

	require.NoError(t, idx.Add(ctx, nodeDoc(1)))
	require.Equal(t, 1, idx.PendingCount())

	s, err := idx.Searcher()
	require.NoError(t, err)
	_, err = s.Get(proto.NodeDocID(proto.DefaultTenant, 1, 1))
	require.ErrorIs(t, err, apierrors.ErrDocDoesNotExist)
	require.NoError(t, s.Close())

	require.NoError(t, idx.Commit(ctx))
	require.Zero(t, idx.PendingCount())

	s, err = idx.Searcher()
	require.NoError(t, err)
	defer s.Close()
	doc, err := s.Get(proto.NodeDocID(proto.DefaultTenant, 1, 1))
	require.NoError(t, err)
	require.Equal(t, int64(1), doc.DBID)
}

func TestRollbackDiscardsPending(t *testing.T) {
	ctx := context.Background()
	idx := New()

	require.NoError(t, idx.Add(ctx, nodeDoc(1)))
	require.NoError(t, idx.Rollback(ctx))
	require.Zero(t, idx.PendingCount())

	require.NoError(t, idx.Commit(ctx))
	s, err := idx.Searcher()
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Count(index.Query{Type: proto.DocTypeNode})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDeleteByQueryOrdering(t *testing.T) {
	ctx := context.Background()
	idx := New()

	require.NoError(t, idx.Add(ctx, nodeDoc(1)))
	require.NoError(t, idx.Commit(ctx))

	// delete-then-add inside one commit replaces the document
	require.NoError(t, idx.Delete(ctx, index.Query{Type: proto.DocTypeNode, IntField: proto.FieldDBID, Min: 1, Max: 1}))
	updated := nodeDoc(1)
	updated.Name = "renamed"
	require.NoError(t, idx.Add(ctx, updated))
	require.NoError(t, idx.Commit(ctx))

	s, err := idx.Searcher()
	require.NoError(t, err)
	defer s.Close()
	docs, err := s.Search(index.Query{Type: proto.DocTypeNode}, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "renamed", docs[0].Name)
}

func TestSearcherSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	idx := New()

	require.NoError(t, idx.Add(ctx, nodeDoc(1)))
	require.NoError(t, idx.Commit(ctx))

	s, err := idx.Searcher()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, idx.Add(ctx, nodeDoc(2)))
	require.NoError(t, idx.Commit(ctx))

	// the old snapshot still sees exactly one doc
	n, err := s.Count(index.Query{Type: proto.DocTypeNode})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	s2, err := idx.Searcher()
	require.NoError(t, err)
	defer s2.Close()
	n, err = s2.Count(index.Query{Type: proto.DocTypeNode})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestSearcherRefCounting(t *testing.T) {
	idx := New()
	require.Equal(t, int32(1), idx.SnapshotRefs())

	s, err := idx.Searcher()
	require.NoError(t, err)
	require.Equal(t, int32(2), idx.SnapshotRefs())

	require.NoError(t, s.Close())
	require.Equal(t, int32(1), idx.SnapshotRefs())

	require.ErrorIs(t, s.Close(), apierrors.ErrSearcherClosed)
}

func TestRangeAndFacetQueries(t *testing.T) {
	ctx := context.Background()
	idx := New()

	for _, dbID := range []int64{1, 2, 3, 7} {
		require.NoError(t, idx.Add(ctx, nodeDoc(dbID)))
	}
	dup := nodeDoc(2)
	dup.ID = "dup!2"
	require.NoError(t, idx.Add(ctx, dup))
	require.NoError(t, idx.Commit(ctx))

	s, err := idx.Searcher()
	require.NoError(t, err)
	defer s.Close()

	n, err := s.Count(index.Query{Type: proto.DocTypeNode, IntField: proto.FieldDBID, Min: 2, Max: 3})
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	max, ok := s.MaxInt64(index.Query{Type: proto.DocTypeNode}, proto.FieldDBID)
	require.True(t, ok)
	require.Equal(t, int64(7), max)

	min, ok := s.MinInt64(index.Query{Type: proto.DocTypeNode}, proto.FieldDBID)
	require.True(t, ok)
	require.Equal(t, int64(1), min)

	counts, err := s.FacetCounts(index.Query{Type: proto.DocTypeNode}, proto.FieldDBID, 2)
	require.NoError(t, err)
	require.Equal(t, map[int64]int64{2: 2}, counts)
}

func TestFTSStatusQuery(t *testing.T) {
	ctx := context.Background()
	idx := New()

	clean := nodeDoc(1)
	clean.FTSStatus = proto.FTSClean
	dirty := nodeDoc(2)
	dirty.FTSStatus = proto.FTSDirty
	require.NoError(t, idx.Add(ctx, clean))
	require.NoError(t, idx.Add(ctx, dirty))
	require.NoError(t, idx.Commit(ctx))

	s, err := idx.Searcher()
	require.NoError(t, err)
	defer s.Close()

	docs, err := s.Search(index.Query{Type: proto.DocTypeNode, FTSAny: []proto.FTSStatus{proto.FTSNew, proto.FTSDirty}}, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, int64(2), docs[0].DBID)
}

func TestTextQuery(t *testing.T) {
	ctx := context.Background()
	idx := New()

	named := nodeDoc(1)
	named.Name = "quarterly report"
	body := nodeDoc(2)
	body.Content = "the report body"
	other := nodeDoc(3)
	other.Name = "meeting notes"
	require.NoError(t, idx.Add(ctx, named))
	require.NoError(t, idx.Add(ctx, body))
	require.NoError(t, idx.Add(ctx, other))
	require.NoError(t, idx.Commit(ctx))

	s, err := idx.Searcher()
	require.NoError(t, err)
	defer s.Close()

	docs, err := s.Search(index.Query{Type: proto.DocTypeNode, Text: "report"}, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, int64(1), docs[0].DBID)
	require.Equal(t, int64(2), docs[1].DBID)
}
