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

// Package health reconciles the index against repository-supplied id
// sets to find duplicates, holes and out-of-sync counts. All checks are
// read-only against the index.
package health

import (
	"context"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/openindex/indexsync/index"
	"github.com/openindex/indexsync/proto"
)

// defaultBatchSize is tuned to the numeric-field precision step of the
// underlying index.
const defaultBatchSize = 1024

// DriftVisitor receives reconciliation findings. One implementation per
// report kind (transactions vs ACL change-sets).
type DriftVisitor interface {
	IDInIndexNotDB(id int64)
	IDInDBNotIndex(id int64)
	DuplicateID(id int64)
	UniqueID(id int64)
}

// Reconcile compares the repository bitset against the index facet
// counts of field over docs of docType, batched over id ranges.
func Reconcile(ctx context.Context, s index.Searcher, docType proto.DocType, field string, dbIDs *roaring64.Bitmap, v DriftVisitor) error {
	maxID := int64(0)
	if !dbIDs.IsEmpty() {
		maxID = int64(dbIDs.Maximum())
	}
	if idxMax, ok := s.MaxInt64(index.Query{Type: docType}, field); ok && idxMax > maxID {
		maxID = idxMax
	}

	for lo := int64(1); lo <= maxID; lo += defaultBatchSize {
		hi := lo + defaultBatchSize - 1
		if hi > maxID {
			hi = maxID
		}
		counts, err := s.FacetCounts(index.Query{Type: docType, IntField: field, Min: lo, Max: hi}, field, 1)
		if err != nil {
			return err
		}
		for id := lo; id <= hi; id++ {
			inDB := dbIDs.Contains(uint64(id))
			c := counts[id]
			switch {
			case c == 0 && inDB:
				// walk the implied gap
				v.IDInDBNotIndex(id)
			case c > 0 && !inDB:
				v.IDInIndexNotDB(id)
			}
			if c > 1 {
				v.DuplicateID(id)
			}
			if c >= 1 {
				v.UniqueID(id)
			}
		}
	}
	return nil
}

// reportVisitor aggregates findings into an IndexHealthReport.
type reportVisitor struct {
	report *proto.IndexHealthReport
}

func (r *reportVisitor) IDInIndexNotDB(id int64) {
	r.report.TxInIndexButNotInDb = append(r.report.TxInIndexButNotInDb, id)
}

func (r *reportVisitor) IDInDBNotIndex(id int64) {
	r.report.MissingTxFromIndex = append(r.report.MissingTxFromIndex, id)
}

func (r *reportVisitor) DuplicateID(id int64) {
	r.report.DuplicatedTxInIndex = append(r.report.DuplicatedTxInIndex, id)
}

func (r *reportVisitor) UniqueID(id int64) {
	r.report.UniqueTransactionsInIndex++
}

// ReportTransactions builds the transaction drift report.
func ReportTransactions(ctx context.Context, s index.Searcher, dbTxIDs *roaring64.Bitmap) (*proto.IndexHealthReport, error) {
	return report(ctx, s, proto.DocTypeTx, proto.FieldTxID, dbTxIDs)
}

// ReportAclChangeSets builds the ACL change-set drift report.
func ReportAclChangeSets(ctx context.Context, s index.Searcher, dbChangeSetIDs *roaring64.Bitmap) (*proto.IndexHealthReport, error) {
	return report(ctx, s, proto.DocTypeAclTx, proto.FieldAclTxID, dbChangeSetIDs)
}

func report(ctx context.Context, s index.Searcher, docType proto.DocType, field string, dbIDs *roaring64.Bitmap) (*proto.IndexHealthReport, error) {
	rep := &proto.IndexHealthReport{DbTransactionCount: int64(dbIDs.GetCardinality())}

	docCount, err := s.Count(index.Query{Type: docType})
	if err != nil {
		return nil, err
	}
	rep.TransactionDocsInIndex = docCount

	v := &reportVisitor{report: rep}
	if err := Reconcile(ctx, s, docType, field, dbIDs, v); err != nil {
		return nil, err
	}

	// duplicate leaf/error/unindexed documents, facet minimum 2
	dupChecks := []struct {
		docType proto.DocType
		sink    *[]int64
	}{
		{proto.DocTypeNode, &rep.DuplicatedLeafInIndex},
		{proto.DocTypeErrorNode, &rep.DuplicatedErrorInIndex},
		{proto.DocTypeUnindexedNode, &rep.DuplicatedUnindexedInIndex},
	}
	for _, check := range dupChecks {
		counts, err := s.FacetCounts(index.Query{Type: check.docType}, proto.FieldDBID, 2)
		if err != nil {
			return nil, err
		}
		for id := range counts {
			*check.sink = append(*check.sink, id)
		}
	}
	return rep, nil
}
