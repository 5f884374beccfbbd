package engine

import (
	"context"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/openindex/indexsync/health"
	"github.com/openindex/indexsync/index"
	"github.com/openindex/indexsync/proto"
)

// ReportIndexTransactions reconciles the transaction documents of the
// index against the repository transaction log, starting at
// fromCommitTime. maxResults <= 0 means unbounded.
func (e *Engine) ReportIndexTransactions(ctx context.Context, fromCommitTime int64, maxResults int) (*proto.IndexHealthReport, error) {
	txns, err := e.repo.Transactions(ctx, fromCommitTime, 0, maxResults)
	if err != nil {
		return nil, errors.Info(err, "fetch repository transactions failed")
	}
	ids := roaring64.New()
	for _, tx := range txns {
		ids.Add(uint64(tx.ID))
	}

	s, err := e.idx.Searcher()
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return health.ReportTransactions(ctx, s, ids)
}

// ReportAclTransactions reconciles the ACL change-set documents against
// the repository, starting at fromCommitTime.
func (e *Engine) ReportAclTransactions(ctx context.Context, fromCommitTime int64, maxResults int) (*proto.IndexHealthReport, error) {
	sets, err := e.repo.AclChangeSets(ctx, fromCommitTime, 0, maxResults)
	if err != nil {
		return nil, errors.Info(err, "fetch repository acl change sets failed")
	}
	ids := roaring64.New()
	for _, cs := range sets {
		ids.Add(uint64(cs.ID))
	}

	s, err := e.idx.Searcher()
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return health.ReportAclChangeSets(ctx, s, ids)
}

// NodeReport describes the indexed footprint of one node id.
type NodeReport struct {
	DbID          int64  `json:"db_id"`
	TxID          int64  `json:"tx_id,omitempty"`
	LeafDocs      int64  `json:"leaf_docs"`
	UnindexedDocs int64  `json:"unindexed_docs"`
	ErrorDocs     int64  `json:"error_docs"`
	FTSStatus     string `json:"fts_status,omitempty"`
	Cached        bool   `json:"cached"`
}

// ReportNode inspects every document type a node id can appear under.
func (e *Engine) ReportNode(ctx context.Context, tenant string, dbID int64) (*NodeReport, error) {
	s, err := e.idx.Searcher()
	if err != nil {
		return nil, err
	}
	defer s.Close()

	rep := &NodeReport{DbID: dbID}
	counts := []struct {
		docType proto.DocType
		sink    *int64
	}{
		{proto.DocTypeNode, &rep.LeafDocs},
		{proto.DocTypeUnindexedNode, &rep.UnindexedDocs},
		{proto.DocTypeErrorNode, &rep.ErrorDocs},
	}
	for _, c := range counts {
		n, err := s.Count(index.Query{Type: c.docType, IntField: proto.FieldDBID, Min: dbID, Max: dbID})
		if err != nil {
			return nil, err
		}
		*c.sink = n
	}

	if docs, err := s.Search(index.Query{Type: proto.DocTypeNode, IntField: proto.FieldDBID, Min: dbID, Max: dbID}, 1); err == nil && len(docs) > 0 {
		rep.TxID = docs[0].TxID
		rep.FTSStatus = docs[0].FTSStatus.String()
	}

	cached, err := e.store.Get(ctx, tenant, dbID)
	if err != nil {
		return nil, err
	}
	rep.Cached = cached != nil
	return rep, nil
}
