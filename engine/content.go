package engine

import (
	"context"
	"sort"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/openindex/indexsync/index"
	"github.com/openindex/indexsync/proto"
)

const (
	transformStatusOK     = "TRANSFORM_OK"
	transformStatusFailed = "TRANSFORM_FAILED"
)

// DocsWithUncleanContent locates the nodes whose content still needs
// harvesting: it finds the lowest transaction id among Dirty/New
// documents not already harvested, collects the bounded set of
// transaction ids following it and returns the matching node triples.
// Returned transactions are recorded in the harvested cache so repeated
// scans do not re-surface them before the retention purge.
func (e *Engine) DocsWithUncleanContent(ctx context.Context) ([]proto.TenantDbID, error) {
	e.caches.purgeStaleCleanContent(nowMs())

	s, err := e.idx.Searcher()
	if err != nil {
		return nil, err
	}
	defer s.Close()

	docs, err := s.Search(index.Query{
		Type:   proto.DocTypeNode,
		FTSAny: []proto.FTSStatus{proto.FTSNew, proto.FTSDirty},
	}, 0)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	txIDs := make([]int64, 0)
	for _, doc := range docs {
		if seen[doc.TxID] || e.caches.cleanContent.Contains(doc.TxID) {
			continue
		}
		seen[doc.TxID] = true
		txIDs = append(txIDs, doc.TxID)
	}
	if len(txIDs) == 0 {
		return nil, nil
	}

	// bounded window starting at the lowest unharvested transaction
	sort.Slice(txIDs, func(i, j int) bool { return txIDs[i] < txIDs[j] })
	if len(txIDs) > e.cfg.ContentBatchTxns {
		txIDs = txIDs[:e.cfg.ContentBatchTxns]
	}
	window := make(map[int64]bool, len(txIDs))
	for _, id := range txIDs {
		window[id] = true
	}

	ret := make([]proto.TenantDbID, 0, len(docs))
	for _, doc := range docs {
		if !window[doc.TxID] {
			continue
		}
		ret = append(ret, proto.TenantDbID{Tenant: doc.Tenant, AclID: doc.AclID, DbID: doc.DBID})
	}

	now := nowMs()
	for _, id := range txIDs {
		e.caches.cleanContent.Add(id, now)
	}
	return ret, nil
}

// UpdateContentToIndexAndCache harvests the text of a single node under
// its per-node lock, records transformation metadata, marks the document
// Clean and writes it back to both the cache and the index.
func (e *Engine) UpdateContentToIndexAndCache(ctx context.Context, t proto.TenantDbID) error {
	span := trace.SpanFromContextSafe(ctx)

	done, err := e.beginWrite(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := e.locks.acquire(ctx, t.DbID); err != nil {
		return errors.Info(err, "node", t.DbID)
	}
	defer e.locks.release(t.DbID)

	doc, err := e.store.Get(ctx, t.Tenant, t.DbID)
	if err != nil {
		return err
	}
	if doc == nil {
		// no cached copy: fall back to the committed document
		s, err := e.idx.Searcher()
		if err != nil {
			return err
		}
		doc, err = s.Get(proto.NodeDocID(t.Tenant, t.AclID, t.DbID))
		s.Close()
		if err != nil {
			return errors.Info(err, "no document to harvest content for", t.String())
		}
	}

	start := time.Now()
	text, err := e.repo.TextContent(ctx, t.DbID, doc.ContentID)
	if err != nil {
		span.Warnf("content transform for node %d failed: %s", t.DbID, err)
		doc.TransformStatus = transformStatusFailed
		doc.TransformError = err.Error()
	} else {
		doc.TransformStatus = transformStatusOK
		doc.TransformError = ""
		doc.Content = text
	}
	doc.TransformDurationMs = time.Since(start).Milliseconds()
	doc.FTSStatus = proto.FTSClean

	if err := e.idx.Delete(ctx, index.Query{Type: proto.DocTypeNode, ID: doc.ID}); err != nil {
		return err
	}
	if err := e.idx.Add(ctx, doc); err != nil {
		return errors.Info(err, "re-add harvested document failed")
	}
	if err := e.store.Put(ctx, t.Tenant, t.DbID, doc); err != nil {
		return errors.Info(err, "cache harvested document failed")
	}
	e.metrics.ContentHarvests.Inc()
	return nil
}
