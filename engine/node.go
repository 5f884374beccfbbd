package engine

import (
	"context"
	"runtime/debug"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"

	apierrors "github.com/openindex/indexsync/errors"
	"github.com/openindex/indexsync/index"
	"github.com/openindex/indexsync/proto"
	"github.com/openindex/indexsync/util"
)

// IndexNode processes one repository node event. The index stays
// consistent even under partial failure: a failed build/write replaces
// the node with an ErrorNode document.
func (e *Engine) IndexNode(ctx context.Context, node *proto.Node, overwrite bool) error {
	done, err := e.beginWrite(ctx)
	if err != nil {
		return err
	}
	defer done()

	return e.indexNode(ctx, node, overwrite, true)
}

// IndexNodes processes a batch. If the bulk path fails the batch degrades
// to one-node-at-a-time processing instead of aborting.
func (e *Engine) IndexNodes(ctx context.Context, nodes []*proto.Node, overwrite bool, cascade bool) error {
	span := trace.SpanFromContextSafe(ctx)

	done, err := e.beginWrite(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := e.bulkIndexNodes(ctx, nodes, overwrite, cascade); err == nil {
		return nil
	} else {
		span.Warnf("bulk indexing failed, falling back to one node at a time: %s", errors.Detail(err))
	}

	for _, node := range nodes {
		if err := e.indexNode(ctx, node, overwrite, cascade); err != nil {
			span.Errorf("index node %d failed: %s", node.ID, errors.Detail(err))
		}
	}
	return nil
}

func (e *Engine) bulkIndexNodes(ctx context.Context, nodes []*proto.Node, overwrite bool, cascade bool) error {
	for _, node := range nodes {
		if err := e.indexNode(ctx, node, overwrite, cascade); err != nil {
			return err
		}
	}
	return nil
}

// indexNode serializes on the node lock, never on unrelated nodes.
func (e *Engine) indexNode(ctx context.Context, node *proto.Node, overwrite bool, cascade bool) error {
	span := trace.SpanFromContextSafe(ctx)

	if err := e.locks.acquire(ctx, node.ID); err != nil {
		return errors.Info(err, "node", node.ID)
	}
	defer e.locks.release(node.ID)

	switch node.Status {
	case proto.NodeStatusDeleted, proto.NodeStatusShardDeleted, proto.NodeStatusShardUpdated:
		return e.deleteNodeLocked(ctx, node)
	case proto.NodeStatusUnknown:
		// an unknown node is deleted first and reindexed below if the
		// repository still knows it
		if err := e.deleteNodeLocked(ctx, node); err != nil {
			return err
		}
	case proto.NodeStatusUpdated:
	default:
		return nil
	}

	if err := e.updateNodeLocked(ctx, node, overwrite, cascade); err != nil {
		span.Errorf("updating node %d failed, recording error document: %s", node.ID, errors.Detail(err))
		e.recordErrorNodeLocked(ctx, node, err)
	}
	return nil
}

// deleteNodeLocked removes the cached document, the content-store entry
// and every index document recorded for the node id, error docs included.
func (e *Engine) deleteNodeLocked(ctx context.Context, node *proto.Node) error {
	if err := e.store.Delete(ctx, node.Tenant, node.ID); err != nil {
		return errors.Info(err, "purge cached document failed")
	}
	return e.deleteDocsByNodeID(ctx, node.ID)
}

func (e *Engine) deleteDocsByNodeID(ctx context.Context, dbID int64) error {
	// covers Node, UnindexedNode and ErrorNode documents of the id
	for _, t := range []proto.DocType{proto.DocTypeNode, proto.DocTypeUnindexedNode, proto.DocTypeErrorNode} {
		if err := e.idx.Delete(ctx, index.Query{Type: t, IntField: proto.FieldDBID, Min: dbID, Max: dbID}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) updateNodeLocked(ctx context.Context, node *proto.Node, overwrite bool, cascade bool) error {
	span := trace.SpanFromContextSafe(ctx)

	md, err := e.repo.NodeMetaData(ctx, node.ID)
	if err != nil {
		return errors.Info(err, "fetch node metadata failed")
	}
	if md == nil {
		// node no longer exists in the repository
		return e.deleteNodeLocked(ctx, node)
	}

	// a newer transaction owns this node now; it will be reprocessed by
	// its own transaction. Events without a transaction (retry, admin
	// reindex) always rebuild.
	if node.TxID > 0 && md.TxID > node.TxID {
		span.Debugf("skipping node %d: metadata tx %d ahead of event tx %d", node.ID, md.TxID, node.TxID)
		return nil
	}

	if !md.IsIndexed {
		placeholder := &proto.Doc{
			ID:     proto.NodeDocID(md.Tenant, md.AclID, md.ID),
			Type:   proto.DocTypeUnindexedNode,
			DBID:   md.ID,
			TxID:   md.TxID,
			AclID:  md.AclID,
			Tenant: md.Tenant,
		}
		if overwrite {
			if err := e.deleteDocsByNodeID(ctx, md.ID); err != nil {
				return err
			}
		}
		return e.idx.Add(ctx, placeholder)
	}

	doc, cached, err := e.buildNodeDoc(ctx, md)
	if err != nil {
		return err
	}

	// overwrite purges every document of the id first; callers asserting
	// the node is new to the index skip the purge
	if overwrite {
		if err := e.deleteDocsByNodeID(ctx, md.ID); err != nil {
			return err
		}
	}
	if err := e.idx.Add(ctx, doc); err != nil {
		return errors.Info(err, "add node document failed")
	}
	if err := e.store.Put(ctx, md.Tenant, md.ID, doc); err != nil {
		return errors.Info(err, "cache node document failed")
	}
	e.metrics.NodesIndexed.Inc()

	// a changed parent-association checksum on a previously indexed node
	// means its path moved: patch descendants
	if cascade && cached != nil && cached.ParentAssocCRC != doc.ParentAssocCRC {
		if err := e.cascadeByPath(ctx, md); err != nil {
			span.Errorf("path cascade for node %d failed: %s", md.ID, errors.Detail(err))
		}
	}
	return nil
}

// buildNodeDoc derives the index document from metadata and settles the
// content-freshness state against the cached copy.
func (e *Engine) buildNodeDoc(ctx context.Context, md *proto.NodeMetaData) (doc, cached *proto.Doc, err error) {
	doc = &proto.Doc{
		ID:             proto.NodeDocID(md.Tenant, md.AclID, md.ID),
		Type:           proto.DocTypeNode,
		DBID:           md.ID,
		TxID:           md.TxID,
		AclID:          md.AclID,
		Tenant:         md.Tenant,
		NodeRef:        md.NodeRef,
		NodeType:       md.Type,
		Aspects:        md.Aspects,
		Name:           md.Name,
		Paths:          md.Paths,
		Ancestors:      md.Ancestors,
		ParentAssocs:   md.ParentAssocs,
		ParentAssocCRC: util.CRCStrings(md.ParentAssocs),
		Owner:          md.Owner,
		Properties:     md.Properties,
		ContentID:      md.ContentID,
	}

	cached, err = e.store.Get(ctx, md.Tenant, md.ID)
	if err != nil {
		return nil, nil, errors.Info(err, "read cached document failed")
	}

	switch {
	case e.cfg.DisableContentIndexing:
		doc.FTSStatus = proto.FTSClean
	case cached == nil:
		doc.FTSStatus = proto.FTSNew
	case cached.ContentID != md.ContentID:
		doc.FTSStatus = proto.FTSDirty
	default:
		// content id unchanged: carry the harvested state over
		doc.FTSStatus = cached.FTSStatus
		doc.Content = cached.Content
		doc.TransformStatus = cached.TransformStatus
		doc.TransformError = cached.TransformError
		doc.TransformDurationMs = cached.TransformDurationMs
	}
	return doc, cached, nil
}

// recordErrorNodeLocked replaces whatever was indexed for the node with an
// ErrorNode placeholder carrying the failure. Not retried automatically;
// surfaced via ErrorDocIDs / RETRY.
func (e *Engine) recordErrorNodeLocked(ctx context.Context, node *proto.Node, cause error) {
	span := trace.SpanFromContextSafe(ctx)

	stack := string(debug.Stack())
	if len(stack) > defaultStackTraceLimit {
		stack = stack[:defaultStackTraceLimit]
	}

	if err := e.deleteDocsByNodeID(ctx, node.ID); err != nil {
		span.Errorf("purge before error doc for node %d failed: %s", node.ID, err)
	}
	errDoc := &proto.Doc{
		ID:           proto.ErrorDocID(node.ID),
		Type:         proto.DocTypeErrorNode,
		DBID:         node.ID,
		TxID:         node.TxID,
		Tenant:       node.Tenant,
		ErrorMessage: cause.Error(),
		StackTrace:   stack,
	}
	if err := e.idx.Add(ctx, errDoc); err != nil {
		span.Errorf("add error doc for node %d failed: %s", node.ID, err)
		return
	}
	e.metrics.NodeErrors.Inc()
}

// DeleteByNodeID removes a node from tracking and index.
func (e *Engine) DeleteByNodeID(ctx context.Context, tenant string, dbID int64) error {
	done, err := e.beginWrite(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := e.locks.acquire(ctx, dbID); err != nil {
		return err
	}
	defer e.locks.release(dbID)

	if err := e.store.Delete(ctx, tenant, dbID); err != nil {
		return err
	}
	return e.deleteDocsByNodeID(ctx, dbID)
}

// ReindexNodesByQuery rebuilds every node whose committed document
// matches the free-text term, returning the node ids re-queued.
func (e *Engine) ReindexNodesByQuery(ctx context.Context, text string) ([]int64, error) {
	s, err := e.idx.Searcher()
	if err != nil {
		return nil, err
	}
	docs, err := s.Search(index.Query{Type: proto.DocTypeNode, Text: text}, 0)
	s.Close()
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(docs))
	for _, doc := range docs {
		node := &proto.Node{ID: doc.DBID, Tenant: doc.Tenant, Status: proto.NodeStatusUnknown}
		if err := e.IndexNode(ctx, node, true); err != nil {
			return nil, err
		}
		ids = append(ids, doc.DBID)
	}
	return ids, nil
}

// ErrorDocIDs returns the node ids currently recorded as ErrorNode, for
// the RETRY maintenance operation.
func (e *Engine) ErrorDocIDs(ctx context.Context) ([]int64, error) {
	s, err := e.idx.Searcher()
	if err != nil {
		return nil, err
	}
	defer s.Close()

	docs, err := s.Search(index.Query{Type: proto.DocTypeErrorNode}, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.DBID)
	}
	return ids, nil
}

// GetNodeDoc reads the committed document of a node id, whatever its
// type, for NODEREPORT.
func (e *Engine) GetNodeDoc(ctx context.Context, tenant string, aclID, dbID int64) (*proto.Doc, error) {
	s, err := e.idx.Searcher()
	if err != nil {
		return nil, err
	}
	defer s.Close()

	for _, t := range []proto.DocType{proto.DocTypeNode, proto.DocTypeUnindexedNode, proto.DocTypeErrorNode} {
		docs, err := s.Search(index.Query{Type: t, IntField: proto.FieldDBID, Min: dbID, Max: dbID}, 1)
		if err != nil {
			return nil, err
		}
		if len(docs) > 0 {
			return docs[0], nil
		}
	}
	return nil, apierrors.ErrDocDoesNotExist
}
