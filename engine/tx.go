package engine

import (
	"context"

	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/openindex/indexsync/index"
	"github.com/openindex/indexsync/proto"
)

// IndexTransaction writes the Tx document, flags it cascade-pending and
// advances the transaction state marker.
func (e *Engine) IndexTransaction(ctx context.Context, tx *proto.Transaction) error {
	done, err := e.beginWrite(ctx)
	if err != nil {
		return err
	}
	defer done()

	doc := &proto.Doc{
		ID:           proto.TxDocID(tx.ID),
		Type:         proto.DocTypeTx,
		TxID:         tx.ID,
		TxCommitTime: tx.CommitTime,
		CascadeFlag:  1,
	}
	if err := e.idx.Add(ctx, doc); err != nil {
		return errors.Info(err, "add tx document failed")
	}
	return e.writeTxStateMarker(ctx, tx.ID, tx.CommitTime)
}

// IndexAclTransaction writes the AclTx document and advances the ACL
// change-set state marker.
func (e *Engine) IndexAclTransaction(ctx context.Context, changeSet *proto.AclChangeSet) error {
	done, err := e.beginWrite(ctx)
	if err != nil {
		return err
	}
	defer done()

	doc := &proto.Doc{
		ID:              proto.AclTxDocID(changeSet.ID),
		Type:            proto.DocTypeAclTx,
		AclTxID:         changeSet.ID,
		AclTxCommitTime: changeSet.CommitTime,
	}
	if err := e.idx.Add(ctx, doc); err != nil {
		return errors.Info(err, "add acl tx document failed")
	}
	return e.writeAclTxStateMarker(ctx, changeSet.ID, changeSet.CommitTime)
}

// IndexAcl writes one Acl document per reader set.
func (e *Engine) IndexAcl(ctx context.Context, readers []*proto.AclReaders) error {
	done, err := e.beginWrite(ctx)
	if err != nil {
		return err
	}
	defer done()

	for _, r := range readers {
		doc := &proto.Doc{
			ID:      proto.AclDocID(r.Tenant, r.AclID),
			Type:    proto.DocTypeAcl,
			AclID:   r.AclID,
			Tenant:  r.Tenant,
			Readers: r.Readers,
			Denied:  r.Denied,
		}
		if err := e.idx.Add(ctx, doc); err != nil {
			return errors.Info(err, "add acl document failed")
		}
	}
	return nil
}

func (e *Engine) DeleteByTransactionID(ctx context.Context, txID int64) error {
	done, err := e.beginWrite(ctx)
	if err != nil {
		return err
	}
	defer done()

	e.caches.txInIndex.Remove(txID)
	e.caches.cleanContent.Remove(txID)
	e.caches.cascade.Remove(txID)

	if err := e.idx.Delete(ctx, index.Query{Type: proto.DocTypeTx, IntField: proto.FieldTxID, Min: txID, Max: txID}); err != nil {
		return err
	}
	// every node-derived document of the transaction goes, placeholders
	// included
	for _, t := range []proto.DocType{proto.DocTypeNode, proto.DocTypeUnindexedNode, proto.DocTypeErrorNode} {
		if err := e.idx.Delete(ctx, index.Query{Type: t, IntField: proto.FieldTxID, Min: txID, Max: txID}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) DeleteByAclChangeSetID(ctx context.Context, changeSetID int64) error {
	done, err := e.beginWrite(ctx)
	if err != nil {
		return err
	}
	defer done()

	e.caches.aclTxInIndex.Remove(changeSetID)
	return e.idx.Delete(ctx, index.Query{Type: proto.DocTypeAclTx, IntField: proto.FieldAclTxID, Min: changeSetID, Max: changeSetID})
}

func (e *Engine) DeleteByAclID(ctx context.Context, aclID int64) error {
	done, err := e.beginWrite(ctx)
	if err != nil {
		return err
	}
	defer done()

	return e.idx.Delete(ctx, index.Query{Type: proto.DocTypeAcl, IntField: proto.FieldAclID, Min: aclID, Max: aclID})
}

// TxnInIndex answers whether the transaction's document is committed,
// optionally recording a positive answer in the freshness cache.
func (e *Engine) TxnInIndex(ctx context.Context, txID int64, populateCache bool) (bool, error) {
	if e.caches.txInIndex.Contains(txID) {
		return true, nil
	}

	s, err := e.idx.Searcher()
	if err != nil {
		return false, err
	}
	defer s.Close()

	n, err := s.Count(index.Query{Type: proto.DocTypeTx, IntField: proto.FieldTxID, Min: txID, Max: txID})
	if err != nil {
		return false, err
	}
	if n > 0 && populateCache {
		e.caches.txInIndex.Add(txID, true)
	}
	return n > 0, nil
}

func (e *Engine) AclChangeSetInIndex(ctx context.Context, changeSetID int64, populateCache bool) (bool, error) {
	if e.caches.aclTxInIndex.Contains(changeSetID) {
		return true, nil
	}

	s, err := e.idx.Searcher()
	if err != nil {
		return false, err
	}
	defer s.Close()

	n, err := s.Count(index.Query{Type: proto.DocTypeAclTx, IntField: proto.FieldAclTxID, Min: changeSetID, Max: changeSetID})
	if err != nil {
		return false, err
	}
	if n > 0 && populateCache {
		e.caches.aclTxInIndex.Add(changeSetID, true)
	}
	return n > 0, nil
}

func (e *Engine) ClearProcessedTransactions(ctx context.Context) {
	e.caches.txInIndex.Purge()
	e.caches.cleanContent.Purge()
	e.caches.cascade.Purge()
}

func (e *Engine) ClearProcessedAclChangeSets(ctx context.Context) {
	e.caches.aclTxInIndex.Purge()
}

// Cascades returns up to limit committed transactions still flagged
// cascade-pending, skipping ones already cascade-processed this epoch.
func (e *Engine) Cascades(ctx context.Context, limit int) ([]*proto.Transaction, error) {
	s, err := e.idx.Searcher()
	if err != nil {
		return nil, err
	}
	defer s.Close()

	docs, err := s.Search(index.Query{Type: proto.DocTypeTx, IntField: proto.FieldCascadeFlag, Min: 1, Max: 1}, 0)
	if err != nil {
		return nil, err
	}

	ret := make([]*proto.Transaction, 0, limit)
	for _, doc := range docs {
		if e.caches.cascade.Contains(doc.TxID) {
			continue
		}
		ret = append(ret, &proto.Transaction{ID: doc.TxID, CommitTime: doc.TxCommitTime})
		if limit > 0 && len(ret) >= limit {
			break
		}
	}
	return ret, nil
}

// MarkCascadeComplete clears the cascade-pending flag once every
// descendant update of the transaction is confirmed done.
func (e *Engine) MarkCascadeComplete(ctx context.Context, tx *proto.Transaction) error {
	done, err := e.beginWrite(ctx)
	if err != nil {
		return err
	}
	defer done()

	doc := &proto.Doc{
		ID:           proto.TxDocID(tx.ID),
		Type:         proto.DocTypeTx,
		TxID:         tx.ID,
		TxCommitTime: tx.CommitTime,
		CascadeFlag:  0,
	}
	if err := e.idx.Add(ctx, doc); err != nil {
		return err
	}
	e.caches.cascade.Add(tx.ID, true)
	return nil
}

// ReindexTransactionNodes re-queues every node of a transaction, used by
// REINDEX and FIX.
func (e *Engine) ReindexTransactionNodes(ctx context.Context, txID int64) error {
	nodes, err := e.repo.Nodes(ctx, []int64{txID}, 0)
	if err != nil {
		return errors.Info(err, "fetch nodes of tx failed", txID)
	}
	return e.IndexNodes(ctx, nodes, true, true)
}

// ReindexAclChangeSet refetches a change-set with its ACLs and reader
// sets from the repository and rewrites their documents, used by REINDEX
// and FIX. A change-set the repository no longer knows is skipped.
func (e *Engine) ReindexAclChangeSet(ctx context.Context, changeSetID int64) error {
	sets, err := e.repo.AclChangeSets(ctx, 0, changeSetID, 1)
	if err != nil {
		return errors.Info(err, "fetch acl change set failed", changeSetID)
	}
	if len(sets) == 0 || sets[0].ID != changeSetID {
		return nil
	}
	cs := sets[0]

	acls, err := e.repo.Acls(ctx, []int64{cs.ID})
	if err != nil {
		return errors.Info(err, "fetch acls failed", cs.ID)
	}
	aclIDs := make([]int64, 0, len(acls))
	for _, acl := range acls {
		aclIDs = append(aclIDs, acl.ID)
	}
	if len(aclIDs) > 0 {
		readers, err := e.repo.AclReaders(ctx, aclIDs)
		if err != nil {
			return errors.Info(err, "fetch acl readers failed")
		}
		if err := e.IndexAcl(ctx, readers); err != nil {
			return err
		}
	}
	return e.IndexAclTransaction(ctx, cs)
}

// ReindexAcl refetches one ACL's reader set and rewrites its document.
func (e *Engine) ReindexAcl(ctx context.Context, aclID int64) error {
	readers, err := e.repo.AclReaders(ctx, []int64{aclID})
	if err != nil {
		return errors.Info(err, "fetch acl readers failed", aclID)
	}
	return e.IndexAcl(ctx, readers)
}

// RetryErrorNodes re-queues every node currently recorded as an
// ErrorNode document.
func (e *Engine) RetryErrorNodes(ctx context.Context) ([]int64, error) {
	ids, err := e.ErrorDocIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, dbID := range ids {
		node := &proto.Node{ID: dbID, Status: proto.NodeStatusUnknown}
		if err := e.IndexNode(ctx, node, true); err != nil {
			return nil, err
		}
	}
	return ids, nil
}
