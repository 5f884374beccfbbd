package engine

import (
	"context"
	"strings"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/openindex/indexsync/index"
	"github.com/openindex/indexsync/proto"
	"github.com/openindex/indexsync/util"
)

// Cascading update propagation: when a node's path, name or ancestor set
// changes, every indexed descendant document is patched to the new
// path/name/ancestor fields without re-running metadata extraction over
// the whole subtree.

// lineage is the slice of a node's identity a descendant inherits.
type lineage struct {
	ref       string
	name      string
	txID      int64
	paths     []string
	ancestors []string
}

func lineageOf(md *proto.NodeMetaData) *lineage {
	return &lineage{
		ref:       md.NodeRef,
		name:      md.Name,
		txID:      md.TxID,
		paths:     md.Paths,
		ancestors: md.Ancestors,
	}
}

// cascadeByPath walks the subtree child-wise, patching each cached
// descendant document in place. The visited set is the explicit traversal
// stack; a ref already on it means a cycle, which is logged, not fatal.
func (e *Engine) cascadeByPath(ctx context.Context, md *proto.NodeMetaData) error {
	visited := map[string]bool{md.NodeRef: true}
	return e.cascadeChildren(ctx, lineageOf(md), visited)
}

func (e *Engine) cascadeChildren(ctx context.Context, parent *lineage, visited map[string]bool) error {
	span := trace.SpanFromContextSafe(ctx)

	s, err := e.idx.Searcher()
	if err != nil {
		return err
	}
	children, err := s.Search(index.Query{Type: proto.DocTypeNode, ParentEq: parent.ref}, 0)
	s.Close()
	if err != nil {
		return err
	}

	for _, child := range children {
		if visited[child.NodeRef] {
			span.Warnf("cycle detected in descendant traversal at %s, skipping", child.NodeRef)
			continue
		}

		patched, err := e.patchDescendant(ctx, parent, child)
		if err != nil {
			span.Errorf("cascade of descendant %d failed: %s", child.DBID, errors.Detail(err))
			continue
		}
		if patched == nil {
			continue
		}

		visited[child.NodeRef] = true
		if err := e.cascadeChildren(ctx, &lineage{
			ref:       patched.NodeRef,
			name:      patched.Name,
			txID:      parent.txID,
			paths:     patched.Paths,
			ancestors: patched.Ancestors,
		}, visited); err != nil {
			return err
		}
		delete(visited, child.NodeRef)
	}
	return nil
}

// CascadeTransaction runs the flag-driven strategy for one
// cascade-pending transaction: every node of the transaction carrying a
// cascade token has its indexed descendants patched, then the pending
// flag is cleared.
func (e *Engine) CascadeTransaction(ctx context.Context, tx *proto.Transaction) error {
	span := trace.SpanFromContextSafe(ctx)

	done, err := e.beginWrite(ctx)
	if err != nil {
		return err
	}
	defer done()

	nodes, err := e.repo.Nodes(ctx, []int64{tx.ID}, 0)
	if err != nil {
		return errors.Info(err, "fetch nodes of cascade tx failed", tx.ID)
	}

	for _, node := range nodes {
		if node.Status != proto.NodeStatusUpdated {
			continue
		}
		md, err := e.repo.NodeMetaData(ctx, node.ID)
		if err != nil {
			span.Warnf("cascade metadata fetch for node %d failed: %s", node.ID, err)
			continue
		}
		if md == nil || md.CascadeToken == 0 {
			continue
		}
		if err := e.cascadeFlagged(ctx, md); err != nil {
			span.Errorf("flag cascade for node %d failed: %s", md.ID, errors.Detail(err))
		}
	}
	return nil
}

// cascadeFlagged finds candidates with a direct ancestor search and
// patches every descendant whose own transaction is strictly older than
// the trigger's. Descendants in the current or a newer transaction are
// left for their own explicit update.
func (e *Engine) cascadeFlagged(ctx context.Context, md *proto.NodeMetaData) error {
	s, err := e.idx.Searcher()
	if err != nil {
		return err
	}
	descendants, err := s.Search(index.Query{Type: proto.DocTypeNode, AncestorEq: md.NodeRef}, 0)
	s.Close()
	if err != nil {
		return err
	}

	parent := lineageOf(md)
	for _, desc := range descendants {
		if desc.TxID >= md.TxID {
			continue
		}
		if _, err := e.patchDescendant(ctx, parent, desc); err != nil {
			return err
		}
	}
	return nil
}

// patchDescendant rewrites one descendant's path/name/ancestor fields
// under its node lock and writes the result through cache and index. A
// descendant without a cached document is rebuilt from scratch; if the
// rebuild yields nothing the stale index entry is deleted and nil is
// returned.
func (e *Engine) patchDescendant(ctx context.Context, parent *lineage, desc *proto.Doc) (*proto.Doc, error) {
	if err := e.locks.acquire(ctx, desc.DBID); err != nil {
		return nil, err
	}
	defer e.locks.release(desc.DBID)

	cached, err := e.store.Get(ctx, desc.Tenant, desc.DBID)
	if err != nil {
		return nil, err
	}

	if cached == nil {
		return e.rebuildDescendant(ctx, desc)
	}

	cached.Ancestors = spliceAncestors(parent.ref, parent.ancestors, cached.Ancestors)
	cached.Paths = splicePaths(parent.ref, parent.paths, cached.Paths)
	cached.ParentAssocCRC = util.CRCStrings(cached.ParentAssocs)

	if err := e.idx.Delete(ctx, index.Query{Type: proto.DocTypeNode, ID: cached.ID}); err != nil {
		return nil, err
	}
	if err := e.idx.Add(ctx, cached); err != nil {
		return nil, err
	}
	if err := e.store.Put(ctx, desc.Tenant, desc.DBID, cached); err != nil {
		return nil, err
	}
	e.metrics.Cascades.Inc()
	return cached, nil
}

func (e *Engine) rebuildDescendant(ctx context.Context, desc *proto.Doc) (*proto.Doc, error) {
	md, err := e.repo.NodeMetaData(ctx, desc.DBID)
	if err != nil {
		return nil, err
	}
	if md == nil {
		// the node no longer exists, drop the stale entry
		if err := e.deleteDocsByNodeID(ctx, desc.DBID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	doc, _, err := e.buildNodeDoc(ctx, md)
	if err != nil {
		return nil, err
	}
	if err := e.deleteDocsByNodeID(ctx, md.ID); err != nil {
		return nil, err
	}
	if err := e.idx.Add(ctx, doc); err != nil {
		return nil, err
	}
	if err := e.store.Put(ctx, md.Tenant, md.ID, doc); err != nil {
		return nil, err
	}
	e.metrics.Cascades.Inc()
	return doc, nil
}

// spliceAncestors replaces everything up to and including the trigger ref
// with the trigger's fresh ancestor chain.
func spliceAncestors(triggerRef string, triggerAncestors, descAncestors []string) []string {
	at := -1
	for i, ref := range descAncestors {
		if ref == triggerRef {
			at = i
			break
		}
	}
	if at < 0 {
		return descAncestors
	}
	out := make([]string, 0, len(triggerAncestors)+1+len(descAncestors)-at-1)
	out = append(out, triggerAncestors...)
	out = append(out, triggerRef)
	out = append(out, descAncestors[at+1:]...)
	return out
}

// splicePaths rewrites descendant paths through the trigger's primary
// path. Paths are id chains, so the trigger ref is locatable as a
// segment.
func splicePaths(triggerRef string, triggerPaths, descPaths []string) []string {
	if len(triggerPaths) == 0 {
		return descPaths
	}
	primary := triggerPaths[0]
	seg := "/" + triggerRef

	out := make([]string, len(descPaths))
	for i, p := range descPaths {
		at := strings.Index(p, seg)
		if at < 0 {
			out[i] = p
			continue
		}
		out[i] = primary + p[at+len(seg):]
	}
	return out
}
