package engine

import (
	"context"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/openindex/indexsync/errors"
	"github.com/openindex/indexsync/proto"
)

// State markers record the maximum transaction / ACL change-set confirmed
// indexed. Writes are ordered by (commit time, id) with optimistic
// concurrency: a stale writer is silently dropped.

func (e *Engine) writeTxStateMarker(ctx context.Context, txID, commitTime int64) error {
	return e.writeStateMarker(ctx, proto.TxStateDocID, txID, commitTime)
}

func (e *Engine) writeAclTxStateMarker(ctx context.Context, changeSetID, commitTime int64) error {
	return e.writeStateMarker(ctx, proto.AclTxStateDocID, changeSetID, commitTime)
}

func (e *Engine) writeStateMarker(ctx context.Context, docID string, id, commitTime int64) error {
	span := trace.SpanFromContextSafe(ctx)

	e.stateLock.Lock()
	defer e.stateLock.Unlock()

	// uncommitted marker writes of the current cycle shadow the committed
	// document
	cur := e.pendingMarkers[docID]
	if cur == nil {
		var err error
		cur, err = e.getStateMarker(docID)
		if err != nil && err != apierrors.ErrDocDoesNotExist {
			return err
		}
	}

	var version uint64
	if cur != nil {
		curID, curTime := markerValues(cur)
		if commitTime < curTime || (commitTime == curTime && id <= curID) {
			span.Debugf("skipping stale state marker write %s (%d,%d) <= (%d,%d)", docID, commitTime, id, curTime, curID)
			return nil
		}
		version = cur.Version
	}

	doc := &proto.Doc{ID: docID, Type: proto.DocTypeState, Version: version + 1}
	if docID == proto.TxStateDocID {
		doc.TxID, doc.TxCommitTime = id, commitTime
	} else {
		doc.AclTxID, doc.AclTxCommitTime = id, commitTime
	}
	if err := e.idx.Add(ctx, doc); err != nil {
		return err
	}
	e.pendingMarkers[docID] = doc
	return nil
}

func markerValues(doc *proto.Doc) (id, commitTime int64) {
	if doc.ID == proto.TxStateDocID {
		return doc.TxID, doc.TxCommitTime
	}
	return doc.AclTxID, doc.AclTxCommitTime
}

// getStateMarker reads the committed marker; pending writes of the
// current cycle are reconciled through stateLock, matching how the
// version token serializes concurrent trackers.
func (e *Engine) getStateMarker(docID string) (*proto.Doc, error) {
	s, err := e.idx.Searcher()
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Get(docID)
}

// TrackerInitialState computes the resume state fresh on startup.
func (e *Engine) TrackerInitialState(ctx context.Context) (*proto.TrackerState, error) {
	state := &proto.TrackerState{}

	if txMarker, err := e.getStateMarker(proto.TxStateDocID); err == nil {
		state.LastIndexedTxID = txMarker.TxID
		state.LastIndexedTxCommitTime = txMarker.TxCommitTime
	} else if err != apierrors.ErrDocDoesNotExist {
		return nil, err
	}

	if aclMarker, err := e.getStateMarker(proto.AclTxStateDocID); err == nil {
		state.LastIndexedChangeSetID = aclMarker.AclTxID
		state.LastIndexedChangeSetCommitTime = aclMarker.AclTxCommitTime
	} else if err != apierrors.ErrDocDoesNotExist {
		return nil, err
	}

	now := nowMs()
	state.TrackerStartTime = now
	state.TimeBeforeWhichThereCanBeNoHoles = now - e.cfg.HoleRetentionMs
	state.LastGoodTxCommitTime = floorZero(state.LastIndexedTxCommitTime - e.cfg.HoleRetentionMs)
	state.LastGoodChangeSetCommitTime = floorZero(state.LastIndexedChangeSetCommitTime - e.cfg.HoleRetentionMs)
	return state, nil
}

// ContinueState advances watermarks at the start of a tracking cycle,
// taking the larger of the marker-derived and last-start-derived lower
// bounds so trackers resume from a hole-free position.
func (e *Engine) ContinueState(ctx context.Context, state *proto.TrackerState) {
	now := nowMs()
	state.LastTrackerStartTime = state.TrackerStartTime
	state.TrackerStartTime = now
	state.TimeBeforeWhichThereCanBeNoHoles = now - e.cfg.HoleRetentionMs

	// the last-start bound only applies once something was indexed; a
	// fresh index must scan from the beginning of the log
	txLow := state.LastIndexedTxCommitTime - e.cfg.HoleRetentionMs
	if fromStart := state.LastTrackerStartTime - e.cfg.HoleRetentionMs; state.LastIndexedTxCommitTime > 0 && fromStart > txLow {
		txLow = fromStart
	}
	state.LastGoodTxCommitTime = floorZero(txLow)

	aclLow := state.LastIndexedChangeSetCommitTime - e.cfg.HoleRetentionMs
	if fromStart := state.LastTrackerStartTime - e.cfg.HoleRetentionMs; state.LastIndexedChangeSetCommitTime > 0 && fromStart > aclLow {
		aclLow = fromStart
	}
	state.LastGoodChangeSetCommitTime = floorZero(aclLow)
}

func floorZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
